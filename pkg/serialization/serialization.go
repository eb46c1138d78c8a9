package serialization

import (
	"bytes"
	"fmt"
	"io"
)

const (
	// JSONType represents the serialization type for JSON format.
	JSONType = "json"

	// GobType represents the serialization type for Gob format.
	GobType = "gob"
)

// Decoder is the read side of a serialization format.
type Decoder interface {
	Decode(v any) error
}

// Encoder is the write side of a serialization format.
type Encoder interface {
	Encode(v any) error
}

// Codec pairs an encoder and decoder factory so stores can work with byte slices.
type Codec struct {
	NewEncoder func(io.Writer) Encoder
	NewDecoder func(io.Reader) Decoder
}

// NewCodec returns the Codec for the named type.
func NewCodec(kind string) (Codec, error) {
	switch kind {
	case "", JSONType:
		return Codec{NewEncoder: JSONEncoder, NewDecoder: JSONDecoder}, nil
	case GobType:
		return Codec{NewEncoder: GobEncoder, NewDecoder: GobDecoder}, nil
	default:
		return Codec{}, fmt.Errorf("unsupported serialization type: %s", kind)
	}
}

// Marshal encodes v into a fresh byte slice.
func (c Codec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v.
func (c Codec) Unmarshal(data []byte, v any) error {
	if err := c.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	return nil
}
