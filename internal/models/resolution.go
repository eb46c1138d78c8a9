package models

import (
	"encoding/json"
	"time"
)

const (
	SourceAPI   = "api"
	SourceCache = "cache"
)

// Resolution is both the cached value and the response body of a reference
// lookup.
type Resolution struct {
	Reference  string          `json:"reference"`
	URL        string          `json:"url"`
	IsValid    bool            `json:"isValid"`
	Source     string          `json:"source"`
	CachedAt   time.Time       `json:"cachedAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
	StatusCode int             `json:"statusCode"`
}

// Listing is the subset of the upstream payload used to build listing URLs.
// Raw keeps the payload verbatim for the response.
type Listing struct {
	Raw        json.RawMessage `json:"-"`
	DetailPath string          `json:"detailreq"`
	Type       string          `json:"type"`
	Contract   string          `json:"contract"`
	District   string          `json:"district"`
	City       string          `json:"city"`
	ID         any             `json:"id"`
}
