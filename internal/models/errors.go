package models

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidInput        = errors.New("invalid reference")
	ErrNotFound            = errors.New("reference not found")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamError       = errors.New("upstream error")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrRateLimited         = errors.New("rate limited")
	ErrCancelled           = errors.New("request cancelled")

	ErrSetFailed = errors.New("failed to set cache entry")
)

var notFoundMessage = regexp.MustCompile(`(?i)not available|not found`)

// UpstreamFailure is a structured failure reported by the upstream body
// (status == "fail").
type UpstreamFailure struct {
	Message string
}

func (e *UpstreamFailure) Error() string {
	return fmt.Sprintf("upstream reported failure: %s", e.Message)
}

// Is lets a not-found style failure match ErrNotFound.
func (e *UpstreamFailure) Is(target error) bool {
	return target == ErrNotFound && notFoundMessage.MatchString(e.Message)
}
