package refgate

import "goflare.io/refgate/internal/models"

var (
	ErrInvalidInput        = models.ErrInvalidInput
	ErrNotFound            = models.ErrNotFound
	ErrUpstreamTimeout     = models.ErrUpstreamTimeout
	ErrUpstreamError       = models.ErrUpstreamError
	ErrUpstreamUnavailable = models.ErrUpstreamUnavailable
	ErrRateLimited         = models.ErrRateLimited
	ErrCancelled           = models.ErrCancelled
)
