package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"goflare.io/refgate/internal/models"
	"goflare.io/refgate/internal/ratelimit"
	"goflare.io/refgate/internal/reference"
	"goflare.io/refgate/internal/resolution"
)

// Resolver is the lookup the handler serves.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (*resolution.Outcome, error)
}

// Monitor is the rate limiter plus its metrics view.
type Monitor interface {
	ratelimit.Store
	Metrics() ratelimit.GlobalMetrics
}

// Handler serves the gateway routes.
type Handler struct {
	resolver   Resolver
	limiter    Monitor
	cacheStats func() models.CacheStats
	logger     *zap.Logger
	now        func() time.Time
}

// Option customises a Handler.
type Option func(*Handler)

// WithCacheStats adds cache counters to the metrics endpoint.
func WithCacheStats(stats func() models.CacheStats) Option {
	return func(h *Handler) { h.cacheStats = stats }
}

// WithLogger sets the access and error logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// NewHandler creates a Handler.
func NewHandler(resolver Resolver, limiter Monitor, opts ...Option) *Handler {
	h := &Handler{
		resolver: resolver,
		limiter:  limiter,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	caller := callerIDFromContext(r.Context())

	out, err := h.resolver.Resolve(r.Context(), r.URL.Query().Get("ref"))
	if err != nil {
		status, code, message := mapDomainError(err)
		h.limiter.Record(caller, ratelimit.Sample{Latency: h.now().Sub(start), Error: status >= 500})
		writeError(w, status, code, message)
		return
	}

	if errors.Is(out.Err, models.ErrCancelled) {
		h.logger.Debug("Caller went away during lookup", zap.String("caller", caller))
		return
	}

	status := out.Resolution.StatusCode
	h.limiter.Record(caller, ratelimit.Sample{
		Latency:  h.now().Sub(start),
		Error:    status >= 500,
		CacheHit: out.CacheHit(),
	})

	w.Header().Set("Cache-Control", out.CacheControl)
	w.Header().Set("X-Cache", out.CacheStatus)
	writeJSON(w, status, out.Resolution)
}

type metricsResponse struct {
	Metrics ratelimit.GlobalMetrics `json:"metrics"`
	Alerts  []ratelimit.Alert       `json:"alerts"`
	Cache   *models.CacheStats      `json:"cache,omitempty"`
}

func (h *Handler) metrics(w http.ResponseWriter, _ *http.Request) {
	m := h.limiter.Metrics()
	resp := metricsResponse{Metrics: m, Alerts: ratelimit.CheckAlerts(m)}
	if resp.Alerts == nil {
		resp.Alerts = []ratelimit.Alert{}
	}
	if h.cacheStats != nil {
		stats := h.cacheStats()
		resp.Cache = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION_ERROR",
			"reference must contain 1 to " + strconv.Itoa(reference.MaxLength) + " letters or digits"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", resolution.MessageNotFound
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED", "too many requests"
	case errors.Is(err, models.ErrUpstreamTimeout),
		errors.Is(err, models.ErrUpstreamError),
		errors.Is(err, models.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "UPSTREAM_ERROR", resolution.MessageUnavailable
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}
