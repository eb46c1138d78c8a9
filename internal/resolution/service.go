// Package resolution turns user-entered references into canonical listing
// URLs, reading through the cache before calling upstream.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/refgate/internal/cache"
	"goflare.io/refgate/internal/config"
	"goflare.io/refgate/internal/models"
	"goflare.io/refgate/internal/reference"
)

const (
	CacheHit  = "HIT"
	CacheMiss = "MISS"
)

// User-facing messages carried in Resolution.Error.
const (
	MessageNotFound    = "reference not found, check the number"
	MessageUnavailable = "lookup service unavailable, please try again"
)

// Upstream resolves a normalized reference.
type Upstream interface {
	Lookup(ctx context.Context, ref string) (*models.Listing, error)
}

// Outcome is everything the HTTP layer needs to answer a lookup.
type Outcome struct {
	Resolution   models.Resolution
	CacheStatus  string
	CacheControl string
	// Err classifies non-200 outcomes. It matches models.ErrNotFound,
	// models.ErrUpstreamTimeout, models.ErrUpstreamError,
	// models.ErrUpstreamUnavailable or models.ErrCancelled.
	Err error
}

// CacheHit reports whether the outcome was served from the cache.
func (o *Outcome) CacheHit() bool {
	return o.CacheStatus == CacheHit
}

// Service is the cache-aside reference resolver.
type Service struct {
	store    cache.Store
	upstream Upstream
	cfg      *config.Config
	sf       singleflight.Group
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
}

// NewService wires a resolver over store and upstream.
func NewService(store cache.Store, upstream Upstream, cfg *config.Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		upstream: upstream,
		cfg:      cfg,
		tracer:   otel.Tracer("refgate/resolution"),
		logger:   logger,
		now:      time.Now,
	}
}

// Resolve looks up raw. The only returned error is models.ErrInvalidInput;
// every other result, including upstream failures, is an Outcome.
func (s *Service) Resolve(ctx context.Context, raw string) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "Resolution.Resolve")
	defer span.End()

	ref, ok := reference.Normalize(raw)
	if !ok {
		span.SetAttributes(attribute.Bool("invalid", true))
		return nil, models.ErrInvalidInput
	}
	span.SetAttributes(attribute.String("reference", ref))

	key := s.key(ref)

	var cached models.Resolution
	found, err := s.store.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("Cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
	}
	if found {
		span.SetAttributes(attribute.String("cache", CacheHit), attribute.Int("status_code", cached.StatusCode))
		return s.fromCache(cached), nil
	}

	var out *Outcome
	if s.cfg.CoalesceMisses {
		// The shared call outlives any single caller; a cancelled caller
		// stops waiting for it.
		detached := context.WithoutCancel(ctx)
		ch := s.sf.DoChan(key, func() (any, error) {
			return s.fetchAndStore(detached, ref, key), nil
		})
		select {
		case res := <-ch:
			out = res.Val.(*Outcome)
		case <-ctx.Done():
			out = s.cancelled(ref, ctx.Err())
		}
	} else {
		out = s.fetchAndStore(ctx, ref, key)
	}

	span.SetAttributes(attribute.String("cache", CacheMiss), attribute.Int("status_code", out.Resolution.StatusCode))
	return out, nil
}

// Warmup resolves refs ahead of traffic and returns how many produced a
// cacheable outcome.
func (s *Service) Warmup(ctx context.Context, refs []string) int {
	warmed := 0
	for _, raw := range refs {
		if ctx.Err() != nil {
			break
		}
		out, err := s.Resolve(ctx, raw)
		if err != nil {
			s.logger.Warn("Skipping invalid warmup reference", zap.String("reference", raw))
			continue
		}
		if out.Resolution.StatusCode == http.StatusBadGateway {
			s.logger.Warn("Warmup lookup failed", zap.String("reference", raw), zap.Error(out.Err))
			continue
		}
		warmed++
	}
	s.logger.Info("Cache warmup finished", zap.Int("requested", len(refs)), zap.Int("warmed", warmed))
	return warmed
}

func (s *Service) key(ref string) string {
	return s.cfg.Namespace + ":" + ref
}

func (s *Service) fromCache(res models.Resolution) *Outcome {
	res.Source = models.SourceCache
	out := &Outcome{Resolution: res, CacheStatus: CacheHit}
	switch res.StatusCode {
	case http.StatusNotFound:
		out.CacheControl = CacheControl(s.cfg.NotFoundTTL)
		out.Err = models.ErrNotFound
	default:
		out.CacheControl = CacheControl(s.cfg.SuccessTTL)
	}
	return out
}

func (s *Service) cancelled(ref string, err error) *Outcome {
	return &Outcome{
		Resolution: models.Resolution{
			Reference:  reference.FormatForDisplay(ref),
			Source:     models.SourceAPI,
			StatusCode: http.StatusBadGateway,
			Error:      MessageUnavailable,
			CachedAt:   s.now().UTC(),
		},
		CacheStatus:  CacheMiss,
		CacheControl: CacheControl(s.cfg.SuccessTTL),
		Err:          classify(err),
	}
}

func (s *Service) fetchAndStore(ctx context.Context, ref, key string) *Outcome {
	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.Upstream.RequestTimeout)
	listing, err := s.upstream.Lookup(lookupCtx, ref)
	cancel()

	res := models.Resolution{
		Reference: reference.FormatForDisplay(ref),
		Source:    models.SourceAPI,
		CachedAt:  s.now().UTC(),
	}
	out := &Outcome{CacheStatus: CacheMiss}

	var ttl time.Duration
	switch {
	case err == nil:
		res.URL = ListingURL(listing, ref)
		res.IsValid = true
		res.Payload = listing.Raw
		res.StatusCode = http.StatusOK
		ttl = s.cfg.SuccessTTL
	case errors.Is(err, models.ErrNotFound):
		res.Error = MessageNotFound
		res.StatusCode = http.StatusNotFound
		ttl = s.cfg.NotFoundTTL
		out.Err = err
	default:
		res.Error = MessageUnavailable
		res.StatusCode = http.StatusBadGateway
		out.Err = classify(err)
		if !errors.Is(out.Err, models.ErrCancelled) {
			s.logger.Warn("Upstream lookup failed", zap.String("reference", ref), zap.Error(err))
		}
	}

	out.Resolution = res
	if ttl == 0 {
		// Failures are never stored but still advise short-lived client caching.
		out.CacheControl = CacheControl(s.cfg.SuccessTTL)
		return out
	}

	out.CacheControl = CacheControl(ttl)
	if err := s.store.Set(ctx, key, res, ttl); err != nil {
		s.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
	return out
}

// classify maps anything that is not already a known upstream error onto
// models.ErrUpstreamError, except caller cancellation.
func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", models.ErrCancelled, err)
	case errors.Is(err, models.ErrUpstreamTimeout),
		errors.Is(err, models.ErrUpstreamUnavailable),
		errors.Is(err, models.ErrUpstreamError):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", models.ErrUpstreamTimeout, err)
	default:
		return fmt.Errorf("%w: %w", models.ErrUpstreamError, err)
	}
}
