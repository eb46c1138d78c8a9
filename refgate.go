// Package refgate resolves user-entered listing references into canonical
// listing URLs behind a two-level cache and per-caller rate limiting.
package refgate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"goflare.io/refgate/internal/api"
	"goflare.io/refgate/internal/cache"
	"goflare.io/refgate/internal/cache/limited"
	"goflare.io/refgate/internal/cache/multi"
	"goflare.io/refgate/internal/cache/remote"
	"goflare.io/refgate/internal/config"
	"goflare.io/refgate/internal/models"
	"goflare.io/refgate/internal/ratelimit"
	"goflare.io/refgate/internal/resolution"
	"goflare.io/refgate/internal/upstream"
	"goflare.io/refgate/pkg/serialization"
)

// Config is the full gateway configuration.
type Config = config.Config

// Option 定義初始化 Gateway 的選項
type Option = config.Option

// Outcome is the result of one lookup.
type Outcome = resolution.Outcome

// Alert is a monitoring threshold breach.
type Alert = ratelimit.Alert

// WithLogger 設置自定義的日誌記錄器
func WithLogger(logger *zap.Logger) Option { return config.WithLogger(logger) }

// WithUpstream sets the upstream resolution service URL.
func WithUpstream(baseURL string) Option { return config.WithUpstream(baseURL) }

// WithRedisURL enables the shared Redis cache tier.
func WithRedisURL(url string) Option { return config.WithRedisURL(url) }

// WithTTLs sets the success and not-found cache lifetimes.
func WithTTLs(success, notFound time.Duration) Option { return config.WithTTLs(success, notFound) }

// WithRateLimits sets the per-caller ceilings and block duration.
func WithRateLimits(perMinute, perHour int, block time.Duration) Option {
	return config.WithRateLimits(perMinute, perHour, block)
}

// WithRequestTimeout sets the hard timeout of one upstream call.
func WithRequestTimeout(d time.Duration) Option { return config.WithRequestTimeout(d) }

// WithSerialization 設置序列化方式
func WithSerialization(serializer string) Option { return config.WithSerialization(serializer) }

// FromFile loads a YAML config file.
func FromFile(path string) Option { return config.FromFile(path) }

// FromEnv applies REFGATE_* environment overrides.
func FromEnv() Option { return config.FromEnv() }

// Gateway 定義 refgate 的主要結構體
type Gateway struct {
	cfg     *config.Config
	store   cache.Store
	stats   func() models.CacheStats
	service *resolution.Service
	monitor *ratelimit.Monitor
	sweeper *ratelimit.Sweeper
	handler http.Handler
	logger  *zap.Logger
}

// New wires the gateway. The Redis tier is used only when a Redis URL is
// configured; configured warmup references are resolved before returning.
func New(ctx context.Context, opts ...Option) (*Gateway, error) {
	cfg, err := config.NewConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}
	logger := cfg.Logger

	codec, err := serialization.NewCodec(cfg.Serialization.Type)
	if err != nil {
		return nil, err
	}

	local, err := limited.NewStore(cfg.Cache.MaxLocalItems, codec, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local cache: %w", err)
	}
	var store cache.Store = local
	stats := local.Stats

	if cfg.Cache.RedisURL != "" {
		rs, err := remote.Connect(ctx, cfg.Cache.RedisURL, remote.Options{
			Codec:         codec,
			Breaker:       cfg.Resilience.RemoteCircuitBreaker,
			RetryAttempts: cfg.Resilience.RemoteRetryAttempts,
			RetryDelay:    cfg.Resilience.RemoteRetryBaseDelay,
			Logger:        logger,
		})
		if err != nil {
			_ = local.Close()
			return nil, err
		}
		mc, err := multi.NewCache(ctx, local, rs, codec, cfg.Cache.BloomFilter, logger)
		if err != nil {
			_ = rs.Close()
			_ = local.Close()
			return nil, fmt.Errorf("failed to initialize multi-level cache: %w", err)
		}
		store = mc
		stats = mc.Stats
	}

	up, err := upstream.NewClient(cfg.Upstream, cfg.Resilience.UpstreamCircuitBreaker, nil, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	monitor := ratelimit.NewMonitor(cfg.RateLimit, logger)
	sweeper, err := ratelimit.NewSweeper(monitor, cfg.RateLimit.CleanupSchedule, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	service := resolution.NewService(store, up, cfg)
	handler := api.NewHandler(service, monitor, api.WithCacheStats(stats), api.WithLogger(logger))

	g := &Gateway{
		cfg:     cfg,
		store:   store,
		stats:   stats,
		service: service,
		monitor: monitor,
		sweeper: sweeper,
		handler: api.NewRouter(handler),
		logger:  logger,
	}
	sweeper.Start()

	if len(cfg.WarmupRefs) > 0 {
		service.Warmup(ctx, cfg.WarmupRefs)
	}
	return g, nil
}

// Resolve looks up raw. The only returned error is ErrInvalidInput; upstream
// failures are reported through Outcome.Err and the outcome status code.
func (g *Gateway) Resolve(ctx context.Context, raw string) (*Outcome, error) {
	return g.service.Resolve(ctx, raw)
}

// Handler returns the HTTP handler serving the gateway routes.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Addr returns the configured listen address.
func (g *Gateway) Addr() string {
	return g.cfg.HTTPAddr
}

// Metrics returns the global traffic metrics.
func (g *Gateway) Metrics() ratelimit.GlobalMetrics {
	return g.monitor.Metrics()
}

// Alerts evaluates the alert thresholds against current metrics.
func (g *Gateway) Alerts() []Alert {
	return ratelimit.CheckAlerts(g.monitor.Metrics())
}

// CacheStats returns the cache hit, miss and write counters.
func (g *Gateway) CacheStats() models.CacheStats {
	return g.stats()
}

// Close 關閉 Gateway，釋放資源
func (g *Gateway) Close() error {
	g.sweeper.Stop()
	if err := g.store.Close(); err != nil {
		g.logger.Error("Failed to close cache", zap.Error(err))
		return err
	}
	return nil
}

// IsNotFound reports whether err classifies a reference the upstream does
// not know.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
