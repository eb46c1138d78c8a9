// Package multi layers the in-process tier in front of the shared remote tier.
package multi

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/refgate/internal/cache"
	"goflare.io/refgate/internal/cache/limited"
	"goflare.io/refgate/internal/config"
	"goflare.io/refgate/internal/models"
	"goflare.io/refgate/pkg/serialization"
)

// Remote is the shared tier behind the local one.
type Remote interface {
	cache.Store
	cache.BlobStore
	GetBlobWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error)
}

type remoteHit struct {
	data []byte
	ttl  time.Duration
}

// Cache reads local first, then remote, back-filling the local tier with
// the remaining remote lifetime. Writes go to both tiers.
type Cache struct {
	local   *limited.Store
	remote  Remote
	codec   serialization.Codec
	filter  *BloomFilter
	sf      singleflight.Group
	tracer  trace.Tracer
	metrics *models.Metrics
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewCache loads the shared bloom filter and starts its sync loop. The
// returned Cache owns both tiers.
func NewCache(ctx context.Context, local *limited.Store, remote Remote, codec serialization.Codec, cfg config.BloomFilterConfig, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cache{
		local:   local,
		remote:  remote,
		codec:   codec,
		filter:  NewBloomFilter(cfg, remote, logger),
		tracer:  otel.Tracer("refgate/cache"),
		metrics: models.NewMetrics(),
		logger:  logger,
	}

	if err := c.filter.Sync(ctx); err != nil {
		return nil, fmt.Errorf("failed to load Bloom filter: %w", err)
	}

	syncCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	go c.filter.Run(syncCtx)

	return c, nil
}

// Get retrieves a value from the cache.
func (c *Cache) Get(ctx context.Context, key string, value any) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "Cache.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	found, err := c.local.Get(ctx, key, value)
	if err != nil {
		c.logger.Warn("Failed to read local cache", zap.Error(err), zap.String("key", key))
	}
	if found {
		c.metrics.Hits.Inc()
		span.SetAttributes(attribute.String("tier", "local"))
		return true, nil
	}

	if !c.filter.Test(key) {
		c.logger.Debug("Bloom filter negative for key", zap.String("key", key))
		c.metrics.BloomSkips.Inc()
		c.metrics.Misses.Inc()
		return false, nil
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		data, ttl, found, err := c.remote.GetBlobWithTTL(ctx, key)
		if err != nil || !found {
			return nil, err
		}
		return &remoteHit{data: data, ttl: ttl}, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.Misses.Inc()
		return false, err
	}
	hit, _ := v.(*remoteHit)
	if hit == nil {
		c.metrics.Misses.Inc()
		return false, nil
	}

	if err := c.codec.Unmarshal(hit.data, value); err != nil {
		c.logger.Error("Failed to decode value", zap.Error(err), zap.String("key", key))
		c.metrics.Misses.Inc()
		return false, err
	}

	if hit.ttl > 0 {
		if err := c.local.Set(ctx, key, value, hit.ttl); err != nil {
			c.logger.Warn("Failed to set local cache", zap.Error(err), zap.String("key", key))
		}
	}

	c.metrics.Hits.Inc()
	span.SetAttributes(attribute.String("tier", "remote"))
	return true, nil
}

// Set writes value to both tiers. A remote failure is returned after the
// local write has succeeded.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	ctx, span := c.tracer.Start(ctx, "Cache.Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if err := c.local.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn("Failed to set local cache", zap.Error(err), zap.String("key", key))
	}

	c.filter.Add(key)
	c.metrics.Writes.Inc()

	if err := c.remote.Set(ctx, key, value, ttl); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to set remote cache: %w", err)
	}
	return nil
}

// Stats returns the combined hit, miss and write counters.
func (c *Cache) Stats() models.CacheStats {
	return c.metrics.Snapshot()
}

// Close stops the sync loop, saves the filter one last time and closes
// both tiers.
func (c *Cache) Close() error {
	c.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.filter.Sync(ctx); err != nil {
		c.logger.Warn("Final bloom filter sync failed", zap.Error(err))
	}

	localErr := c.local.Close()
	if err := c.remote.Close(); err != nil {
		return err
	}
	return localErr
}
