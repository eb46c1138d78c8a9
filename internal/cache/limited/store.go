// Package limited is the bounded in-process cache tier.
package limited

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"goflare.io/refgate/internal/models"
	"goflare.io/refgate/pkg/serialization"
)

// Store implements cache.Store on top of Ristretto. Each item costs 1, so
// maxItems bounds the entry count.
type Store struct {
	cache   *ristretto.Cache
	codec   serialization.Codec
	logger  *zap.Logger
	metrics *models.Metrics
	now     func() time.Time
}

// NewStore creates a new Store holding at most maxItems entries.
func NewStore(maxItems uint64, codec serialization.Codec, logger *zap.Logger) (*Store, error) {
	if maxItems == 0 {
		return nil, fmt.Errorf("max items must be greater than 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		codec:   codec,
		logger:  logger,
		metrics: models.NewMetrics(),
		now:     time.Now,
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(10 * maxItems),
		MaxCost:     int64(maxItems),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}
	s.cache = c
	return s, nil
}

// Set encodes value and stores it until ttl elapses.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive for key %s", key)
	}

	data, err := s.codec.Marshal(value)
	if err != nil {
		return err
	}

	entry := models.NewEntry(data, s.now().Add(ttl))
	if !s.cache.SetWithTTL(key, entry, 1, ttl) {
		s.logger.Warn("Ristretto SetWithTTL failed", zap.String("key", key))
		return models.ErrSetFailed
	}
	// Make the write visible to the next Get.
	s.cache.Wait()
	s.metrics.Writes.Inc()
	return nil
}

// Get decodes the live entry under key into value.
func (s *Store) Get(ctx context.Context, key string, value any) (bool, error) {
	entry, found := s.lookup(ctx, key)
	if !found {
		s.metrics.Misses.Inc()
		return false, nil
	}
	if err := s.codec.Unmarshal(entry.Data, value); err != nil {
		s.logger.Error("Failed to decode value", zap.Error(err), zap.String("key", key))
		return false, err
	}
	s.metrics.Hits.Inc()
	return true, nil
}

// Expiration reports when the entry under key expires.
func (s *Store) Expiration(ctx context.Context, key string) (time.Time, bool) {
	entry, found := s.lookup(ctx, key)
	if !found {
		return time.Time{}, false
	}
	return entry.Expiration, true
}

func (s *Store) lookup(ctx context.Context, key string) (*models.Entry, bool) {
	if ctx.Err() != nil {
		return nil, false
	}

	value, found := s.cache.Get(key)
	if !found {
		return nil, false
	}

	entry, ok := value.(*models.Entry)
	if !ok {
		s.logger.Error("Invalid cache entry type", zap.String("key", key))
		return nil, false
	}

	if entry.IsExpired(s.now()) {
		s.cache.Del(key)
		return nil, false
	}
	return entry, true
}

// Stats returns the hit, miss and write counters.
func (s *Store) Stats() models.CacheStats {
	return s.metrics.Snapshot()
}

// Close releases the Ristretto buffers.
func (s *Store) Close() error {
	s.cache.Close()
	return nil
}
