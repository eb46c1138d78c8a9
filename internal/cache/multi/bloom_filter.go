package multi

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"goflare.io/refgate/internal/cache"
	"goflare.io/refgate/internal/config"
)

// BloomFilter tracks every key written through this instance. Instances
// converge by merging their filters through a shared blob in the remote tier.
type BloomFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	cfg    config.BloomFilterConfig
	blobs  cache.BlobStore
	logger *zap.Logger
}

// NewBloomFilter creates an empty filter sized from cfg.
func NewBloomFilter(cfg config.BloomFilterConfig, blobs cache.BlobStore, logger *zap.Logger) *BloomFilter {
	return &BloomFilter{
		filter: bloom.NewWithEstimates(cfg.ExpectedItems, cfg.FalsePositiveRate),
		cfg:    cfg,
		blobs:  blobs,
		logger: logger,
	}
}

// Add adds a key to the bloom filter.
func (bf *BloomFilter) Add(key string) {
	bf.mu.Lock()
	bf.filter.AddString(key)
	bf.mu.Unlock()
}

// Test checks if a key might be in the bloom filter.
func (bf *BloomFilter) Test(key string) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.filter.TestString(key)
}

// Sync merges the shared filter into the local one and saves the union.
func (bf *BloomFilter) Sync(ctx context.Context) error {
	stored, found, err := bf.blobs.GetBlob(ctx, bf.cfg.RedisKey)
	if err != nil {
		return fmt.Errorf("failed to load bloom filter from remote cache: %w", err)
	}

	bf.mu.Lock()
	if found {
		if err := bf.mergeLocked(stored); err != nil {
			bf.logger.Warn("Overwriting shared bloom filter", zap.Error(err))
		}
	}
	var buf bytes.Buffer
	_, err = bf.filter.WriteTo(&buf)
	bf.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to serialize bloom filter: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	if err := bf.blobs.SetBlob(ctx, bf.cfg.RedisKey, []byte(encoded)); err != nil {
		return fmt.Errorf("failed to save bloom filter to remote cache: %w", err)
	}
	return nil
}

func (bf *BloomFilter) mergeLocked(stored []byte) error {
	decoded, err := base64.StdEncoding.DecodeString(string(stored))
	if err != nil {
		return fmt.Errorf("failed to decode bloom filter data: %w", err)
	}
	shared := &bloom.BloomFilter{}
	if _, err := shared.ReadFrom(bytes.NewReader(decoded)); err != nil {
		return fmt.Errorf("failed to deserialize bloom filter: %w", err)
	}
	return bf.filter.Merge(shared)
}

// Run syncs the filter every SyncInterval until ctx is done.
func (bf *BloomFilter) Run(ctx context.Context) {
	if bf.cfg.SyncInterval <= 0 {
		return
	}
	ticker := time.NewTicker(bf.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bf.Sync(ctx); err != nil {
				bf.logger.Warn("Bloom filter sync failed", zap.Error(err))
			}
		case <-ctx.Done():
			bf.logger.Info("Stopping bloom filter sync due to context cancellation")
			return
		}
	}
}
