// Package remote is the shared Redis cache tier.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/refgate/internal/retrier"
	"goflare.io/refgate/pkg/serialization"
)

// Store implements cache.Store and cache.BlobStore on Redis. Every command
// runs inside a circuit breaker and is retried on transient network errors.
type Store struct {
	client  redis.Cmdable
	closer  func() error
	codec   serialization.Codec
	breaker *gobreaker.CircuitBreaker
	retrier *retrier.Retrier
	logger  *zap.Logger
}

// Options configures a Store.
type Options struct {
	Codec         serialization.Codec
	Breaker       gobreaker.Settings
	RetryAttempts int
	RetryDelay    time.Duration
	Logger        *zap.Logger
}

// Connect parses url, pings the server and returns a Store owning the client.
func Connect(ctx context.Context, url string, opts Options) (*Store, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s, err := NewStore(client, opts)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.closer = client.Close
	return s, nil
}

// NewStore wraps an existing client. The caller keeps ownership of client.
func NewStore(client redis.Cmdable, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Codec.NewEncoder == nil {
		codec, err := serialization.NewCodec(serialization.JSONType)
		if err != nil {
			return nil, err
		}
		opts.Codec = codec
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	if opts.RetryDelay < time.Millisecond {
		opts.RetryDelay = 100 * time.Millisecond
	}

	r, err := retrier.NewRetrier(
		opts.RetryAttempts,
		opts.RetryDelay,
		time.Second,
		2,
		0.1,
		retrier.ExponentialBackoff,
		retrier.IsTransientNetwork,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrier: %w", err)
	}

	// A miss is an answer, not a fault.
	settings := opts.Breaker
	settings.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, redis.Nil)
	}

	return &Store{
		client:  client,
		closer:  func() error { return nil },
		codec:   opts.Codec,
		breaker: gobreaker.NewCircuitBreaker(settings),
		retrier: r,
		logger:  opts.Logger,
	}, nil
}

// executeWithResilience executes fn with retry inside the circuit breaker.
func (s *Store) executeWithResilience(ctx context.Context, fn func() error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.retrier.Run(ctx, fn)
	})
	return err
}

// Get decodes the value under key into value.
func (s *Store) Get(ctx context.Context, key string, value any) (bool, error) {
	data, found, err := s.GetBlob(ctx, key)
	if err != nil || !found {
		return found, err
	}
	if err := s.codec.Unmarshal(data, value); err != nil {
		s.logger.Error("Failed to decode value", zap.Error(err), zap.String("key", key))
		return false, err
	}
	return true, nil
}

// Set encodes value and writes it with SET EX ttl.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive for key %s", key)
	}
	data, err := s.codec.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.executeWithResilience(ctx, func() error {
		return s.client.Set(ctx, key, data, ttl).Err()
	}); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// GetBlob returns the raw bytes under key.
func (s *Store) GetBlob(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := s.executeWithResilience(ctx, func() error {
		var err error
		data, err = s.client.Get(ctx, key).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	return data, true, nil
}

// GetBlobWithTTL returns the raw bytes under key with their remaining
// lifetime. A key without expiry reports a zero TTL.
func (s *Store) GetBlobWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	var (
		getCmd *redis.StringCmd
		ttlCmd *redis.DurationCmd
	)
	err := s.executeWithResilience(ctx, func() error {
		_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			getCmd = pipe.Get(ctx, key)
			ttlCmd = pipe.PTTL(ctx, key)
			return nil
		})
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("redis get failed: %w", err)
	}

	data, err := getCmd.Bytes()
	if err != nil {
		return nil, 0, false, fmt.Errorf("redis get failed: %w", err)
	}
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return data, ttl, true, nil
}

// SetBlob writes raw bytes under key without expiry.
func (s *Store) SetBlob(ctx context.Context, key string, data []byte) error {
	if err := s.executeWithResilience(ctx, func() error {
		return s.client.Set(ctx, key, data, 0).Err()
	}); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// BreakerState exposes the circuit breaker state for health reporting.
func (s *Store) BreakerState() gobreaker.State {
	return s.breaker.State()
}

// Close closes the client when the Store owns it.
func (s *Store) Close() error {
	return s.closer()
}
