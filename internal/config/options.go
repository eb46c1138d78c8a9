package config

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"goflare.io/refgate/pkg/serialization"
)

// WithLogger 設置自定義 Logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithUpstream sets the upstream base URL.
func WithUpstream(baseURL string) Option {
	return func(c *Config) error {
		c.Upstream.BaseURL = baseURL
		return nil
	}
}

// WithRequestTimeout sets the hard timeout of one upstream call.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		c.Upstream.RequestTimeout = d
		return nil
	}
}

// WithTTLs sets the success and not-found cache lifetimes.
func WithTTLs(success, notFound time.Duration) Option {
	return func(c *Config) error {
		if success <= 0 || notFound <= 0 {
			return ErrInvalidTTL
		}
		c.SuccessTTL = success
		c.NotFoundTTL = notFound
		return nil
	}
}

// WithRateLimits sets per-minute and per-hour ceilings and the block duration.
func WithRateLimits(perMinute, perHour int, block time.Duration) Option {
	return func(c *Config) error {
		if perMinute <= 0 || perHour <= 0 || block <= 0 {
			return ErrInvalidRateLimit
		}
		c.RateLimit.MaxRequestsPerMinute = perMinute
		c.RateLimit.MaxRequestsPerHour = perHour
		c.RateLimit.BlockDuration = block
		return nil
	}
}

// WithRedisURL enables the remote cache tier.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.Cache.RedisURL = url
		return nil
	}
}

// WithNamespace sets the cache key namespace.
func WithNamespace(ns string) Option {
	return func(c *Config) error {
		if ns == "" {
			return errors.New("namespace must not be empty")
		}
		c.Namespace = ns
		return nil
	}
}

// WithWarmupRefs sets references resolved once at startup.
func WithWarmupRefs(refs ...string) Option {
	return func(c *Config) error {
		c.WarmupRefs = append(c.WarmupRefs[:0], refs...)
		return nil
	}
}

// WithSerialization 設置序列化方式
func WithSerialization(serializer string) Option {
	return func(c *Config) error {
		if _, err := serialization.NewCodec(serializer); err != nil {
			return err
		}
		c.Serialization.Type = serializer
		return nil
	}
}
