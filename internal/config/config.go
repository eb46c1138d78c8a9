package config

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/refgate/pkg/serialization"
)

// Config 是 refgate 的完整配置
// Config is the full refgate configuration
type Config struct {
	Namespace      string        // 快取鍵前綴 (Cache key namespace)
	HTTPAddr       string        // HTTP 監聽地址 (HTTP listen address)
	SuccessTTL     time.Duration // 成功解析的快取時間 (TTL for successful resolutions)
	NotFoundTTL    time.Duration // 找不到時的快取時間 (TTL for not-found resolutions)
	CoalesceMisses bool          // 合併同 key 的並發未命中 (Coalesce concurrent misses per key)
	WarmupRefs     []string      // 啟動時預先解析的參考碼 (References resolved at startup)

	Upstream   UpstreamConfig
	Cache      CacheConfig
	RateLimit  RateLimitConfig
	Client     ClientConfig
	Resilience ResilienceConfig

	Serialization SerializationConfig
	Logger        *zap.Logger
}

// UpstreamConfig 上游解析服務配置
// UpstreamConfig configures the upstream resolution service
type UpstreamConfig struct {
	BaseURL          string        // 上游服務地址 (Upstream base URL)
	RequestTimeout   time.Duration // 單次請求硬超時 (Hard timeout per call)
	ReferenceParam   string        // 參考碼查詢參數名 (Query parameter carrying the reference)
	CallerParamName  string        // 固定的呼叫方識別參數 (Fixed caller-identification parameter)
	CallerParamValue string
}

// CacheConfig 快取層配置
// CacheConfig configures the cache capability
type CacheConfig struct {
	RedisURL      string // 空字串表示僅使用本地快取 (Empty means local cache only)
	MaxLocalItems uint64 // 本地快取最大項目數 (Maximum local entries)
	BloomFilter   BloomFilterConfig
}

// BloomFilterConfig 用於布隆過濾器的配置
// BloomFilterConfig is for configuring the Bloom filter
type BloomFilterConfig struct {
	ExpectedItems     uint          // 預期的項目數量 (Expected number of items)
	FalsePositiveRate float64       // 假陽性率 (False positive rate)
	SyncInterval      time.Duration // 與 Redis 合併同步的間隔 (Interval for merging with Redis)
	RedisKey          string        // 存儲布隆過濾器的 Redis 鍵名 (Redis key for storing the Bloom filter)
}

// RateLimitConfig 限流配置
// RateLimitConfig configures per-caller limits
type RateLimitConfig struct {
	MaxRequestsPerMinute int
	MaxRequestsPerHour   int
	BlockDuration        time.Duration
	CleanupSchedule      string // cron schedule, e.g. "@every 10m"
}

// ClientConfig 客戶端重試配置
// ClientConfig holds the client-side retry policy
type ClientConfig struct {
	RetryCount int
	BaseDelay  time.Duration
}

// ResilienceConfig 用於設置重試和熔斷器
// ResilienceConfig is for configuring retries and circuit breakers
type ResilienceConfig struct {
	UpstreamCircuitBreaker gobreaker.Settings
	RemoteCircuitBreaker   gobreaker.Settings
	RemoteRetryAttempts    int
	RemoteRetryBaseDelay   time.Duration
}

// SerializationConfig 序列化相關配置
// SerializationConfig is for serialization-related configurations
type SerializationConfig struct {
	Type string // json 或 gob (json or gob)
}

// Option 函數類型
type Option func(*Config) error

var (
	ErrMissingUpstream  = errors.New("upstream base URL is required")
	ErrInvalidTTL       = errors.New("ttl must be positive")
	ErrInvalidRateLimit = errors.New("rate limit ceilings must be positive")
)

// NewConfig 創建一個默認的 Config，允許覆蓋特定參數
func NewConfig(options ...Option) (*Config, error) {
	cfg := &Config{
		Namespace:      "ref",
		HTTPAddr:       ":8080",
		SuccessTTL:     30 * time.Minute,
		NotFoundTTL:    5 * time.Minute,
		CoalesceMisses: true,
		Upstream: UpstreamConfig{
			RequestTimeout:   5 * time.Second,
			ReferenceParam:   "ref",
			CallerParamName:  "client",
			CallerParamValue: "refgate",
		},
		Cache: CacheConfig{
			MaxLocalItems: 10_000,
			BloomFilter: BloomFilterConfig{
				ExpectedItems:     100_000,
				FalsePositiveRate: 0.01,
				SyncInterval:      5 * time.Minute,
				RedisKey:          "refgate:bloom",
			},
		},
		RateLimit: RateLimitConfig{
			MaxRequestsPerMinute: 30,
			MaxRequestsPerHour:   200,
			BlockDuration:        5 * time.Minute,
			CleanupSchedule:      "@every 10m",
		},
		Client: ClientConfig{
			RetryCount: 3,
			BaseDelay:  750 * time.Millisecond,
		},
		Resilience: ResilienceConfig{
			UpstreamCircuitBreaker: gobreaker.Settings{
				Name:        "UpstreamCircuitBreaker",
				MaxRequests: 3,
				Interval:    60 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures > 5
				},
			},
			RemoteCircuitBreaker: gobreaker.Settings{
				Name:        "RemoteCacheCircuitBreaker",
				MaxRequests: 3,
				Interval:    60 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures > 3
				},
			},
			RemoteRetryAttempts:  3,
			RemoteRetryBaseDelay: 100 * time.Millisecond,
		},
		Serialization: SerializationConfig{
			Type: serialization.JSONType,
		},
		Logger: zap.NewNop(),
	}

	// 應用所有選項
	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	// 最終檢查
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings every component relies on.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return ErrMissingUpstream
	}
	if c.SuccessTTL <= 0 || c.NotFoundTTL <= 0 {
		return ErrInvalidTTL
	}
	if c.RateLimit.MaxRequestsPerMinute <= 0 || c.RateLimit.MaxRequestsPerHour <= 0 || c.RateLimit.BlockDuration <= 0 {
		return ErrInvalidRateLimit
	}
	if c.Upstream.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if c.Client.RetryCount < 0 {
		return errors.New("client retry count must not be negative")
	}
	return nil
}
