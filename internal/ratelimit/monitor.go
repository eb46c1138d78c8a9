// Package ratelimit tracks per-caller request history, enforces sliding
// window ceilings with temporary blocking, and aggregates global metrics.
// State is per process.
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"goflare.io/refgate/internal/config"
	"goflare.io/refgate/internal/utils"
)

const (
	ReasonBlocked      = "temporarily blocked"
	ReasonHourlyLimit  = "hourly limit"
	ReasonRateExceeded = "rate limit exceeded - blocked"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
	shardCount   = 16
)

// Decision is the verdict for one incoming request.
type Decision struct {
	Allowed   bool      `json:"-"`
	Reason    string    `json:"reason,omitempty"`
	ResetTime time.Time `json:"resetTime,omitempty"`
}

// Sample is the outcome of one served request.
type Sample struct {
	Latency  time.Duration
	Error    bool
	CacheHit bool
}

// Store is the rate limiting capability the HTTP layer depends on.
type Store interface {
	Allow(callerID string) Decision
	Record(callerID string, sample Sample)
	Prune(now time.Time) int
}

type callerMetrics struct {
	timestamps    []time.Time
	blocked       bool
	blockedUntil  time.Time
	totalRequests int64
	totalErrors   int64
}

// pruneBefore drops timestamps older than cutoff. Timestamps are appended
// in order, so the survivors are a suffix.
func (c *callerMetrics) pruneBefore(cutoff time.Time) {
	i := 0
	for i < len(c.timestamps) && c.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		c.timestamps = append(c.timestamps[:0], c.timestamps[i:]...)
	}
}

func (c *callerMetrics) countSince(cutoff time.Time) int {
	n := 0
	for i := len(c.timestamps) - 1; i >= 0 && !c.timestamps[i].Before(cutoff); i-- {
		n++
	}
	return n
}

type shard struct {
	mu      sync.Mutex
	callers map[string]*callerMetrics
}

// Monitor implements Store in memory.
type Monitor struct {
	shards []*shard
	limits config.RateLimitConfig
	global *globalMetrics
	logger *zap.Logger
	now    func() time.Time
}

// NewMonitor creates an empty Monitor enforcing limits.
func NewMonitor(limits config.RateLimitConfig, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		shards: make([]*shard, shardCount),
		limits: limits,
		global: newGlobalMetrics(),
		logger: logger,
		now:    time.Now,
	}
	for i := range m.shards {
		m.shards[i] = &shard{callers: make(map[string]*callerMetrics)}
	}
	return m
}

func (m *Monitor) shardFor(callerID string) *shard {
	return m.shards[utils.ShardIndex(len(m.shards), callerID)]
}

// Allow decides whether callerID may proceed. A caller exceeding the
// per-minute ceiling is blocked for the configured duration.
func (m *Monitor) Allow(callerID string) Decision {
	now := m.now()
	s := m.shardFor(callerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.callers[callerID]
	if !ok {
		c = &callerMetrics{}
		s.callers[callerID] = c
	}
	c.pruneBefore(now.Add(-hourWindow))

	if c.blocked {
		if now.Before(c.blockedUntil) {
			return Decision{Reason: ReasonBlocked, ResetTime: c.blockedUntil}
		}
		c.blocked = false
		c.blockedUntil = time.Time{}
	}

	if len(c.timestamps) >= m.limits.MaxRequestsPerHour {
		return Decision{Reason: ReasonHourlyLimit, ResetTime: c.timestamps[0].Add(hourWindow)}
	}

	if c.countSince(now.Add(-minuteWindow)) >= m.limits.MaxRequestsPerMinute {
		c.blocked = true
		c.blockedUntil = now.Add(m.limits.BlockDuration)
		m.logger.Warn("Caller blocked for exceeding rate limit",
			zap.String("caller", callerID), zap.Time("until", c.blockedUntil))
		return Decision{Reason: ReasonRateExceeded, ResetTime: c.blockedUntil}
	}

	// Reserve the slot now so concurrent in-flight requests count against
	// the same window.
	c.timestamps = append(c.timestamps, now)
	return Decision{Allowed: true}
}

// Record stores the outcome of a request admitted by Allow.
func (m *Monitor) Record(callerID string, sample Sample) {
	now := m.now()
	s := m.shardFor(callerID)
	s.mu.Lock()
	c, ok := s.callers[callerID]
	if !ok {
		c = &callerMetrics{}
		s.callers[callerID] = c
	}
	c.totalRequests++
	if sample.Error {
		c.totalErrors++
	}
	s.mu.Unlock()

	m.global.record(now, sample)
}

// Prune drops history older than an hour, lifts expired blocks and evicts
// callers left with neither history nor a block. It returns the number of
// evicted callers.
func (m *Monitor) Prune(now time.Time) int {
	cutoff := now.Add(-hourWindow)
	evicted := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for id, c := range s.callers {
			c.pruneBefore(cutoff)
			if c.blocked && !now.Before(c.blockedUntil) {
				c.blocked = false
				c.blockedUntil = time.Time{}
			}
			if len(c.timestamps) == 0 && !c.blocked {
				delete(s.callers, id)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// Metrics returns a snapshot of the global counters.
func (m *Monitor) Metrics() GlobalMetrics {
	snap := m.global.snapshot(m.now())
	for _, s := range m.shards {
		s.mu.Lock()
		snap.ActiveCallers += len(s.callers)
		for _, c := range s.callers {
			if c.blocked {
				snap.BlockedCallers++
			}
		}
		s.mu.Unlock()
	}
	return snap
}
