package ratelimit

import (
	"sync"
	"time"
)

const bucketCount = 60

// GlobalMetrics is a point-in-time view of service-wide traffic.
type GlobalMetrics struct {
	TotalRequests    int64      `json:"totalRequests"`
	TotalErrors      int64      `json:"totalErrors"`
	CacheHits        int64      `json:"cacheHits"`
	AverageLatencyMs float64    `json:"averageLatencyMs"`
	LastHour         HourWindow `json:"lastHour"`
	ActiveCallers    int        `json:"activeCallers"`
	BlockedCallers   int        `json:"blockedCallers"`
}

// HourWindow aggregates the trailing sixty minutes.
type HourWindow struct {
	Searches         int64   `json:"searches"`
	Errors           int64   `json:"errors"`
	CacheHits        int64   `json:"cacheHits"`
	AverageLatencyMs float64 `json:"averageLatencyMs"`
}

type minuteBucket struct {
	minute   int64
	searches int64
	errors   int64
	hits     int64
	latency  time.Duration
}

type globalMetrics struct {
	mu           sync.Mutex
	requests     int64
	errors       int64
	hits         int64
	totalLatency time.Duration
	buckets      [bucketCount]minuteBucket
}

func newGlobalMetrics() *globalMetrics {
	return &globalMetrics{}
}

func (g *globalMetrics) record(now time.Time, sample Sample) {
	minute := now.Unix() / 60

	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests++
	g.totalLatency += sample.Latency
	if sample.Error {
		g.errors++
	}
	if sample.CacheHit {
		g.hits++
	}

	b := &g.buckets[minute%bucketCount]
	if b.minute != minute {
		*b = minuteBucket{minute: minute}
	}
	b.searches++
	b.latency += sample.Latency
	if sample.Error {
		b.errors++
	}
	if sample.CacheHit {
		b.hits++
	}
}

func (g *globalMetrics) snapshot(now time.Time) GlobalMetrics {
	current := now.Unix() / 60

	g.mu.Lock()
	defer g.mu.Unlock()

	out := GlobalMetrics{
		TotalRequests: g.requests,
		TotalErrors:   g.errors,
		CacheHits:     g.hits,
	}
	if g.requests > 0 {
		out.AverageLatencyMs = millis(g.totalLatency) / float64(g.requests)
	}

	var latency time.Duration
	for _, b := range g.buckets {
		if b.searches == 0 || current-b.minute >= bucketCount || b.minute > current {
			continue
		}
		out.LastHour.Searches += b.searches
		out.LastHour.Errors += b.errors
		out.LastHour.CacheHits += b.hits
		latency += b.latency
	}
	if out.LastHour.Searches > 0 {
		out.LastHour.AverageLatencyMs = millis(latency) / float64(out.LastHour.Searches)
	}
	return out
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
