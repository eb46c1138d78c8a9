package models

import "go.uber.org/atomic"

// Metrics 定義快取統計
type Metrics struct {
	Hits   atomic.Int64
	Misses atomic.Int64
	Writes atomic.Int64
	// BloomSkips counts remote lookups avoided by the written-key filter.
	BloomSkips atomic.Int64
}

// NewMetrics 創建新的 Metrics 實例
func NewMetrics() *Metrics {
	return &Metrics{}
}

// CacheStats is a point-in-time copy of Metrics.
type CacheStats struct {
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Writes     int64 `json:"writes"`
	BloomSkips int64 `json:"bloomSkips"`
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() CacheStats {
	return CacheStats{
		Hits:       m.Hits.Load(),
		Misses:     m.Misses.Load(),
		Writes:     m.Writes.Load(),
		BloomSkips: m.BloomSkips.Load(),
	}
}
