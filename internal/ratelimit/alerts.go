package ratelimit

import "fmt"

const (
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// Alert thresholds over the trailing hour.
const (
	ErrorRateWarning    = 0.10
	ErrorRateCritical   = 0.25
	LatencyWarningMs    = 1500
	LatencyCriticalMs   = 3000
	CacheHitRateWarning = 0.30
)

// Alert is one threshold breach.
type Alert struct {
	Level   string  `json:"level"`
	Kind    string  `json:"kind"`
	Message string  `json:"message"`
	Value   float64 `json:"value"`
}

// CheckAlerts evaluates the last-hour window of m. It returns nothing when
// the window has no traffic.
func CheckAlerts(m GlobalMetrics) []Alert {
	w := m.LastHour
	if w.Searches == 0 {
		return nil
	}

	var alerts []Alert

	errorRate := float64(w.Errors) / float64(w.Searches)
	switch {
	case errorRate > ErrorRateCritical:
		alerts = append(alerts, Alert{LevelCritical, "error_rate", fmt.Sprintf("error rate %.1f%%", errorRate*100), errorRate})
	case errorRate > ErrorRateWarning:
		alerts = append(alerts, Alert{LevelWarning, "error_rate", fmt.Sprintf("error rate %.1f%%", errorRate*100), errorRate})
	}

	switch {
	case w.AverageLatencyMs > LatencyCriticalMs:
		alerts = append(alerts, Alert{LevelCritical, "latency", fmt.Sprintf("average latency %.0fms", w.AverageLatencyMs), w.AverageLatencyMs})
	case w.AverageLatencyMs > LatencyWarningMs:
		alerts = append(alerts, Alert{LevelWarning, "latency", fmt.Sprintf("average latency %.0fms", w.AverageLatencyMs), w.AverageLatencyMs})
	}

	hitRate := float64(w.CacheHits) / float64(w.Searches)
	if hitRate < CacheHitRateWarning {
		alerts = append(alerts, Alert{LevelWarning, "cache_hit_rate", fmt.Sprintf("cache hit rate %.1f%%", hitRate*100), hitRate})
	}

	return alerts
}
