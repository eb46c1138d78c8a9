package ratelimit

import "testing"

func TestCheckAlerts(t *testing.T) {
	tests := []struct {
		name   string
		window HourWindow
		want   map[string]string
	}{
		{
			name:   "no traffic",
			window: HourWindow{},
			want:   map[string]string{},
		},
		{
			name:   "healthy",
			window: HourWindow{Searches: 100, Errors: 5, CacheHits: 60, AverageLatencyMs: 300},
			want:   map[string]string{},
		},
		{
			name:   "warnings",
			window: HourWindow{Searches: 100, Errors: 15, CacheHits: 20, AverageLatencyMs: 2000},
			want:   map[string]string{"error_rate": LevelWarning, "latency": LevelWarning, "cache_hit_rate": LevelWarning},
		},
		{
			name:   "critical",
			window: HourWindow{Searches: 100, Errors: 30, CacheHits: 50, AverageLatencyMs: 3500},
			want:   map[string]string{"error_rate": LevelCritical, "latency": LevelCritical},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := CheckAlerts(GlobalMetrics{LastHour: tt.window})
			got := map[string]string{}
			for _, a := range alerts {
				got[a.Kind] = a.Level
			}
			if len(got) != len(tt.want) {
				t.Fatalf("alerts = %+v, want %v", alerts, tt.want)
			}
			for kind, level := range tt.want {
				if got[kind] != level {
					t.Fatalf("%s = %q, want %q", kind, got[kind], level)
				}
			}
		})
	}
}
