package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type configFile struct {
	Service struct {
		HTTPAddr  string   `yaml:"http_addr"`
		Namespace string   `yaml:"namespace"`
		Warmup    []string `yaml:"warmup_refs"`
	} `yaml:"service"`
	Upstream struct {
		BaseURL          string `yaml:"base_url"`
		RequestTimeoutMS int    `yaml:"request_timeout_ms"`
		ReferenceParam   string `yaml:"reference_param"`
		CallerParamName  string `yaml:"caller_param_name"`
		CallerParamValue string `yaml:"caller_param_value"`
	} `yaml:"upstream"`
	Cache struct {
		RedisURL           string `yaml:"redis_url"`
		SuccessTTLSeconds  int    `yaml:"success_ttl_seconds"`
		NotFoundTTLSeconds int    `yaml:"not_found_ttl_seconds"`
		MaxLocalItems      uint64 `yaml:"max_local_items"`
		CoalesceMisses     *bool  `yaml:"coalesce_misses"`
		Serialization      string `yaml:"serialization"`
	} `yaml:"cache"`
	RateLimit struct {
		MaxPerMinute    int    `yaml:"max_per_minute"`
		MaxPerHour      int    `yaml:"max_per_hour"`
		BlockMinutes    int    `yaml:"block_minutes"`
		CleanupSchedule string `yaml:"cleanup_schedule"`
	} `yaml:"rate_limit"`
	Client struct {
		RetryCount    *int `yaml:"retry_count"`
		BaseBackoffMS int  `yaml:"base_backoff_ms"`
	} `yaml:"client"`
}

// FromFile applies a YAML config file. A missing file is not an error.
func FromFile(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		raw, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}

		var f configFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}

		setString(&c.HTTPAddr, f.Service.HTTPAddr)
		setString(&c.Namespace, f.Service.Namespace)
		if len(f.Service.Warmup) > 0 {
			c.WarmupRefs = trimNonEmpty(f.Service.Warmup)
		}
		setString(&c.Upstream.BaseURL, f.Upstream.BaseURL)
		setMillis(&c.Upstream.RequestTimeout, f.Upstream.RequestTimeoutMS)
		setString(&c.Upstream.ReferenceParam, f.Upstream.ReferenceParam)
		setString(&c.Upstream.CallerParamName, f.Upstream.CallerParamName)
		setString(&c.Upstream.CallerParamValue, f.Upstream.CallerParamValue)
		setString(&c.Cache.RedisURL, f.Cache.RedisURL)
		setSeconds(&c.SuccessTTL, f.Cache.SuccessTTLSeconds)
		setSeconds(&c.NotFoundTTL, f.Cache.NotFoundTTLSeconds)
		if f.Cache.MaxLocalItems > 0 {
			c.Cache.MaxLocalItems = f.Cache.MaxLocalItems
		}
		if f.Cache.CoalesceMisses != nil {
			c.CoalesceMisses = *f.Cache.CoalesceMisses
		}
		if f.Cache.Serialization != "" {
			if err := WithSerialization(f.Cache.Serialization)(c); err != nil {
				return err
			}
		}
		setInt(&c.RateLimit.MaxRequestsPerMinute, f.RateLimit.MaxPerMinute)
		setInt(&c.RateLimit.MaxRequestsPerHour, f.RateLimit.MaxPerHour)
		if f.RateLimit.BlockMinutes > 0 {
			c.RateLimit.BlockDuration = time.Duration(f.RateLimit.BlockMinutes) * time.Minute
		}
		setString(&c.RateLimit.CleanupSchedule, f.RateLimit.CleanupSchedule)
		if f.Client.RetryCount != nil {
			c.Client.RetryCount = *f.Client.RetryCount
		}
		setMillis(&c.Client.BaseDelay, f.Client.BaseBackoffMS)
		return nil
	}
}

// FromEnv applies REFGATE_* environment overrides.
func FromEnv() Option {
	return fromEnv(os.Getenv)
}

func fromEnv(getenv func(string) string) Option {
	return func(c *Config) error {
		str := func(name string, dst *string) {
			if v := strings.TrimSpace(getenv(name)); v != "" {
				*dst = v
			}
		}
		num := func(name string) (int, bool, error) {
			raw := strings.TrimSpace(getenv(name))
			if raw == "" {
				return 0, false, nil
			}
			v, err := strconv.Atoi(raw)
			if err != nil {
				return 0, false, fmt.Errorf("parse %s: %w", name, err)
			}
			return v, true, nil
		}

		str("REFGATE_HTTP_ADDR", &c.HTTPAddr)
		str("REFGATE_NAMESPACE", &c.Namespace)
		str("REFGATE_UPSTREAM_URL", &c.Upstream.BaseURL)
		str("REFGATE_REDIS_URL", &c.Cache.RedisURL)
		str("REFGATE_CLEANUP_SCHEDULE", &c.RateLimit.CleanupSchedule)
		if raw := strings.TrimSpace(getenv("REFGATE_WARMUP_REFS")); raw != "" {
			c.WarmupRefs = trimNonEmpty(strings.Split(raw, ","))
		}

		durations := []struct {
			name string
			dst  *time.Duration
			unit time.Duration
		}{
			{"REFGATE_REQUEST_TIMEOUT_MS", &c.Upstream.RequestTimeout, time.Millisecond},
			{"REFGATE_SUCCESS_TTL_SECONDS", &c.SuccessTTL, time.Second},
			{"REFGATE_NOT_FOUND_TTL_SECONDS", &c.NotFoundTTL, time.Second},
			{"REFGATE_BLOCK_MINUTES", &c.RateLimit.BlockDuration, time.Minute},
			{"REFGATE_CLIENT_BACKOFF_MS", &c.Client.BaseDelay, time.Millisecond},
		}
		for _, d := range durations {
			v, ok, err := num(d.name)
			if err != nil {
				return err
			}
			if ok {
				*d.dst = time.Duration(v) * d.unit
			}
		}

		ints := []struct {
			name string
			dst  *int
		}{
			{"REFGATE_MAX_PER_MINUTE", &c.RateLimit.MaxRequestsPerMinute},
			{"REFGATE_MAX_PER_HOUR", &c.RateLimit.MaxRequestsPerHour},
			{"REFGATE_CLIENT_RETRY_COUNT", &c.Client.RetryCount},
		}
		for _, i := range ints {
			v, ok, err := num(i.name)
			if err != nil {
				return err
			}
			if ok {
				*i.dst = v
			}
		}
		return nil
	}
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setSeconds(dst *time.Duration, v int) {
	if v > 0 {
		*dst = time.Duration(v) * time.Second
	}
}

func setMillis(dst *time.Duration, v int) {
	if v > 0 {
		*dst = time.Duration(v) * time.Millisecond
	}
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
