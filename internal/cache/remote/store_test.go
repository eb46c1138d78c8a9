package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStoreOpensBreakerWhenRedisIsDown(t *testing.T) {
	store, err := NewStore(unreachableClient(t), Options{
		RetryAttempts: 1,
		Breaker: gobreaker.Settings{
			Name:    "test",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 2
			},
		},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()

	var out string
	for i := 0; i < 2; i++ {
		if _, err := store.Get(ctx, "ref:AB12C", &out); err == nil {
			t.Fatal("expected error from unreachable redis")
		}
	}
	if store.BreakerState() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", store.BreakerState())
	}

	_, err = store.Get(ctx, "ref:AB12C", &out)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected ErrOpenState once open, got %v", err)
	}
}

func TestStoreRejectsNonPositiveTTL(t *testing.T) {
	store, err := NewStore(unreachableClient(t), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Set(context.Background(), "k", "v", 0); err == nil {
		t.Fatal("expected ttl error")
	}
}

func TestConnectFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Connect(ctx, "redis://127.0.0.1:1/0", Options{}); err == nil {
		t.Fatal("expected connect error")
	}
}
