package multi

import (
	"context"
	"sync"
	"testing"
	"time"

	"goflare.io/refgate/internal/cache/limited"
	"goflare.io/refgate/internal/config"
	"goflare.io/refgate/internal/models"
	"goflare.io/refgate/pkg/serialization"
)

type fakeRemote struct {
	mu    sync.Mutex
	codec serialization.Codec
	data  map[string][]byte
	ttls  map[string]time.Duration
	reads int
}

func newFakeRemote(codec serialization.Codec) *fakeRemote {
	return &fakeRemote{codec: codec, data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRemote) Get(_ context.Context, key string, value any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[key]
	if !ok {
		return false, nil
	}
	return true, f.codec.Unmarshal(data, value)
}

func (f *fakeRemote) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := f.codec.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = data
	f.ttls[key] = ttl
	return nil
}

func (f *fakeRemote) GetBlob(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[key]
	return data, ok, nil
}

func (f *fakeRemote) SetBlob(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = data
	return nil
}

func (f *fakeRemote) GetBlobWithTTL(_ context.Context, key string) ([]byte, time.Duration, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	data, ok := f.data[key]
	return data, f.ttls[key], ok, nil
}

func (f *fakeRemote) Close() error { return nil }

func (f *fakeRemote) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func testBloomConfig() config.BloomFilterConfig {
	return config.BloomFilterConfig{ExpectedItems: 1000, FalsePositiveRate: 0.01, RedisKey: "test:bloom"}
}

func newTestCache(t *testing.T, remote *fakeRemote) *Cache {
	t.Helper()
	local, err := limited.NewStore(64, remote.codec, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewCache(context.Background(), local, remote, remote.codec, testBloomConfig(), nil)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func jsonCodec(t *testing.T) serialization.Codec {
	t.Helper()
	codec, err := serialization.NewCodec(serialization.JSONType)
	if err != nil {
		t.Fatal(err)
	}
	return codec
}

func TestCacheSkipsRemoteForUnwrittenKeys(t *testing.T) {
	remote := newFakeRemote(jsonCodec(t))
	c := newTestCache(t, remote)

	var out models.Resolution
	found, err := c.Get(context.Background(), "ref:NOPE", &out)
	if err != nil || found {
		t.Fatalf("Get found=%v err=%v", found, err)
	}
	if remote.readCount() != 0 {
		t.Fatalf("remote reads = %d, want 0", remote.readCount())
	}
	if got := c.Stats().BloomSkips; got != 1 {
		t.Fatalf("BloomSkips = %d, want 1", got)
	}
}

func TestCacheServesLocalAfterSet(t *testing.T) {
	remote := newFakeRemote(jsonCodec(t))
	c := newTestCache(t, remote)
	ctx := context.Background()

	in := models.Resolution{Reference: "AB12C", URL: "/listings/x-1", IsValid: true, StatusCode: 200}
	if err := c.Set(ctx, "ref:AB12C", in, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var out models.Resolution
	found, err := c.Get(ctx, "ref:AB12C", &out)
	if err != nil || !found {
		t.Fatalf("Get found=%v err=%v", found, err)
	}
	if out.URL != in.URL {
		t.Fatalf("URL = %q", out.URL)
	}
	if remote.readCount() != 0 {
		t.Fatalf("remote reads = %d, want 0", remote.readCount())
	}
}

func TestCacheLoadsSharedFilterAndBackfills(t *testing.T) {
	codec := jsonCodec(t)
	remote := newFakeRemote(codec)
	ctx := context.Background()

	writer := newTestCache(t, remote)
	in := models.Resolution{Reference: "ZZ9", StatusCode: 404}
	if err := writer.Set(ctx, "ref:ZZ9", in, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := writer.filter.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	reader := newTestCache(t, remote)
	var out models.Resolution
	found, err := reader.Get(ctx, "ref:ZZ9", &out)
	if err != nil || !found {
		t.Fatalf("Get found=%v err=%v", found, err)
	}
	if out.StatusCode != 404 {
		t.Fatalf("StatusCode = %d", out.StatusCode)
	}
	if remote.readCount() != 1 {
		t.Fatalf("remote reads = %d, want 1", remote.readCount())
	}

	found, _ = reader.Get(ctx, "ref:ZZ9", &out)
	if !found || remote.readCount() != 1 {
		t.Fatalf("second Get should be served locally, reads = %d", remote.readCount())
	}
}
