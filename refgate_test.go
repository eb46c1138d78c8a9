package refgate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/atomic"
)

func newUpstream(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	calls := atomic.NewInt32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Inc()
		switch r.URL.Query().Get("ref") {
		case "AB12C":
			_, _ = w.Write([]byte(`{"status":"ok","data":{"detailreq":"https://x/listings/foo-123"}}`))
		case "DOWN":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(`{"status":"fail","message":"Reference not found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func TestGatewayResolve(t *testing.T) {
	up, calls := newUpstream(t)
	g, err := New(context.Background(), WithUpstream(up.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	ctx := context.Background()
	out, err := g.Resolve(ctx, " ab-12c ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.Resolution.URL != "/listings/foo-123" || out.CacheHit() {
		t.Fatalf("out = %+v", out)
	}
	if out, _ = g.Resolve(ctx, "AB12C"); !out.CacheHit() {
		t.Fatal("second lookup should hit the cache")
	}

	out, _ = g.Resolve(ctx, "ZZ9")
	if !IsNotFound(out.Err) || out.Resolution.StatusCode != http.StatusNotFound {
		t.Fatalf("out = %+v", out)
	}

	out, _ = g.Resolve(ctx, "DOWN")
	if !errors.Is(out.Err, ErrUpstreamError) {
		t.Fatalf("Err = %v", out.Err)
	}

	if _, err := g.Resolve(ctx, "!!!"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("upstream calls = %d, want 3", got)
	}
	if stats := g.CacheStats(); stats.Hits != 1 || stats.Writes != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestGatewayWarmupAndHandler(t *testing.T) {
	up, calls := newUpstream(t)
	g, err := New(context.Background(), WithUpstream(up.URL), func(c *Config) error {
		c.WarmupRefs = []string{"AB12C"}
		return nil
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	if calls.Load() != 1 {
		t.Fatalf("warmup calls = %d", calls.Load())
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reference/resolve?ref=ab12c", nil)
	g.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("code = %d X-Cache = %q", rec.Code, rec.Header().Get("X-Cache"))
	}
	if got := g.Metrics().TotalRequests; got != 1 {
		t.Fatalf("TotalRequests = %d", got)
	}
}

func TestNewRequiresUpstream(t *testing.T) {
	if _, err := New(context.Background()); err == nil {
		t.Fatal("expected error without upstream")
	}
}
