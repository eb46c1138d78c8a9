package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) Now() time.Time { return time.Time{} }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.timers))
	for i, t := range c.timers {
		out[i] = t.delay
	}
	return out
}

// fireLast runs the most recently scheduled timer, stopped or not.
func (c *fakeClock) fireLast(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	if len(c.timers) == 0 {
		c.mu.Unlock()
		t.Fatal("no timer scheduled")
	}
	timer := c.timers[len(c.timers)-1]
	c.mu.Unlock()
	timer.fn()
}

type scriptedDoer struct {
	mu    sync.Mutex
	calls int
	reply func(call int, req *http.Request) (*http.Response, error)
	seen  []*http.Request
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.calls++
	call := d.calls
	d.seen = append(d.seen, req)
	d.mu.Unlock()
	return d.reply(call, req)
}

func (d *scriptedDoer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func waitForState(t *testing.T, r *Request, want State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := r.Snapshot(); s.State == want {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", r.Snapshot().State, want)
	return Snapshot{}
}

func TestRequestRetriesWithBackoffThenSucceeds(t *testing.T) {
	clock := &fakeClock{}
	doer := &scriptedDoer{reply: func(call int, _ *http.Request) (*http.Response, error) {
		if call < 3 {
			return response(http.StatusBadGateway, `{"error":"upstream"}`), nil
		}
		return response(http.StatusOK, `{"url":"/listings/foo-123"}`), nil
	}}

	r, err := New(Target{URL: "http://gateway.test/reference/resolve?ref=AB12C"},
		WithClient(doer), WithClock(clock), WithCallerID("usr_1_abc"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r.Start()
	s := waitForState(t, r, Retrying)
	var statusErr *StatusError
	if !errors.As(s.Err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("Err = %v", s.Err)
	}
	clock.fireLast(t)

	if s := waitForState(t, r, Retrying); s.Retries != 2 {
		t.Fatalf("Retries = %d, want 2", s.Retries)
	}
	clock.fireLast(t)

	s, err = r.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if s.State != Succeeded || string(s.Result.Body) != `{"url":"/listings/foo-123"}` {
		t.Fatalf("snapshot = %+v", s)
	}
	if got := doer.callCount(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	if s.Attempts != 3 {
		t.Fatalf("Attempts = %d", s.Attempts)
	}
	delays := clock.delays()
	if len(delays) != 2 || delays[0] != 750*time.Millisecond || delays[1] != 1500*time.Millisecond {
		t.Fatalf("delays = %v", delays)
	}
	if got := doer.seen[0].Header.Get("X-Caller-Id"); got != "usr_1_abc" {
		t.Fatalf("caller header = %q", got)
	}
}

func TestRequestExhaustionArmsOnlineRecovery(t *testing.T) {
	clock := &fakeClock{}
	conn := NewManualConnectivity(true)
	var healthy sync.Mutex
	up := false
	doer := &scriptedDoer{reply: func(int, *http.Request) (*http.Response, error) {
		healthy.Lock()
		defer healthy.Unlock()
		if up {
			return response(http.StatusOK, "ok"), nil
		}
		return response(http.StatusInternalServerError, "down"), nil
	}}

	r, err := New(Target{URL: "http://gateway.test/x"},
		WithClient(doer), WithClock(clock), WithConnectivity(conn), WithRetry(1, 10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	r.Start()
	waitForState(t, r, Retrying)
	clock.fireLast(t)

	s, _ := r.Wait(context.Background())
	if s.State != Failed {
		t.Fatalf("state = %v", s.State)
	}
	var statusErr *StatusError
	if !errors.As(s.Err, &statusErr) || statusErr.StatusCode != 500 {
		t.Fatalf("Err = %v", s.Err)
	}

	healthy.Lock()
	up = true
	healthy.Unlock()
	conn.SetOnline(false)
	conn.SetOnline(true)

	waitForState(t, r, Succeeded)
	if got := doer.callCount(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestRequestWaitsForConnectivity(t *testing.T) {
	conn := NewManualConnectivity(false)
	doer := &scriptedDoer{reply: func(int, *http.Request) (*http.Response, error) {
		return response(http.StatusOK, "ok"), nil
	}}

	r, err := New(Target{URL: "http://gateway.test/x"}, WithClient(doer), WithConnectivity(conn))
	if err != nil {
		t.Fatal(err)
	}

	r.Start()
	s := r.Snapshot()
	if s.State != WaitingOnline || !errors.Is(s.Err, ErrOffline) || s.Attempts != 0 {
		t.Fatalf("snapshot = %+v", s)
	}

	conn.SetOnline(true)
	s, err = r.Wait(context.Background())
	if err != nil || s.State != Succeeded {
		t.Fatalf("snapshot = %+v err = %v", s, err)
	}
	if doer.callCount() != 1 {
		t.Fatalf("calls = %d", doer.callCount())
	}
}

func TestRefetchSupersedesInFlightCall(t *testing.T) {
	firstStarted := make(chan struct{})
	doer := &scriptedDoer{reply: func(call int, req *http.Request) (*http.Response, error) {
		if call == 1 {
			close(firstStarted)
			<-req.Context().Done()
			return nil, req.Context().Err()
		}
		return response(http.StatusOK, req.URL.Query().Get("ref")), nil
	}}

	r, err := New(Target{URL: "http://gateway.test/r?ref=OLD"}, WithClient(doer), WithClock(&fakeClock{}))
	if err != nil {
		t.Fatal(err)
	}

	r.Start()
	<-firstStarted
	r.Refetch(&Target{URL: "http://gateway.test/r?ref=NEW"})

	s, err := r.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.State != Succeeded || string(s.Result.Body) != "NEW" {
		t.Fatalf("snapshot = %+v", s)
	}

	time.Sleep(10 * time.Millisecond)
	if s := r.Snapshot(); s.State != Succeeded || s.Retries != 0 {
		t.Fatalf("stale completion leaked: %+v", s)
	}
}

func TestCancelIsNotAnError(t *testing.T) {
	clock := &fakeClock{}
	doer := &scriptedDoer{reply: func(int, *http.Request) (*http.Response, error) {
		return response(http.StatusServiceUnavailable, ""), nil
	}}

	r, err := New(Target{URL: "http://gateway.test/x"}, WithClient(doer), WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var seen []State
	unsubscribe := r.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.State)
		mu.Unlock()
	})
	defer unsubscribe()

	r.Start()
	waitForState(t, r, Retrying)
	r.Cancel()

	s, err := r.Wait(context.Background())
	if err != nil || s.State != Cancelled || s.Err != nil {
		t.Fatalf("snapshot = %+v err = %v", s, err)
	}

	// The stopped retry timer must not resurrect the request.
	clock.fireLast(t)
	if got := r.Snapshot().State; got != Cancelled {
		t.Fatalf("state after stale timer = %v", got)
	}
	if doer.callCount() != 1 {
		t.Fatalf("calls = %d", doer.callCount())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || seen[len(seen)-1] != Cancelled {
		t.Fatalf("subscriber saw %v", seen)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	r, err := New(Target{URL: "http://gateway.test/x"}, WithConnectivity(NewManualConnectivity(false)))
	if err != nil {
		t.Fatal(err)
	}
	r.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestWithRetryValidation(t *testing.T) {
	if _, err := New(Target{}, WithRetry(-1, time.Second)); err == nil {
		t.Fatal("expected error for negative retry count")
	}
	if _, err := New(Target{}, WithRetry(1, 0)); err == nil {
		t.Fatal("expected error for zero delay")
	}
}
