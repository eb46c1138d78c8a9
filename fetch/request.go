// Package fetch runs an HTTP GET with retry, exponential backoff,
// connectivity awareness and cancellation. Each Request owns at most one
// outstanding network call; starting it again supersedes the previous run.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"goflare.io/refgate/internal/retrier"
)

const (
	DefaultRetryCount = 3
	DefaultBaseDelay  = 750 * time.Millisecond

	callerHeader = "X-Caller-Id"
	maxBodyBytes = 4 << 20
)

// Doer sends an HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Target is what a Request fetches.
type Target struct {
	URL    string
	Header http.Header
}

// Option configures a Request.
type Option func(*Request) error

// WithClient sets the HTTP client.
func WithClient(d Doer) Option {
	return func(r *Request) error {
		r.doer = d
		return nil
	}
}

// WithClock sets the scheduler used for retry delays.
func WithClock(c Clock) Option {
	return func(r *Request) error {
		r.clock = c
		return nil
	}
}

// WithConnectivity sets the reachability source.
func WithConnectivity(c Connectivity) Option {
	return func(r *Request) error {
		r.conn = c
		return nil
	}
}

// WithRetry sets how many retries follow the first attempt and the delay
// before the first retry. Later retries double the delay.
func WithRetry(count int, baseDelay time.Duration) Option {
	return func(r *Request) error {
		if count < 0 {
			return errors.New("retry count must not be negative")
		}
		if baseDelay <= 0 {
			return errors.New("base delay must be positive")
		}
		r.retryCount = count
		r.baseDelay = baseDelay
		return nil
	}
}

// WithCallerID sends id in the X-Caller-Id header.
func WithCallerID(id string) Option {
	return func(r *Request) error {
		r.callerID = id
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Request) error {
		r.logger = logger
		return nil
	}
}

// Request is one logical fetch and its retry state.
type Request struct {
	doer       Doer
	clock      Clock
	conn       Connectivity
	backoff    *retrier.Retrier
	retryCount int
	baseDelay  time.Duration
	callerID   string
	logger     *zap.Logger
	attempts   atomic.Int64

	mu            sync.Mutex
	target        Target
	gen           uint64
	state         State
	result        *Result
	err           error
	retries       int
	cancelAttempt context.CancelFunc
	timer         Timer
	stopOnline    func()
	done          chan struct{}
	subs          map[uint64]func(Snapshot)
	nextSub       uint64
}

// New creates an idle Request for target.
func New(target Target, opts ...Option) (*Request, error) {
	r := &Request{
		doer:       http.DefaultClient,
		clock:      realClock{},
		conn:       alwaysOnline{},
		retryCount: DefaultRetryCount,
		baseDelay:  DefaultBaseDelay,
		logger:     zap.NewNop(),
		target:     target,
		done:       make(chan struct{}),
		subs:       make(map[uint64]func(Snapshot)),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	backoff, err := retrier.NewRetrier(
		r.retryCount+1,
		r.baseDelay,
		time.Hour,
		2,
		0,
		retrier.ExponentialBackoff,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backoff: %w", err)
	}
	r.backoff = backoff
	return r, nil
}

// Start begins fetching the current target.
func (r *Request) Start() {
	r.Refetch(nil)
}

// Refetch supersedes any run in progress and starts over, optionally with
// a new target.
func (r *Request) Refetch(override *Target) {
	r.mu.Lock()
	r.supersedeLocked()
	if override != nil {
		r.target = *override
	}
	r.gen++
	r.retries = 0
	r.result = nil
	r.err = nil
	r.reopenLocked()
	r.issueLocked(r.gen)
	r.publishLocked()
}

// Cancel stops the run. Cancellation is not an error.
func (r *Request) Cancel() {
	r.mu.Lock()
	r.supersedeLocked()
	r.gen++
	r.state = Cancelled
	r.err = nil
	r.finishLocked()
	r.publishLocked()
}

// Snapshot returns the current state.
func (r *Request) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Wait blocks until the current run ends or ctx is done.
func (r *Request) Wait(ctx context.Context) (Snapshot, error) {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

// Subscribe calls f after every state change until the returned func is
// called. f must not block.
func (r *Request) Subscribe(f func(Snapshot)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = f
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Attempts returns the number of network calls issued so far.
func (r *Request) Attempts() int64 {
	return r.attempts.Load()
}

func (r *Request) snapshotLocked() Snapshot {
	return Snapshot{
		State:    r.state,
		Result:   r.result,
		Err:      r.err,
		Retries:  r.retries,
		Attempts: r.attempts.Load(),
	}
}

// publishLocked releases the lock and notifies subscribers.
func (r *Request) publishLocked() {
	snap := r.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(r.subs))
	for _, f := range r.subs {
		subs = append(subs, f)
	}
	r.mu.Unlock()

	for _, f := range subs {
		f(snap)
	}
}

func (r *Request) supersedeLocked() {
	if r.cancelAttempt != nil {
		r.cancelAttempt()
		r.cancelAttempt = nil
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.stopOnline != nil {
		r.stopOnline()
		r.stopOnline = nil
	}
}

func (r *Request) reopenLocked() {
	select {
	case <-r.done:
		r.done = make(chan struct{})
	default:
	}
}

func (r *Request) finishLocked() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

func (r *Request) issueLocked(gen uint64) {
	if !r.conn.Online() {
		r.state = WaitingOnline
		r.err = ErrOffline
		r.armOnlineLocked(gen)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancelAttempt = cancel
	r.state = Loading
	r.attempts.Inc()
	go r.attempt(ctx, gen, r.target)
}

func (r *Request) armOnlineLocked(gen uint64) {
	r.stopOnline = r.conn.OnOnline(func() { r.online(gen) })
}

func (r *Request) online(gen uint64) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.stopOnline = nil
	r.retries = 0
	r.reopenLocked()
	r.issueLocked(gen)
	r.publishLocked()
}

func (r *Request) retry(gen uint64) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.issueLocked(gen)
	r.publishLocked()
}

func (r *Request) attempt(ctx context.Context, gen uint64, target Target) {
	result, err := r.do(ctx, target)
	r.complete(gen, result, err)
}

func (r *Request) do(ctx context.Context, target Target) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range target.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.callerID != "" {
		req.Header.Set(callerHeader, r.callerID)
	}

	resp, err := r.doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (r *Request) complete(gen uint64, result *Result, err error) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	if r.cancelAttempt != nil {
		r.cancelAttempt()
		r.cancelAttempt = nil
	}

	switch {
	case err == nil:
		r.state = Succeeded
		r.result = result
		r.err = nil
		r.finishLocked()

	case !r.conn.Online():
		r.logger.Debug("Request failed while offline, waiting for connectivity", zap.Error(err))
		r.state = WaitingOnline
		r.err = ErrOffline
		r.armOnlineLocked(gen)

	case r.retries < r.retryCount:
		r.retries++
		delay := r.backoff.Delay(r.retries - 1)
		r.logger.Debug("Request failed, retrying",
			zap.Int("retry", r.retries), zap.Duration("delay", delay), zap.Error(err))
		r.state = Retrying
		r.err = err
		r.timer = r.clock.AfterFunc(delay, func() { r.retry(gen) })

	default:
		r.logger.Warn("Request failed after retries", zap.Int("retries", r.retries), zap.Error(err))
		r.state = Failed
		r.err = err
		r.armOnlineLocked(gen)
		r.finishLocked()
	}
	r.publishLocked()
}
