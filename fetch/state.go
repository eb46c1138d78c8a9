package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// State is the lifecycle position of a Request.
type State int

const (
	Idle State = iota
	Loading
	Retrying
	WaitingOnline
	Succeeded
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Retrying:
		return "retrying"
	case WaitingOnline:
		return "waiting_online"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// ErrOffline is reported while a request waits for connectivity.
var ErrOffline = errors.New("fetch: offline")

// StatusError is a completed exchange with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Result is a successful response.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Snapshot is a consistent copy of a Request's observable state.
type Snapshot struct {
	State    State
	Result   *Result
	Err      error
	Retries  int
	Attempts int64
}
