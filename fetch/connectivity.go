package fetch

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Connectivity reports network reachability and announces recoveries.
type Connectivity interface {
	Online() bool
	// OnOnline registers f to run once at the next offline to online
	// transition. The returned func unregisters it.
	OnOnline(f func()) (cancel func())
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }
func (alwaysOnline) OnOnline(func()) (cancel func()) { return func() {} }

// listeners is a set of one-shot callbacks.
type listeners struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]func()
}

func (l *listeners) add(f func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[uint64]func())
	}
	id := l.next
	l.next++
	l.fns[id] = f
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners) fire() {
	l.mu.Lock()
	fns := l.fns
	l.fns = nil
	l.mu.Unlock()
	for _, f := range fns {
		f()
	}
}

// ManualConnectivity is driven by the embedding application.
type ManualConnectivity struct {
	mu        sync.Mutex
	online    bool
	listeners listeners
}

// NewManualConnectivity starts in the given state.
func NewManualConnectivity(online bool) *ManualConnectivity {
	return &ManualConnectivity{online: online}
}

func (m *ManualConnectivity) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *ManualConnectivity) OnOnline(f func()) func() {
	return m.listeners.add(f)
}

// SetOnline records the current state, firing listeners when it comes back.
func (m *ManualConnectivity) SetOnline(online bool) {
	m.mu.Lock()
	recovered := online && !m.online
	m.online = online
	m.mu.Unlock()
	if recovered {
		m.listeners.fire()
	}
}

// ProbeConnectivity considers the network up while a TCP dial to addr
// succeeds, probing every interval.
type ProbeConnectivity struct {
	manual   *ManualConnectivity
	addr     string
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewProbeConnectivity creates a prober. Call Run to start probing.
func NewProbeConnectivity(addr string, interval time.Duration, logger *zap.Logger) *ProbeConnectivity {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &net.Dialer{}
	return &ProbeConnectivity{
		manual:   NewManualConnectivity(true),
		addr:     addr,
		interval: interval,
		timeout:  interval / 2,
		logger:   logger,
		dial:     d.DialContext,
	}
}

func (p *ProbeConnectivity) Online() bool { return p.manual.Online() }

func (p *ProbeConnectivity) OnOnline(f func()) func() { return p.manual.OnOnline(f) }

// Run probes until ctx is done.
func (p *ProbeConnectivity) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.probe(ctx)
	for {
		select {
		case <-ticker.C:
			p.probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *ProbeConnectivity) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", p.addr)
	online := err == nil
	if online {
		_ = conn.Close()
	}
	if online != p.manual.Online() {
		p.logger.Info("Connectivity changed", zap.String("addr", p.addr), zap.Bool("online", online))
	}
	p.manual.SetOnline(online)
}
