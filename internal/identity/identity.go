// Package identity provides the stable caller identifier: a persisted
// client-side id, and the server-side derivation from a request.
package identity

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultKey is the storage key holding the persisted id.
	DefaultKey = "refgate_caller_id"
	// DefaultPrefix starts every generated id.
	DefaultPrefix = "usr_"

	HeaderName = "X-Caller-Id"
	CookieName = "refgate_caller"

	randomLength = 9
)

// KV is the persisted client-side key-value capability.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Provider returns the same id for the lifetime of the backing KV. The id
// is for tracking only and carries no secret.
type Provider struct {
	mu     sync.Mutex
	kv     KV
	key    string
	prefix string
	now    func() time.Time
	cached string
}

// NewProvider creates a Provider over kv.
func NewProvider(kv KV) *Provider {
	return &Provider{kv: kv, key: DefaultKey, prefix: DefaultPrefix, now: time.Now}
}

// ID returns the persisted id, generating and persisting one on first use.
func (p *Provider) ID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" {
		return p.cached, nil
	}

	id, ok, err := p.kv.Get(p.key)
	if err != nil {
		return "", fmt.Errorf("read caller id: %w", err)
	}
	if ok && id != "" {
		p.cached = id
		return id, nil
	}

	id = p.generate()
	if err := p.kv.Set(p.key, id); err != nil {
		return "", fmt.Errorf("persist caller id: %w", err)
	}
	p.cached = id
	return id, nil
}

func (p *Provider) generate() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:randomLength]
	return fmt.Sprintf("%s%d_%s", p.prefix, p.now().UnixMilli(), random)
}

// FromRequest derives the caller id on the server: the X-Caller-Id header,
// then the caller cookie, then the remote host.
func FromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(HeaderName)); id != "" {
		return id
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
