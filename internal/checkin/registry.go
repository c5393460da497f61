package checkin

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrFlowExpired marks a flow token that is unknown or past the OTP timeout.
var ErrFlowExpired = errors.New("check-in flow expired")

// Registry holds in-flight flows keyed by opaque token. Flows that do not
// complete within the OTP timeout are swept away.
type Registry struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	flows map[string]registryEntry
}

type registryEntry struct {
	flow    *Flow
	created time.Time
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:   ttl,
		now:   time.Now,
		flows: make(map[string]registryEntry),
	}
}

// Put registers a flow and returns its token.
func (r *Registry) Put(f *Flow) string {
	token := uuid.NewString()
	r.mu.Lock()
	r.flows[token] = registryEntry{flow: f, created: r.now()}
	r.mu.Unlock()
	return token
}

// Get resolves a token. Expired and unknown tokens both report ErrFlowExpired
// so callers cannot distinguish a swept flow from a fabricated token.
func (r *Registry) Get(token string) (*Flow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.flows[token]
	if !ok {
		return nil, ErrFlowExpired
	}
	if r.now().Sub(e.created) > r.ttl {
		delete(r.flows, token)
		return nil, ErrFlowExpired
	}
	return e.flow, nil
}

// Drop removes a completed flow.
func (r *Registry) Drop(token string) {
	r.mu.Lock()
	delete(r.flows, token)
	r.mu.Unlock()
}

// Sweep removes every expired flow and returns how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for token, e := range r.flows {
		if r.now().Sub(e.created) > r.ttl {
			delete(r.flows, token)
			n++
		}
	}
	return n
}

// Run sweeps periodically until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
