package breaker

import (
	"sync"

	"go.uber.org/zap"
)

// Registry hands out one breaker per key, created lazily on first use.
// It is injected wherever breakers are needed; there is no package-level
// instance.
type Registry struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry(cfg Config, log *zap.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		log:      log,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it if absent. Callers racing on
// the same key always receive the same instance.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = New(key, r.cfg, r.log)
		r.breakers[key] = b
	}
	return b
}

// Snapshots exports the current state of every breaker.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Snapshot, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.Snapshot()
	}
	return out
}

// Reset returns false when no breaker exists for key.
func (r *Registry) Reset(key string) bool {
	r.mu.Lock()
	b, ok := r.breakers[key]
	r.mu.Unlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}

func (r *Registry) ResetAll() {
	r.mu.Lock()
	bs := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		bs = append(bs, b)
	}
	r.mu.Unlock()
	for _, b := range bs {
		b.Reset()
	}
}
