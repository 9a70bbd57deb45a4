package algorithm

import (
	"fmt"
	"sync"
	"time"
)

// instanceKey is the composite identity an AlgorithmInstance is cached
// under: two policies sharing (kind, limit, window) share state.
type instanceKey struct {
	kind   Kind
	limit  int
	window time.Duration
}

// Registry is the idempotent (kind, limit, window) -> Algorithm instance
// cache. Two Policies that resolve to the same triple observe the same
// key-state, so a client that is reassigned between routes sharing a
// Policy does not have its accounting reset.
type Registry struct {
	mu        sync.RWMutex
	instances map[instanceKey]Algorithm
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[instanceKey]Algorithm)}
}

// GetOrCreate returns the Algorithm for (kind, limit, window), creating it
// on first request. Concurrent callers requesting the same triple for the
// first time are serialized; exactly one instance is created.
func (r *Registry) GetOrCreate(kind Kind, limit int, window time.Duration) (Algorithm, error) {
	k := instanceKey{kind: kind, limit: limit, window: window}

	r.mu.RLock()
	a, ok := r.instances[k]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.instances[k]; ok {
		return a, nil
	}

	a, err := New(kind, limit, window)
	if err != nil {
		return nil, fmt.Errorf("creating algorithm instance: %w", err)
	}
	r.instances[k] = a
	return a, nil
}

// Len reports how many distinct (kind, limit, window) instances are live.
// Used by tests and diagnostics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// Reset drops key's state from every cached Algorithm instance, regardless
// of kind/limit/window. A key that is not present on a given instance is
// left untouched, so resetting an unknown key is a no-op throughout.
func (r *Registry) Reset(key string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.instances {
		a.Reset(key)
	}
}

// EvictIdle drops idle per-key state from every cached Algorithm instance,
// bounding AlgorithmState memory growth the same way Metrics bounds its own
// frames.
func (r *Registry) EvictIdle(horizon time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.instances {
		a.EvictIdle(horizon)
	}
}

// Close releases every cached instance and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for k, a := range r.instances {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.instances, k)
	}
	return firstErr
}
