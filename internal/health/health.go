// Package health probes the booking service's dependencies: the session
// store, Redis, and the chain RPC provider. The server registers one checker
// per dependency at startup and the /health handler runs them on demand.
package health

import (
	"context"
	"sync"
)

// Status is the outcome of probing one dependency.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a single dependency. Checkers bound their own probe
// timeout; the registry passes the request context through unchanged.
type Checker func(ctx context.Context) Status

type entry struct {
	name  string
	check Checker
}

// Registry runs registered checkers in registration order, so /health output
// stays stable across requests.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a checker under a name. Registration happens during server
// construction; duplicate names are not rejected.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.entries = append(r.entries, entry{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll probes every dependency. The aggregate is healthy only when each
// probe is.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	entries := make([]entry, len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(entries))

	for i, e := range entries {
		statuses[i] = e.check(ctx)
		if !statuses[i].Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}
