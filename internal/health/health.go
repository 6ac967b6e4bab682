// Package health aggregates readiness probes for the server's moving
// parts: the database pool, the expiry sweeper, the billing driver, and
// the reconciliation timer all register a checker here.
package health

import (
	"context"
	"sync"
)

// Status is one subsystem's verdict.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a single subsystem.
type Checker func(ctx context.Context) Status

type entry struct {
	name  string
	probe Checker
}

// Registry runs registered checkers on demand, in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry returns an empty registry. An empty registry is healthy.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named checker.
func (r *Registry) Register(name string, probe Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{name: name, probe: probe})
}

// CheckAll probes every subsystem and reports the individual results plus
// whether all of them passed. Checkers run outside the registry lock so a
// slow probe never blocks Register.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	entries := append([]entry(nil), r.entries...)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, 0, len(entries))
	for _, e := range entries {
		st := e.probe(ctx)
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}
