// Package payment routes appointment charges across the bonus ledger and the
// configured primary payment method.
package payment

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Receipt is what a method reports after moving money.
type Receipt struct {
	Amount    int64
	Reference string
}

// Method is a named payment strategy. Pay may deliver less than asked; the
// orchestrator treats anything short of the full value as a failure.
type Method interface {
	Name() string
	// Coverage returns how much of value from could pay right now.
	Coverage(ctx context.Context, value int64, from string) (int64, error)
	Pay(ctx context.Context, value int64, from, to, notes string) (Receipt, error)
	// Refund reverses value of the payment identified by reference.
	Refund(ctx context.Context, reference string, value int64) (Receipt, error)
}

// Registry resolves methods by name. It is filled at startup.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// NewRegistry creates a registry holding methods.
func NewRegistry(methods ...Method) *Registry {
	r := &Registry{methods: make(map[string]Method, len(methods))}
	for _, m := range methods {
		r.Register(m)
	}
	return r
}

// Register adds m, replacing any method of the same name.
func (r *Registry) Register(m Method) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[m.Name()] = m
}

// Resolve returns the method called name.
func (r *Registry) Resolve(name string) (Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
	return m, nil
}

// Names lists the registered method names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
