package fetch

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/marketdata-hub/internal/reliability"
)

// Registration pairs a provider with its configured tier.
type Registration struct {
	Provider Provider
	Tier     reliability.Tier
}

// Registry holds the providers known to the process in registration order.
type Registry struct {
	mu    sync.RWMutex
	regs  map[string]Registration
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[string]Registration)}
}

// Register adds a provider. IDs must be unique.
func (r *Registry) Register(p Provider, tier reliability.Tier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if id == "" {
		return fmt.Errorf("provider has empty ID")
	}
	if _, exists := r.regs[id]; exists {
		return fmt.Errorf("provider %q already registered", id)
	}
	r.regs[id] = Registration{Provider: p, Tier: tier}
	r.order = append(r.order, id)

	logrus.WithFields(logrus.Fields{
		"provider": id,
		"tier":     tier.String(),
	}).Info("Registered provider")
	return nil
}

// Get returns a provider by ID.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[id]
	return reg.Provider, ok
}

// IDs returns provider IDs in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Registrations returns all registrations in registration order.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.regs[id])
	}
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
