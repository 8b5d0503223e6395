package connector

import (
	"fmt"
	"sort"
	"sync"

	"bankfeed/internal/browser"
)

// Factory builds a connector bound to an automation driver.
type Factory func(driver browser.Driver) Connector

// Registry maps institution slugs to connector factories. The set of
// supported institutions is fixed at wiring time; Lookup is what the
// orchestrator uses to resolve a connection's slug into a connector.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the given slug. Registering the same slug
// twice is a programming error.
func (r *Registry) Register(slug string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[slug]; exists {
		return fmt.Errorf("connector: slug %q already registered", slug)
	}
	r.factories[slug] = factory
	return nil
}

// Lookup builds the connector for the given slug.
func (r *Registry) Lookup(slug string, driver browser.Driver) (Connector, error) {
	r.mu.RLock()
	factory, ok := r.factories[slug]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInstitution, slug)
	}
	return factory(driver), nil
}

// Slugs returns the registered institution slugs, sorted.
func (r *Registry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slugs := make([]string, 0, len(r.factories))
	for slug := range r.factories {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// DefaultRegistry returns a registry with every built-in adapter.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(bomSlug, func(driver browser.Driver) Connector { return NewBOM(driver) })
	r.Register(amexSlug, func(driver browser.Driver) Connector { return NewAmex(driver) })
	return r
}
