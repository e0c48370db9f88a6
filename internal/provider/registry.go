package provider

import (
	"fmt"
	"sync"
)

// Factory constructs a provider from its connection settings.
type Factory func(settings *Settings) (Provider, error)

// Registry maps provider names to loaded plugins. Lookup only; no logic
// beyond construction and caching.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]Provider),
	}
}

// Register makes a provider constructable under the given name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Load initializes and caches the named provider with the given settings.
// Loading an already loaded provider is a no-op.
func (r *Registry) Load(name string, settings *Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	factory, ok := r.factories[name]
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}

	p, err := factory(settings)
	if err != nil {
		return fmt.Errorf("failed to initialize provider %s: %w", name, err)
	}

	r.providers[name] = p
	return nil
}

// Get returns a loaded provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}
