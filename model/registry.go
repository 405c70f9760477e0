// Package model holds the registration surface the runtime uses to
// construct per-architecture attention modules. The registry is an
// explicit object injected at startup rather than a process-wide
// singleton, so tests can build isolated registries and registration
// order never depends on package init side effects.
package model

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jlnh/ScaleLLM/attn"
	"github.com/jlnh/ScaleLLM/attn/errs"
)

// Factory constructs one architecture's attention module from the
// constants fixed at model load.
type Factory func(cfg attn.Config) (*attn.Orchestrator, error)

// Registry maps architecture names to attention-module factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds name to f. Registering the same name twice is a
// startup misconfiguration and fails.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("%w: registration requires a name and a factory", errs.ErrConfig)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: architecture %q already registered", errs.ErrConfig, name)
	}
	r.factories[name] = f
	return nil
}

// New constructs the attention module registered under name.
func (r *Registry) New(name string, cfg attn.Config) (*attn.Orchestrator, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown architecture %q", errs.ErrConfig, name)
	}
	return f(cfg)
}

// Architectures returns the registered names in sorted order.
func (r *Registry) Architectures() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
