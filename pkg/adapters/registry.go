package adapters

import (
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Registry selects the adapter for a backend by name. Dispatch is an
// explicit lookup, never runtime type inspection. Each registration
// carries a semver constraint naming the buyer protocol versions the
// backend supports; Resolve refuses requests outside that range.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

type registryEntry struct {
	adapter  Adapter
	protocol *semver.Constraints
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds an adapter under its Name. protocolRange is a semver
// constraint such as ">= 1.0, < 3" naming the supported protocol
// versions; empty means any version.
func (r *Registry) Register(a Adapter, protocolRange string) error {
	var c *semver.Constraints
	if protocolRange != "" {
		parsed, err := semver.NewConstraint(protocolRange)
		if err != nil {
			return fmt.Errorf("adapters: invalid protocol range %q for %s: %w", protocolRange, a.Name(), err)
		}
		c = parsed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[a.Name()]; exists {
		return fmt.Errorf("adapters: backend %q already registered", a.Name())
	}
	r.entries[a.Name()] = registryEntry{adapter: a, protocol: c}
	return nil
}

// Resolve returns the adapter for the backend, checking the request's
// protocol version against the backend's supported range. An empty
// protocolVersion skips the gate.
func (r *Registry) Resolve(backend, protocolVersion string) (Adapter, error) {
	r.mu.RLock()
	entry, ok := r.entries[backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapters: unknown backend %q", backend)
	}
	if protocolVersion != "" && entry.protocol != nil {
		v, err := semver.NewVersion(protocolVersion)
		if err != nil {
			return nil, fmt.Errorf("adapters: invalid protocol version %q: %w", protocolVersion, err)
		}
		if !entry.protocol.Check(v) {
			return nil, fmt.Errorf("adapters: backend %q does not support protocol %s", backend, protocolVersion)
		}
	}
	return entry.adapter, nil
}

// Names returns the registered backend names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
