package connector

import (
	"fmt"
	"slices"
	"sync"

	"github.com/nucleus/fluxion/internal/core"
)

// Factory builds a connector for a validated connection descriptor.
type Factory func(desc core.ConnectionDescriptor, creds Credentials) (Connector, error)

// Registry maps each source protocol to the factory that speaks it.
type Registry struct {
	mu        sync.RWMutex
	factories map[core.Protocol]Factory
}

// NewRegistry creates a registry with no protocols.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[core.Protocol]Factory)}
}

// Register installs the factory for protocol. Registering a protocol twice
// panics; each protocol package registers itself once from init.
func (r *Registry) Register(protocol core.Protocol, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[protocol]; dup {
		panic(fmt.Sprintf("connector: protocol %s registered twice", protocol))
	}
	r.factories[protocol] = factory
}

// Protocols returns the registered protocols, sorted.
func (r *Registry) Protocols() []core.Protocol {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Protocol, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Create checks desc against the requirements of its protocol and builds a
// connector for it. A descriptor missing what its protocol needs never
// reaches the factory.
func (r *Registry) Create(desc core.ConnectionDescriptor, creds Credentials) (Connector, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s connection: %w", desc.Protocol, err)
	}
	r.mu.RLock()
	factory, ok := r.factories[desc.Protocol]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no connector registered for protocol %s", desc.Protocol)
	}
	if creds == nil {
		creds = NoCredentials{}
	}
	c, err := factory(desc, creds)
	if err != nil {
		return nil, fmt.Errorf("build %s connector: %w", desc.Protocol, err)
	}
	return c, nil
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the registry the protocol packages register into.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register installs factory in the default registry.
func Register(protocol core.Protocol, factory Factory) {
	defaultRegistry.Register(protocol, factory)
}
