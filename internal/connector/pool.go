package connector

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nucleus/fluxion/internal/core"
)

// Pool caches one connector per location. The pool is owned by whoever
// created it and must be closed by that owner.
type Pool struct {
	registry *Registry
	creds    Credentials

	mu    sync.Mutex
	conns map[string]Connector
}

// NewPool creates a pool building connectors through registry.
func NewPool(registry *Registry, creds Credentials) *Pool {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Pool{
		registry: registry,
		creds:    creds,
		conns:    make(map[string]Connector),
	}
}

// Get returns the cached connector for loc, creating it on first use.
func (p *Pool) Get(loc core.SourceLocation) (Connector, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[loc.ID]; ok {
		return c, nil
	}
	c, err := p.registry.Create(loc.Connection, p.creds)
	if err != nil {
		return nil, fmt.Errorf("location %s: %w", loc.ID, err)
	}
	p.conns[loc.ID] = c
	return c, nil
}

// Put installs c for a location, replacing any cached connector.
func (p *Pool) Put(locationID string, c Connector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[locationID] = c
}

// Close closes every cached connector.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for id, c := range p.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		delete(p.conns, id)
	}
	return errors.Join(errs...)
}
