// Package connector defines the uniform source connector contract and the
// registry and pool that hand connectors to the orchestrator and reconciler.
//
// Structure:
//
//	connector.go - Connector contract and credential lookup
//	registry.go  - protocol -> Factory registry
//	pool.go      - per-location connector cache with explicit Close
//	tabular/     - point-of-sale databases over database/sql
//	rest/        - the central REST aggregator
package connector

import (
	"context"

	"github.com/nucleus/fluxion/internal/core"
)

// Connector reads raw rows from one source.
//
// Implementations never retry. Failures are reported as core.Unreachable,
// core.Timeout or core.SchemaError so the orchestrator can apply its policy.
type Connector interface {
	// Extract returns every row of kind inside r for the location.
	Extract(ctx context.Context, loc core.SourceLocation, kind core.DataKind, r core.TimeRange) ([]core.RawRow, error)

	// Count returns the number of rows Extract would return, using a
	// lightweight probe where the source offers one.
	Count(ctx context.Context, loc core.SourceLocation, kind core.DataKind, r core.TimeRange) (int64, error)

	// Close releases network resources.
	Close() error
}

// Credentials resolves a credential reference to its secret.
type Credentials interface {
	Resolve(ref string) (string, error)
}

// NoCredentials resolves every reference to the empty string.
type NoCredentials struct{}

func (NoCredentials) Resolve(string) (string, error) { return "", nil }
