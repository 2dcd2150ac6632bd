// Package core provides the shared data model used across all fluxion
// components. Connectors, the normalizer, the loader, the tracker and the
// reconciler exchange only these types.
//
// Structure:
//
//	location.go  - SourceLocation, ConnectionDescriptor, protocols
//	request.go   - DataKind, TimeRange, ExtractionRequest, Chunk, RawRow
//	record.go    - CanonicalRecord and its dedup key
//	run.go       - ExecutionRun and Gap records
//	errors.go    - Error taxonomy and classification
package core
