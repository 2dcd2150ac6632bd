package warehouse

import (
	"context"
	"sync"
	"time"

	"github.com/nucleus/fluxion/internal/core"
)

// StoredRow is a record with its load bookkeeping.
type StoredRow struct {
	Record    core.CanonicalRecord
	LoadedAt  time.Time
	UpdatedAt time.Time
}

// MemoryStore keeps the warehouse in memory. It is used by tests and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]StoredRow
	now  func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]StoredRow), now: time.Now}
}

// Upsert applies records atomically under the store lock.
func (m *MemoryStore) Upsert(ctx context.Context, kind core.DataKind, records []core.CanonicalRecord, loadedAt time.Time) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var res Result
	now := m.now()
	for _, rec := range records {
		key := rec.Key.String()
		stored, exists := m.rows[key]
		switch {
		case !exists:
			res.Inserted++
		case stored.LoadedAt.After(loadedAt):
			res.Stale++
			continue
		default:
			res.Updated++
		}
		m.rows[key] = StoredRow{Record: rec, LoadedAt: loadedAt, UpdatedAt: now}
	}
	return res, nil
}

// CountDay counts rows of kind for the location's business day.
func (m *MemoryStore) CountDay(ctx context.Context, locationID string, kind core.DataKind, day string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, row := range m.rows {
		k := row.Record.Key
		if k.Kind == kind && k.LocationID == locationID && row.Record.Day() == day {
			n++
		}
	}
	return n, nil
}

// Get returns the stored row for key.
func (m *MemoryStore) Get(key core.DedupKey) (StoredRow, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[key.String()]
	return row, ok
}

// Len returns the number of stored rows of kind.
func (m *MemoryStore) Len(kind core.DataKind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, row := range m.rows {
		if row.Record.Key.Kind == kind {
			n++
		}
	}
	return n
}
