package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nucleus/fluxion/internal/core"
	"github.com/nucleus/fluxion/internal/database"
)

// GapStore persists gaps. At most one open gap exists per (location, kind,
// day); gaps are resolved, never deleted.
type GapStore interface {
	// Open creates the open gap for g's key or refreshes its counts. It
	// reports whether a new gap was created.
	Open(ctx context.Context, g core.Gap) (bool, error)
	// Resolve closes the open gap for the key, if any.
	Resolve(ctx context.Context, locationID string, kind core.DataKind, day string, at time.Time) (bool, error)
	// ListOpen returns open gaps, all locations when locationID is empty.
	ListOpen(ctx context.Context, locationID string) ([]core.Gap, error)
}

func gapKey(locationID string, kind core.DataKind, day string) string {
	return locationID + "|" + string(kind) + "|" + day
}

// =============================================================================
// MEMORY
// =============================================================================

// MemoryGapStore keeps gaps in memory.
type MemoryGapStore struct {
	mu       sync.Mutex
	open     map[string]core.Gap
	resolved []core.Gap
}

// NewMemoryGapStore creates an empty store.
func NewMemoryGapStore() *MemoryGapStore {
	return &MemoryGapStore{open: make(map[string]core.Gap)}
}

func (m *MemoryGapStore) Open(ctx context.Context, g core.Gap) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := gapKey(g.LocationID, g.Kind, g.Day)
	if existing, ok := m.open[key]; ok {
		existing.SourceCount = g.SourceCount
		existing.WarehouseCount = g.WarehouseCount
		m.open[key] = existing
		return false, nil
	}
	g.Resolved = false
	m.open[key] = g
	return true, nil
}

func (m *MemoryGapStore) Resolve(ctx context.Context, locationID string, kind core.DataKind, day string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := gapKey(locationID, kind, day)
	g, ok := m.open[key]
	if !ok {
		return false, nil
	}
	delete(m.open, key)
	g.Resolved = true
	g.ResolvedAt = at
	m.resolved = append(m.resolved, g)
	return true, nil
}

func (m *MemoryGapStore) ListOpen(ctx context.Context, locationID string) ([]core.Gap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Gap
	for _, g := range m.open {
		if locationID == "" || g.LocationID == locationID {
			out = append(out, g)
		}
	}
	sortGaps(out)
	return out, nil
}

// Resolved returns every resolved gap in resolution order.
func (m *MemoryGapStore) Resolved() []core.Gap {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Gap(nil), m.resolved...)
}

func sortGaps(gaps []core.Gap) {
	sort.Slice(gaps, func(i, j int) bool {
		a, b := gaps[i], gaps[j]
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Day < b.Day
	})
}

// =============================================================================
// POSTGRES
// =============================================================================

// PostgresGapStore keeps gaps in the gaps table.
type PostgresGapStore struct {
	client *database.Client
}

// NewPostgresGapStore creates a store over client.
func NewPostgresGapStore(client *database.Client) *PostgresGapStore {
	return &PostgresGapStore{client: client}
}

// Open upserts against the partial unique index on open gaps.
func (s *PostgresGapStore) Open(ctx context.Context, g core.Gap) (bool, error) {
	detected := g.DetectedAt
	if detected.IsZero() {
		detected = time.Now().UTC()
	}
	var created bool
	err := s.client.DB().QueryRowContext(ctx, `
		INSERT INTO gaps (location_id, kind, day, source_count, warehouse_count, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (location_id, kind, day) WHERE NOT resolved DO UPDATE SET
			source_count = EXCLUDED.source_count,
			warehouse_count = EXCLUDED.warehouse_count,
			updated_at = NOW()
		RETURNING (xmax = 0)
	`, g.LocationID, string(g.Kind), g.Day, g.SourceCount, g.WarehouseCount, detected).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("failed to open gap: %w", err)
	}
	return created, nil
}

func (s *PostgresGapStore) Resolve(ctx context.Context, locationID string, kind core.DataKind, day string, at time.Time) (bool, error) {
	res, err := s.client.DB().ExecContext(ctx, `
		UPDATE gaps SET resolved = true, resolved_at = $4, updated_at = NOW()
		WHERE location_id = $1 AND kind = $2 AND day = $3 AND NOT resolved
	`, locationID, string(kind), day, at)
	if err != nil {
		return false, fmt.Errorf("failed to resolve gap: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to resolve gap: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresGapStore) ListOpen(ctx context.Context, locationID string) ([]core.Gap, error) {
	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT location_id, kind, day, source_count, warehouse_count, detected_at
		FROM gaps
		WHERE NOT resolved AND ($1::text = '' OR location_id = $1)
		ORDER BY location_id, kind, day
	`, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list gaps: %w", err)
	}
	defer rows.Close()

	var gaps []core.Gap
	for rows.Next() {
		var (
			g    core.Gap
			kind string
			day  time.Time
		)
		if err := rows.Scan(&g.LocationID, &kind, &day, &g.SourceCount, &g.WarehouseCount, &g.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan gap: %w", err)
		}
		g.Kind = core.DataKind(kind)
		g.Day = day.Format(core.DateLayout)
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}
