package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nucleus/fluxion/internal/core"
)

// batchSize bounds how many statements are queued per round trip.
const batchSize = 500

// PostgresStore writes to the warehouse through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the warehouse and verifies the connection.
func NewPostgresStore(ctx context.Context, databaseURL string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse warehouse URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create warehouse pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping warehouse: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreWithPool wraps an existing pool.
func NewPostgresStoreWithPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// table describes the upsert statement for one kind.
type table struct {
	name     string
	columns  []string
	conflict []string
	values   func(rec core.CanonicalRecord, loadedAt time.Time) []any
}

var tables = map[core.DataKind]table{
	core.KindSales: {
		name: "sales_lines",
		columns: []string{
			"location_id", "transaction_id", "line_number", "occurred_at", "business_day",
			"weekday", "shift", "sku", "description", "quantity", "unit_cost", "unit_price",
			"total_cost", "total_revenue", "margin", "margin_pct", "loaded_at",
		},
		conflict: []string{"location_id", "transaction_id", "line_number"},
		values: func(rec core.CanonicalRecord, loadedAt time.Time) []any {
			return []any{
				rec.Key.LocationID, rec.Key.TransactionID, rec.Key.LineNumber, rec.OccurredAt, rec.Day(),
				int16(rec.Weekday), rec.Shift, rec.SKU, rec.Description, rec.Quantity, rec.UnitCost, rec.UnitPrice,
				rec.TotalCost, rec.TotalRevenue, rec.Margin, rec.MarginPct, loadedAt,
			}
		},
	},
	core.KindInventory: {
		name: "inventory_snapshots",
		columns: []string{
			"location_id", "sku", "extraction_date", "occurred_at",
			"weekday", "shift", "description", "quantity", "unit_cost", "unit_price",
			"total_cost", "total_revenue", "margin", "margin_pct", "loaded_at",
		},
		conflict: []string{"location_id", "sku", "extraction_date"},
		values: func(rec core.CanonicalRecord, loadedAt time.Time) []any {
			return []any{
				rec.Key.LocationID, rec.Key.SKU, rec.Key.ExtractionDate, rec.OccurredAt,
				int16(rec.Weekday), rec.Shift, rec.Description, rec.Quantity, rec.UnitCost, rec.UnitPrice,
				rec.TotalCost, rec.TotalRevenue, rec.Margin, rec.MarginPct, loadedAt,
			}
		},
	},
}

// upsertSQL builds the statement. The conflict update only applies when the
// stored row is not newer, and RETURNING reports whether the row was inserted.
func (t table) upsertSQL() string {
	conflict := make(map[string]bool, len(t.conflict))
	for _, c := range t.conflict {
		conflict[c] = true
	}
	var sets []string
	for _, c := range t.columns {
		if !conflict[c] {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	sets = append(sets, "updated_at = now()")

	return fmt.Sprintf(`INSERT INTO %s (%s)
VALUES (%s)
ON CONFLICT (%s) DO UPDATE SET %s
WHERE %s.loaded_at <= EXCLUDED.loaded_at
RETURNING (xmax = 0) AS inserted`,
		t.name,
		strings.Join(t.columns, ", "),
		placeholders(len(t.columns)),
		strings.Join(t.conflict, ", "),
		strings.Join(sets, ", "),
		t.name)
}

// Upsert writes records in a single transaction.
func (s *PostgresStore) Upsert(ctx context.Context, kind core.DataKind, records []core.CanonicalRecord, loadedAt time.Time) (Result, error) {
	t, ok := tables[kind]
	if !ok {
		return Result{}, fmt.Errorf("unknown data kind %q", kind)
	}
	stmt := t.upsertSQL()

	var res Result
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for start := 0; start < len(records); start += batchSize {
			end := start + batchSize
			if end > len(records) {
				end = len(records)
			}
			part, err := s.sendBatch(ctx, tx, stmt, t, records[start:end], loadedAt)
			if err != nil {
				return err
			}
			res.Inserted += part.Inserted
			res.Updated += part.Updated
			res.Stale += part.Stale
		}
		return nil
	})
	if err != nil {
		return Result{}, storeError(ctx, err)
	}
	return res, nil
}

func (s *PostgresStore) sendBatch(ctx context.Context, tx pgx.Tx, stmt string, t table, records []core.CanonicalRecord, loadedAt time.Time) (Result, error) {
	b := &pgx.Batch{}
	for _, rec := range records {
		b.Queue(stmt, t.values(rec, loadedAt)...)
	}

	br := tx.SendBatch(ctx, b)
	var res Result
	for range records {
		var inserted bool
		err := br.QueryRow().Scan(&inserted)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			res.Stale++
		case err != nil:
			br.Close()
			return Result{}, err
		case inserted:
			res.Inserted++
		default:
			res.Updated++
		}
	}
	return res, br.Close()
}

// CountDay counts stored rows of kind for one business day.
func (s *PostgresStore) CountDay(ctx context.Context, locationID string, kind core.DataKind, day string) (int64, error) {
	var query string
	switch kind {
	case core.KindSales:
		query = `SELECT COUNT(*) FROM sales_lines WHERE location_id = $1 AND business_day = $2::date`
	case core.KindInventory:
		query = `SELECT COUNT(*) FROM inventory_snapshots WHERE location_id = $1 AND extraction_date = $2::date`
	default:
		return 0, fmt.Errorf("unknown data kind %q", kind)
	}
	var n int64
	if err := s.pool.QueryRow(ctx, query, locationID, day).Scan(&n); err != nil {
		return 0, storeError(ctx, fmt.Errorf("count %s for %s on %s: %w", kind, locationID, day, err))
	}
	return n, nil
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ",")
}
