package warehouse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nucleus/fluxion/internal/core"
)

var dayD = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func saleLine(txn string, line int, qty float64) core.CanonicalRecord {
	return core.CanonicalRecord{
		Key:          core.DedupKey{Kind: core.KindSales, LocationID: "S1", TransactionID: txn, LineNumber: line},
		OccurredAt:   dayD,
		Weekday:      dayD.Weekday(),
		Shift:        "morning",
		SKU:          "A-100",
		Quantity:     qty,
		UnitPrice:    2,
		TotalRevenue: qty * 2,
	}
}

func threeLines() []core.CanonicalRecord {
	return []core.CanonicalRecord{saleLine("INV-1", 1, 1), saleLine("INV-1", 2, 2), saleLine("INV-2", 1, 3)}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func TestLoadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := &clock{t: dayD}
	store.now = c.now
	loader := NewLoader(store, 0)
	loader.now = c.now

	first, err := loader.Load(ctx, Batch{Kind: core.KindSales, Records: threeLines()})
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if first.Inserted != 3 || first.Updated != 0 {
		t.Errorf("first = %+v, want 3 inserted", first)
	}
	before, _ := store.Get(threeLines()[0].Key)

	second, err := loader.Load(ctx, Batch{Kind: core.KindSales, Records: threeLines()})
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if second.Inserted != 0 || second.Updated != 3 {
		t.Errorf("second = %+v, want 3 updated", second)
	}
	if n := store.Len(core.KindSales); n != 3 {
		t.Errorf("warehouse rows = %d, want 3", n)
	}
	after, _ := store.Get(threeLines()[0].Key)
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("updated_at not refreshed: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}

	n, _ := store.CountDay(ctx, "S1", core.KindSales, "2024-03-01")
	if n != 3 {
		t.Errorf("CountDay = %d, want 3", n)
	}
}

func TestLoadCollapsesDuplicateKeys(t *testing.T) {
	store := NewMemoryStore()
	loader := NewLoader(store, 0)

	records := append(threeLines(), saleLine("INV-1", 1, 9))
	res, err := loader.Load(context.Background(), Batch{Kind: core.KindSales, Records: records})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Inserted != 3 {
		t.Errorf("inserted = %d, want 3", res.Inserted)
	}
	row, _ := store.Get(saleLine("INV-1", 1, 0).Key)
	if row.Record.Quantity != 9 {
		t.Errorf("quantity = %v, want the last occurrence (9)", row.Record.Quantity)
	}
}

func TestLoadLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := saleLine("INV-1", 1, 1)

	newer := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	if _, err := store.Upsert(ctx, core.KindSales, []core.CanonicalRecord{rec}, newer); err != nil {
		t.Fatal(err)
	}
	old := rec
	old.Quantity = 99
	res, err := store.Upsert(ctx, core.KindSales, []core.CanonicalRecord{old}, newer.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if res.Stale != 1 || res.Updated != 0 {
		t.Errorf("result = %+v, want 1 stale", res)
	}
	row, _ := store.Get(rec.Key)
	if row.Record.Quantity != 1 {
		t.Errorf("older load overwrote a newer one: quantity = %v", row.Record.Quantity)
	}
}

func TestLoadRejectsBatchAboveThreshold(t *testing.T) {
	store := NewMemoryStore()
	loader := NewLoader(store, 0.01)

	// 3 valid + 1 rejected = 25% invalid.
	res, err := loader.Load(context.Background(), Batch{Kind: core.KindSales, Records: threeLines(), Rejected: 1})
	if !errors.Is(err, ErrBatchRejected) {
		t.Fatalf("err = %v, want ErrBatchRejected", err)
	}
	if core.KindOf(err) != core.ErrorKindSchema {
		t.Errorf("kind = %q, want schema", core.KindOf(err))
	}
	if res.Rejected != 1 || res.Loaded() != 0 {
		t.Errorf("result = %+v", res)
	}
	if store.Len(core.KindSales) != 0 {
		t.Error("rejected batch must not be partially committed")
	}
}

func TestLoadToleratesRejectsWithinThreshold(t *testing.T) {
	records := make([]core.CanonicalRecord, 0, 200)
	for i := 0; i < 199; i++ {
		records = append(records, saleLine("INV", i+1, 1))
	}
	loader := NewLoader(NewMemoryStore(), 0.01)
	res, err := loader.Load(context.Background(), Batch{Kind: core.KindSales, Records: records, Rejected: 1})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Inserted != 199 || res.Rejected != 1 {
		t.Errorf("result = %+v", res)
	}
}

type failingStore struct{ *MemoryStore }

func (failingStore) Upsert(context.Context, core.DataKind, []core.CanonicalRecord, time.Time) (Result, error) {
	return Result{}, errors.New("deadlock detected")
}

func TestLoadWrapsStoreErrors(t *testing.T) {
	loader := NewLoader(failingStore{NewMemoryStore()}, 0)
	_, err := loader.Load(context.Background(), Batch{Kind: core.KindSales, Records: threeLines()})
	if core.KindOf(err) != core.ErrorKindDB {
		t.Errorf("kind = %q (%v), want db", core.KindOf(err), err)
	}
}

type cancelledStore struct{ *MemoryStore }

func (cancelledStore) Upsert(context.Context, core.DataKind, []core.CanonicalRecord, time.Time) (Result, error) {
	return Result{}, fmt.Errorf("commit: %w", context.Canceled)
}

func TestLoadCancellationIsTimeout(t *testing.T) {
	tests := []struct {
		name  string
		store Store
		ctx   func() context.Context
	}{
		{"cancelled context", NewMemoryStore(), func() context.Context {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx
		}},
		{"driver reports cancellation", cancelledStore{NewMemoryStore()}, context.Background},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(tt.store, 0).Load(tt.ctx(), Batch{Kind: core.KindSales, Records: threeLines()})
			if core.KindOf(err) != core.ErrorKindTimeout {
				t.Errorf("kind = %q (%v), want timeout", core.KindOf(err), err)
			}
		})
	}
}

func TestLoadEmptyBatch(t *testing.T) {
	res, err := NewLoader(failingStore{}, 0).Load(context.Background(), Batch{Kind: core.KindSales})
	if err != nil || res != (Result{}) {
		t.Errorf("empty batch = %+v, %v", res, err)
	}
}

func TestUpsertSQL(t *testing.T) {
	stmt := tables[core.KindSales].upsertSQL()
	for _, want := range []string{
		"ON CONFLICT (location_id, transaction_id, line_number)",
		"WHERE sales_lines.loaded_at <= EXCLUDED.loaded_at",
		"RETURNING (xmax = 0)",
		"updated_at = now()",
		"$17",
	} {
		if !strings.Contains(stmt, want) {
			t.Errorf("statement missing %q:\n%s", want, stmt)
		}
	}
	if strings.Contains(stmt, "transaction_id = EXCLUDED.transaction_id") {
		t.Error("conflict columns must not be updated")
	}
}

// =============================================================================
// INTEGRATION TESTS
// Require FLUXION_TEST_DATABASE_URL with migrations applied.
// =============================================================================

func TestPostgresStore_Integration_Idempotent(t *testing.T) {
	url := os.Getenv("FLUXION_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FLUXION_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, `DELETE FROM sales_lines WHERE location_id = 'S1'`); err != nil {
		t.Skipf("warehouse schema not migrated: %v", err)
	}

	loader := NewLoader(NewPostgresStoreWithPool(pool), 0)
	for i, want := range []Result{{Inserted: 3}, {Updated: 3}} {
		got, err := loader.Load(ctx, Batch{Kind: core.KindSales, Records: threeLines()})
		if err != nil {
			t.Fatalf("Load %d: %v", i, err)
		}
		if got.Inserted != want.Inserted || got.Updated != want.Updated {
			t.Errorf("Load %d = %+v, want %+v", i, got, want)
		}
	}

	n, err := NewPostgresStoreWithPool(pool).CountDay(ctx, "S1", core.KindSales, "2024-03-01")
	if err != nil {
		t.Fatalf("CountDay: %v", err)
	}
	if n != 3 {
		t.Errorf("CountDay = %d, want 3", n)
	}
}
