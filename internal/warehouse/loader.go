// Package warehouse loads canonical records into the analytics warehouse.
//
// Loading is an upsert keyed by the dedup key: a record with an absent key is
// inserted, one with an existing key replaces the stored row when its load
// timestamp is not older. Every batch commits or rolls back as a whole.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nucleus/fluxion/internal/core"
)

// ErrBatchRejected is returned when too many rows of a batch were invalid.
var ErrBatchRejected = errors.New("batch rejected: invalid row rate above threshold")

// DefaultErrorRateThreshold is the largest tolerated share of invalid rows.
const DefaultErrorRateThreshold = 0.01

// Batch is one chunk's worth of canonical records.
type Batch struct {
	Kind    core.DataKind
	Records []core.CanonicalRecord

	// Rejected counts rows dropped by normalization before the batch was
	// built; they take part in the error-rate check.
	Rejected int
}

// Result summarizes one Load.
type Result struct {
	Inserted int64
	Updated  int64
	// Stale counts rows skipped because a newer load already wrote the key.
	Stale    int64
	Rejected int64
}

// Loaded returns the number of rows written.
func (r Result) Loaded() int64 {
	return r.Inserted + r.Updated
}

// Store persists records transactionally.
type Store interface {
	// Upsert writes records in one transaction stamped with loadedAt.
	Upsert(ctx context.Context, kind core.DataKind, records []core.CanonicalRecord, loadedAt time.Time) (Result, error)
	Counter
}

// Counter reports how many rows the warehouse holds for one business day.
type Counter interface {
	CountDay(ctx context.Context, locationID string, kind core.DataKind, day string) (int64, error)
}

// Loader validates batches and hands them to a Store.
type Loader struct {
	store     Store
	threshold float64
	now       func() time.Time
}

// NewLoader creates a loader. A non-positive threshold selects
// DefaultErrorRateThreshold.
func NewLoader(store Store, threshold float64) *Loader {
	if threshold <= 0 {
		threshold = DefaultErrorRateThreshold
	}
	return &Loader{store: store, threshold: threshold, now: time.Now}
}

// Store returns the underlying store.
func (l *Loader) Store() Store {
	return l.store
}

// Load upserts the batch. A batch whose invalid-row share exceeds the
// threshold is rejected whole with a schema error wrapping ErrBatchRejected.
func (l *Loader) Load(ctx context.Context, b Batch) (Result, error) {
	res := Result{Rejected: int64(b.Rejected)}

	total := len(b.Records) + b.Rejected
	if total == 0 {
		return res, nil
	}
	if rate := float64(b.Rejected) / float64(total); rate > l.threshold {
		return res, core.SchemaError("batch", fmt.Errorf("%w: %d of %d rows (%.2f%% > %.2f%%)",
			ErrBatchRejected, b.Rejected, total, rate*100, l.threshold*100))
	}

	records := Collapse(b.Records)
	if len(records) == 0 {
		return res, nil
	}

	written, err := l.store.Upsert(ctx, b.Kind, records, l.now().UTC())
	if err != nil {
		return res, storeError(ctx, err)
	}
	written.Rejected = res.Rejected
	return written, nil
}

// Collapse removes duplicate keys, keeping the last occurrence of each key at
// the position of its first occurrence.
func Collapse(records []core.CanonicalRecord) []core.CanonicalRecord {
	index := make(map[string]int, len(records))
	out := make([]core.CanonicalRecord, 0, len(records))
	for _, rec := range records {
		key := rec.Key.String()
		if i, ok := index[key]; ok {
			out[i] = rec
			continue
		}
		index[key] = len(out)
		out = append(out, rec)
	}
	return out
}

// storeError classifies a store failure. Cancellation of the load is a
// timeout, like cancellation anywhere else in a run; everything else not
// already coded is a database error.
func storeError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if core.CodeOf(err) == core.CodeTimeout {
			return err
		}
		return core.Timeout(err)
	}
	var ce core.CodedError
	if errors.As(err, &ce) {
		return err
	}
	return core.DBError(err)
}
