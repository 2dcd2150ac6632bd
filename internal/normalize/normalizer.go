// Package normalize maps raw source rows onto the canonical warehouse record.
//
// Rows are dispatched on their Source tag: tabular rows carry the column names
// of the point-of-sale databases, REST rows carry the aggregator's JSON field
// names. Both produce the same CanonicalRecord. Normalization is pure; it
// depends only on the row, the location and the chunk being loaded.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nucleus/fluxion/internal/core"
)

// Normalizer converts RawRows into CanonicalRecords.
type Normalizer struct {
	shifts ShiftTable
}

// New creates a normalizer bucketing hours with shifts. An empty table falls
// back to DefaultShifts.
func New(shifts ShiftTable) *Normalizer {
	if len(shifts) == 0 {
		shifts = DefaultShifts
	}
	return &Normalizer{shifts: shifts}
}

// Reject is a row that failed normalization.
type Reject struct {
	Index int
	Err   error
}

// Normalize maps one row. Rows missing a dedup-key field or the timestamp
// fail with an E_INVALID_RECORD error naming the field.
func (n *Normalizer) Normalize(loc core.SourceLocation, chunk core.Chunk, row core.RawRow) (core.CanonicalRecord, error) {
	var fm FieldMap
	switch row.Source {
	case core.SourceTabular:
		fm = TabularFields
	case core.SourceREST:
		fm = RESTFields
	default:
		return core.CanonicalRecord{}, core.SchemaError("source", fmt.Errorf("unknown row source %q", row.Source))
	}

	switch chunk.Kind {
	case core.KindSales:
		return n.sales(loc, row.Fields, fm)
	case core.KindInventory:
		return n.inventory(loc, chunk, row.Fields, fm)
	}
	return core.CanonicalRecord{}, core.SchemaError("kind", fmt.Errorf("unknown data kind %q", chunk.Kind))
}

// NormalizeAll maps every row, collecting failures instead of stopping.
func (n *Normalizer) NormalizeAll(loc core.SourceLocation, chunk core.Chunk, rows []core.RawRow) ([]core.CanonicalRecord, []Reject) {
	records := make([]core.CanonicalRecord, 0, len(rows))
	var rejects []Reject
	for i, row := range rows {
		rec, err := n.Normalize(loc, chunk, row)
		if err != nil {
			rejects = append(rejects, Reject{Index: i, Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, rejects
}

func (n *Normalizer) sales(loc core.SourceLocation, f map[string]any, fm FieldMap) (core.CanonicalRecord, error) {
	tz := loc.Location()

	txn, err := requiredString(f, fm.TransactionID)
	if err != nil {
		return core.CanonicalRecord{}, err
	}

	raw, name, ok := lookup(f, fm.LineNumber)
	if !ok {
		return core.CanonicalRecord{}, core.InvalidRecord(name, nil)
	}
	line, err := asInt(raw)
	if err != nil {
		return core.CanonicalRecord{}, core.InvalidRecord(name, err)
	}

	occurred, err := timestamp(f, fm, tz)
	if err != nil {
		return core.CanonicalRecord{}, err
	}

	rec := core.CanonicalRecord{
		Key: core.DedupKey{
			Kind:          core.KindSales,
			LocationID:    loc.ID,
			TransactionID: txn,
			LineNumber:    line,
		},
		OccurredAt: occurred.In(tz),
	}
	if err := n.fill(&rec, f, fm, tz); err != nil {
		return core.CanonicalRecord{}, err
	}
	return rec, nil
}

func (n *Normalizer) inventory(loc core.SourceLocation, chunk core.Chunk, f map[string]any, fm FieldMap) (core.CanonicalRecord, error) {
	tz := loc.Location()

	sku, err := requiredString(f, fm.SKU)
	if err != nil {
		return core.CanonicalRecord{}, err
	}

	// The snapshot date comes from the row when present, otherwise from the
	// chunk being extracted, never from the clock. An undated row is only
	// attributable when the chunk covers a single calendar day.
	day := chunk.Range.From.In(tz).Format(core.DateLayout)
	if raw, name, ok := lookup(f, fm.SnapshotDate); ok {
		if day, err = asDate(raw, tz); err != nil {
			return core.CanonicalRecord{}, core.InvalidRecord(name, err)
		}
	} else if chunk.Range.To.After(core.DayRange(chunk.Range.From, tz).To) {
		return core.CanonicalRecord{}, core.InvalidRecord(firstName(fm.SnapshotDate),
			fmt.Errorf("undated snapshot row in multi-day range %s", chunk.Range))
	}
	occurred, _ := time.ParseInLocation(core.DateLayout, day, tz)

	rec := core.CanonicalRecord{
		Key: core.DedupKey{
			Kind:           core.KindInventory,
			LocationID:     loc.ID,
			SKU:            sku,
			ExtractionDate: day,
		},
		OccurredAt: occurred,
		SKU:        sku,
	}
	if err := n.fill(&rec, f, fm, tz); err != nil {
		return core.CanonicalRecord{}, err
	}
	return rec, nil
}

// fill sets the optional fields and the derived attributes.
func (n *Normalizer) fill(rec *core.CanonicalRecord, f map[string]any, fm FieldMap, tz *time.Location) error {
	if v, _, ok := lookup(f, fm.SKU); ok && rec.SKU == "" {
		rec.SKU, _ = asString(v)
	}
	if v, _, ok := lookup(f, fm.Description); ok {
		rec.Description, _ = asString(v)
	}

	var err error
	if rec.Quantity, err = optionalFloat(f, fm.Quantity); err != nil {
		return err
	}
	if rec.UnitCost, err = optionalFloat(f, fm.UnitCost); err != nil {
		return err
	}
	if rec.UnitPrice, err = optionalFloat(f, fm.UnitPrice); err != nil {
		return err
	}

	local := rec.OccurredAt.In(tz)
	rec.Weekday = local.Weekday()
	rec.Shift = n.shifts.Bucket(local.Hour())

	rec.TotalRevenue = round(rec.Quantity * rec.UnitPrice)
	rec.TotalCost = round(rec.Quantity * rec.UnitCost)
	rec.Margin = round(rec.TotalRevenue - rec.TotalCost)
	if rec.TotalRevenue > 0 {
		rec.MarginPct = round(rec.Margin / rec.TotalRevenue)
	}
	return nil
}

// timestamp reads a full timestamp field, or a date plus optional time of day.
func timestamp(f map[string]any, fm FieldMap, tz *time.Location) (time.Time, error) {
	if raw, name, ok := lookup(f, fm.Timestamp); ok {
		t, err := asTime(raw, tz)
		if err != nil {
			return time.Time{}, core.InvalidRecord(name, err)
		}
		return t, nil
	}
	date, name, ok := lookup(f, fm.Date)
	if !ok {
		return time.Time{}, core.InvalidRecord(firstName(fm.Timestamp), nil)
	}
	clock, _, _ := lookup(f, fm.Time)
	t, err := combineDateTime(date, clock, tz)
	if err != nil {
		return time.Time{}, core.InvalidRecord(name, err)
	}
	return t, nil
}

func requiredString(f map[string]any, names []string) (string, error) {
	raw, name, ok := lookup(f, names)
	if !ok {
		return "", core.InvalidRecord(name, nil)
	}
	s, err := asString(raw)
	if err != nil {
		return "", core.InvalidRecord(name, err)
	}
	if s == "" {
		return "", core.InvalidRecord(name, errors.New("empty value"))
	}
	return s, nil
}

func optionalFloat(f map[string]any, names []string) (float64, error) {
	raw, name, ok := lookup(f, names)
	if !ok {
		return 0, nil
	}
	v, err := asFloat(raw)
	if err != nil {
		return 0, core.InvalidRecord(name, err)
	}
	return v, nil
}

// round keeps four decimal places, the precision of the warehouse columns.
func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
