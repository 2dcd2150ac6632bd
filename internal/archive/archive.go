// Package archive writes committed batches as Parquet objects to MinIO/S3 or
// a local directory. Objects are laid out as kind/location/day/run-id.parquet.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"

	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/nucleus/fluxion/internal/core"
)

// DefaultBucket is used when no bucket is configured.
const DefaultBucket = "fluxion-archive"

// Row is the Parquet layout of one canonical record.
type Row struct {
	LocationID     string  `parquet:"name=location_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind           string  `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	TransactionID  string  `parquet:"name=transaction_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	LineNumber     int32   `parquet:"name=line_number, type=INT32"`
	SKU            string  `parquet:"name=sku, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExtractionDate string  `parquet:"name=extraction_date, type=BYTE_ARRAY, convertedtype=UTF8"`
	OccurredAt     int64   `parquet:"name=occurred_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Weekday        int32   `parquet:"name=weekday, type=INT32"`
	Shift          string  `parquet:"name=shift, type=BYTE_ARRAY, convertedtype=UTF8"`
	Description    string  `parquet:"name=description, type=BYTE_ARRAY, convertedtype=UTF8"`
	Quantity       float64 `parquet:"name=quantity, type=DOUBLE"`
	UnitCost       float64 `parquet:"name=unit_cost, type=DOUBLE"`
	UnitPrice      float64 `parquet:"name=unit_price, type=DOUBLE"`
	TotalCost      float64 `parquet:"name=total_cost, type=DOUBLE"`
	TotalRevenue   float64 `parquet:"name=total_revenue, type=DOUBLE"`
	Margin         float64 `parquet:"name=margin, type=DOUBLE"`
	MarginPct      float64 `parquet:"name=margin_pct, type=DOUBLE"`
	RunID          string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func toRow(rec core.CanonicalRecord, runID string) Row {
	return Row{
		LocationID:     rec.Key.LocationID,
		Kind:           string(rec.Key.Kind),
		TransactionID:  rec.Key.TransactionID,
		LineNumber:     int32(rec.Key.LineNumber),
		SKU:            rec.SKU,
		ExtractionDate: rec.Key.ExtractionDate,
		OccurredAt:     rec.OccurredAt.UnixMilli(),
		Weekday:        int32(rec.Weekday),
		Shift:          rec.Shift,
		Description:    rec.Description,
		Quantity:       rec.Quantity,
		UnitCost:       rec.UnitCost,
		UnitPrice:      rec.UnitPrice,
		TotalCost:      rec.TotalCost,
		TotalRevenue:   rec.TotalRevenue,
		Margin:         rec.Margin,
		MarginPct:      rec.MarginPct,
		RunID:          runID,
	}
}

// Archiver writes batches to an object store.
type Archiver struct {
	store  ObjectStore
	bucket string
}

// New creates an archiver writing into bucket.
func New(store ObjectStore, bucket string) *Archiver {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &Archiver{store: store, bucket: bucket}
}

// Bucket returns the target bucket.
func (a *Archiver) Bucket() string {
	return a.bucket
}

// Key returns the object key for one business day of a run.
func Key(kind core.DataKind, locationID, day, runID string) string {
	return path.Join(string(kind), locationID, day, runID+".parquet")
}

// Archive writes records of run, one object per business day, and returns
// the keys written.
func (a *Archiver) Archive(ctx context.Context, run core.ExecutionRun, records []core.CanonicalRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if err := a.store.EnsureBucket(ctx, a.bucket); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket %s: %w", a.bucket, err)
	}

	byDay := make(map[string][]core.CanonicalRecord)
	for _, rec := range records {
		byDay[rec.Day()] = append(byDay[rec.Day()], rec)
	}
	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	keys := make([]string, 0, len(days))
	for _, day := range days {
		data, err := Encode(byDay[day], run.ID)
		if err != nil {
			return keys, err
		}
		key := Key(run.Kind, run.LocationID, day, run.ID)
		if err := a.store.PutObject(ctx, a.bucket, key, data); err != nil {
			return keys, fmt.Errorf("failed to put %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Encode renders records as a Snappy-compressed Parquet file.
func Encode(records []core.CanonicalRecord, runID string) ([]byte, error) {
	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewParquetWriter(pfw, new(Row), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		if err := pw.Write(toRow(rec, runID)); err != nil {
			_ = pw.WriteStop()
			_ = pfw.Close()
			return nil, fmt.Errorf("failed to write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = pfw.Close()
		return nil, fmt.Errorf("failed to finish parquet file: %w", err)
	}
	_ = pfw.Close()
	return buf.Bytes(), nil
}
