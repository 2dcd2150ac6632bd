package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nucleus/fluxion/internal/core"
)

// =============================================================================
// FIELD MAPS
// Source column / JSON names for each canonical field, per row source.
// The first name present in a row wins.
// =============================================================================

// FieldMap lists the accepted source names of each canonical field.
type FieldMap struct {
	TransactionID []string
	LineNumber    []string
	Timestamp     []string
	Date          []string
	Time          []string
	SnapshotDate  []string
	SKU           []string
	Description   []string
	Quantity      []string
	UnitCost      []string
	UnitPrice     []string
}

// TabularFields maps column names returned by point-of-sale databases.
var TabularFields = FieldMap{
	TransactionID: []string{"transaction_id", "invoice_number", "document_number"},
	LineNumber:    []string{"line_number", "line_no", "item_line"},
	Timestamp:     []string{"sold_at", "transaction_at", "created_at"},
	Date:          []string{"transaction_date", "sale_date"},
	Time:          []string{"transaction_time", "sale_time"},
	SnapshotDate:  []string{"snapshot_date", "inventory_date"},
	SKU:           []string{"sku", "product_code", "item_code"},
	Description:   []string{"description", "product_name"},
	Quantity:      []string{"quantity", "qty", "units"},
	UnitCost:      []string{"unit_cost", "cost"},
	UnitPrice:     []string{"unit_price", "price"},
}

// RESTFields maps JSON field names returned by the aggregator.
var RESTFields = FieldMap{
	TransactionID: []string{"transactionId", "invoiceNumber", "documentNumber"},
	LineNumber:    []string{"lineNumber", "line"},
	Timestamp:     []string{"timestamp", "soldAt", "transactionAt"},
	Date:          []string{"date", "transactionDate"},
	Time:          []string{"time", "transactionTime"},
	SnapshotDate:  []string{"snapshotDate", "inventoryDate"},
	SKU:           []string{"sku", "productCode", "itemCode"},
	Description:   []string{"description", "productName"},
	Quantity:      []string{"quantity", "qty"},
	UnitCost:      []string{"unitCost", "cost"},
	UnitPrice:     []string{"unitPrice", "price"},
}

// lookup returns the first non-nil value among names, and the name used.
func lookup(fields map[string]any, names []string) (any, string, bool) {
	for _, name := range names {
		if v, ok := fields[name]; ok && v != nil {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			return v, name, true
		}
	}
	return nil, firstName(names), false
}

func firstName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// =============================================================================
// VALUE COERCION
// database/sql drivers return []byte for numeric columns and JSON decoding
// yields float64 or json.Number, so every accessor accepts all of them.
// =============================================================================

func asString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case []byte:
		return strings.TrimSpace(string(t)), nil
	case json.Number:
		return t.String(), nil
	case int, int32, int64:
		return fmt.Sprint(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	}
	return "", fmt.Errorf("unsupported type %T", v)
}

func asFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	}
	s, err := asString(v)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

func asInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case float64:
		if t != float64(int(t)) {
			return 0, fmt.Errorf("not an integer: %v", t)
		}
		return int(t), nil
	}
	s, err := asString(v)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return n, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	core.DateLayout,
}

var clockLayouts = []string{"15:04:05", "15:04", "15:04:05.999999"}

// asTime parses v as an instant. Values without an offset are read in loc.
func asTime(v any, loc *time.Location) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	s, err := asString(v)
	if err != nil {
		return time.Time{}, err
	}
	for _, layout := range timestampLayouts {
		if layout == time.RFC3339Nano {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// asDate returns the civil date of v in loc.
func asDate(v any, loc *time.Location) (string, error) {
	if t, ok := v.(time.Time); ok {
		// Drivers return DATE columns as UTC midnight; keep the civil date.
		if t.Location() == time.UTC && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			return t.Format(core.DateLayout), nil
		}
		return t.In(loc).Format(core.DateLayout), nil
	}
	t, err := asTime(v, loc)
	if err != nil {
		return "", err
	}
	return t.In(loc).Format(core.DateLayout), nil
}

// combineDateTime joins a civil date and a wall clock in loc.
func combineDateTime(date, clock any, loc *time.Location) (time.Time, error) {
	day, err := asDate(date, loc)
	if err != nil {
		return time.Time{}, err
	}
	base, _ := time.ParseInLocation(core.DateLayout, day, loc)
	if clock == nil {
		return base, nil
	}
	if t, ok := clock.(time.Time); ok {
		return time.Date(base.Year(), base.Month(), base.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
	}
	s, err := asString(clock)
	if err != nil {
		return time.Time{}, err
	}
	for _, layout := range clockLayouts {
		if c, err := time.Parse(layout, s); err == nil {
			return time.Date(base.Year(), base.Month(), base.Day(), c.Hour(), c.Minute(), c.Second(), c.Nanosecond(), loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time of day %q", s)
}
