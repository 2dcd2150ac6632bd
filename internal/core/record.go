package core

import (
	"strconv"
	"strings"
	"time"
)

// DateLayout is the civil-date format used in keys and day columns.
const DateLayout = "2006-01-02"

// DedupKey identifies one business transaction line (sales) or one SKU
// snapshot (inventory) across repeated extractions.
type DedupKey struct {
	Kind       DataKind
	LocationID string

	// Sales
	TransactionID string
	LineNumber    int

	// Inventory
	SKU            string
	ExtractionDate string
}

// String renders the key in a stable, unambiguous form.
func (k DedupKey) String() string {
	parts := []string{string(k.Kind), escapeKeyPart(k.LocationID)}
	switch k.Kind {
	case KindInventory:
		parts = append(parts, escapeKeyPart(k.SKU), k.ExtractionDate)
	default:
		parts = append(parts, escapeKeyPart(k.TransactionID), strconv.Itoa(k.LineNumber))
	}
	return strings.Join(parts, "|")
}

func escapeKeyPart(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "|", `\|`)
}

// CanonicalRecord is the warehouse representation of one source row.
type CanonicalRecord struct {
	Key DedupKey

	OccurredAt time.Time
	Weekday    time.Weekday
	Shift      string

	SKU         string
	Description string

	Quantity  float64
	UnitCost  float64
	UnitPrice float64

	TotalCost    float64
	TotalRevenue float64
	Margin       float64
	MarginPct    float64
}

// Day returns the civil day the record belongs to. OccurredAt is kept in the
// location's time zone, so this is the location's business day.
func (r CanonicalRecord) Day() string {
	if r.Key.Kind == KindInventory {
		return r.Key.ExtractionDate
	}
	return r.OccurredAt.Format(DateLayout)
}
