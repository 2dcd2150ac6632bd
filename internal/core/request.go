package core

import (
	"fmt"
	"time"
)

// DataKind is the logical dataset extracted from a source.
type DataKind string

const (
	KindSales     DataKind = "sales"
	KindInventory DataKind = "inventory"
)

// Kinds lists every supported data kind.
var Kinds = []DataKind{KindSales, KindInventory}

// ParseDataKind validates a kind name.
func ParseDataKind(s string) (DataKind, error) {
	switch DataKind(s) {
	case KindSales, KindInventory:
		return DataKind(s), nil
	}
	return "", fmt.Errorf("unknown data kind %q", s)
}

// ParseKinds validates kind names. An empty list or "all" selects every
// kind.
func ParseKinds(names []string) ([]DataKind, error) {
	if len(names) == 0 || (len(names) == 1 && names[0] == "all") {
		return Kinds, nil
	}
	kinds := make([]DataKind, 0, len(names))
	for _, n := range names {
		k, err := ParseDataKind(n)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// Mode tags why an extraction was requested.
type Mode string

const (
	ModeLive     Mode = "live"
	ModeRecovery Mode = "recovery"
)

// TimeRange is the half-open interval [From, To).
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Duration returns the length of the range.
func (r TimeRange) Duration() time.Duration {
	return r.To.Sub(r.From)
}

// Empty reports whether the range contains no instant.
func (r TimeRange) Empty() bool {
	return !r.To.After(r.From)
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
}

// DayRange returns the calendar day containing t in loc.
func DayRange(t time.Time, loc *time.Location) TimeRange {
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return TimeRange{From: start, To: start.AddDate(0, 0, 1)}
}

// DaysRange covers the inclusive calendar days first..last in loc.
func DaysRange(first, last time.Time, loc *time.Location) TimeRange {
	return TimeRange{From: DayRange(first, loc).From, To: DayRange(last, loc).To}
}

// ParseDays parses the inclusive civil dates first..last (DateLayout) into
// the half-open range covering them in loc.
func ParseDays(first, last string, loc *time.Location) (TimeRange, error) {
	from, err := time.ParseInLocation(DateLayout, first, loc)
	if err != nil {
		return TimeRange{}, fmt.Errorf("invalid date %q: %w", first, err)
	}
	to, err := time.ParseInLocation(DateLayout, last, loc)
	if err != nil {
		return TimeRange{}, fmt.Errorf("invalid date %q: %w", last, err)
	}
	if to.Before(from) {
		return TimeRange{}, fmt.Errorf("date %s is before %s", last, first)
	}
	return DaysRange(from, to, loc), nil
}

// ExtractionRequest asks the orchestrator to sync one kind of one location
// over a range.
type ExtractionRequest struct {
	Location SourceLocation
	Kind     DataKind
	Range    TimeRange
	Mode     Mode
}

// Chunk is one bounded slice of an ExtractionRequest.
type Chunk struct {
	LocationID string
	Kind       DataKind
	Range      TimeRange
	Ordinal    int
}

// RowSource tags which connector family produced a raw row.
type RowSource string

const (
	SourceTabular RowSource = "tabular"
	SourceREST    RowSource = "rest"
)

// RawRow is a source row before normalization. Fields hold column values for
// tabular rows and decoded JSON values for REST rows.
type RawRow struct {
	Source RowSource
	Fields map[string]any
}
