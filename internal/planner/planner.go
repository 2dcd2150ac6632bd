// Package planner splits extraction ranges into bounded chunks.
//
// A plan is an ordered list of half-open ranges that tile the requested range
// exactly. Day-sized windows are aligned to midnight in the location's time
// zone so snapshot sources always receive whole calendar days.
package planner

import (
	"fmt"
	"time"

	"github.com/nucleus/fluxion/internal/core"
)

const day = 24 * time.Hour

// MinSplit is the shortest range Split will still halve.
const MinSplit = 2 * time.Hour

// Plan tiles r with sub-ranges no longer than window. When window is a whole
// number of days the boundaries fall on calendar midnights in loc.
func Plan(r core.TimeRange, window time.Duration, loc *time.Location) ([]core.TimeRange, error) {
	if r.Empty() {
		return nil, fmt.Errorf("empty or inverted range %s", r)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %v", window)
	}
	if loc == nil {
		loc = time.UTC
	}

	next := fixedStep(window)
	if window%day == 0 {
		next = calendarStep(int(window/day), loc)
	}

	var out []core.TimeRange
	for from := r.From; from.Before(r.To); {
		to := next(from)
		if to.After(r.To) {
			to = r.To
		}
		out = append(out, core.TimeRange{From: from, To: to})
		from = to
	}
	return out, nil
}

func fixedStep(window time.Duration) func(time.Time) time.Time {
	return func(from time.Time) time.Time { return from.Add(window) }
}

// calendarStep ends a chunk n calendar days after the start of from's day.
func calendarStep(n int, loc *time.Location) func(time.Time) time.Time {
	return func(from time.Time) time.Time {
		return core.DayRange(from, loc).From.AddDate(0, 0, n)
	}
}

// Chunks plans req into ordinal chunks.
func Chunks(req core.ExtractionRequest, window time.Duration) ([]core.Chunk, error) {
	ranges, err := Plan(req.Range, window, req.Location.Location())
	if err != nil {
		return nil, err
	}
	chunks := make([]core.Chunk, len(ranges))
	for i, r := range ranges {
		chunks[i] = core.Chunk{
			LocationID: req.Location.ID,
			Kind:       req.Kind,
			Range:      r,
			Ordinal:    i,
		}
	}
	return chunks, nil
}

// Split halves r on an hour boundary, or a whole second when no hour boundary
// falls inside r. It reports false when r is shorter than MinSplit.
func Split(r core.TimeRange) (core.TimeRange, core.TimeRange, bool) {
	if r.Duration() < MinSplit {
		return r, core.TimeRange{}, false
	}
	mid := r.From.Add(r.Duration() / 2).Truncate(time.Hour)
	if !mid.After(r.From) || !mid.Before(r.To) {
		mid = r.From.Add(r.Duration() / 2).Truncate(time.Second)
	}
	return core.TimeRange{From: r.From, To: mid}, core.TimeRange{From: mid, To: r.To}, true
}
