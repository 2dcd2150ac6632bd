package orchestration

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nucleus/fluxion/internal/reconcile"
)

// LocationSummary aggregates the runs of one location.
type LocationSummary struct {
	LocationID   string
	LocationName string

	RunsSucceeded int
	RunsFailed    int
	// ChunksFailed counts chunks that ended failed after their retries.
	ChunksFailed int
	// ChunksSkipped counts chunks never attempted because the source was
	// unreachable or the run was cancelled.
	ChunksSkipped int

	Extracted int64
	Loaded    int64
	Rejected  int64

	LastError string
	Rechecks  []reconcile.Outcome
}

// Failed reports whether any chunk of the location was not loaded.
func (s LocationSummary) Failed() bool {
	return s.ChunksFailed > 0 || s.ChunksSkipped > 0
}

// Report is the outcome of one Run, one summary per location in request
// order.
type Report struct {
	Locations []LocationSummary
}

// OK reports whether every location loaded every chunk.
func (r Report) OK() bool {
	for _, s := range r.Locations {
		if s.Failed() {
			return false
		}
	}
	return true
}

// Failed returns the summaries of failed locations.
func (r Report) Failed() []LocationSummary {
	var out []LocationSummary
	for _, s := range r.Locations {
		if s.Failed() {
			out = append(out, s)
		}
	}
	return out
}

// Print writes a per-location table.
func (r Report) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCATION\tSTATUS\tRUNS OK\tRUNS FAILED\tEXTRACTED\tLOADED\tREJECTED\tLAST ERROR")
	for _, s := range r.Locations {
		status := "ok"
		if s.Failed() {
			status = "failed"
		}
		lastErr := s.LastError
		if !s.Failed() {
			lastErr = ""
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.LocationID, status, s.RunsSucceeded, s.RunsFailed, s.Extracted, s.Loaded, s.Rejected, lastErr)
	}
	return tw.Flush()
}
