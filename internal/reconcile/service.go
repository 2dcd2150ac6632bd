// Package reconcile compares source-of-truth counts against warehouse counts
// for completed days and turns shortfalls into gaps and recovery requests.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nucleus/fluxion/internal/connector"
	"github.com/nucleus/fluxion/internal/core"
	"github.com/nucleus/fluxion/internal/metrics"
	"github.com/nucleus/fluxion/internal/warehouse"
)

// DefaultDays is the default trailing window of completed days.
const DefaultDays = 7

// Class is the outcome of comparing two counts.
type Class string

const (
	ClassMatch Class = "match"
	ClassUnder Class = "under"
	ClassOver  Class = "over"
	// ClassError marks a key whose probe failed.
	ClassError Class = "error"
)

// Classify compares the source count against the warehouse count.
func Classify(source, warehouse int64) Class {
	switch {
	case source > warehouse:
		return ClassUnder
	case source < warehouse:
		return ClassOver
	}
	return ClassMatch
}

// Connectors hands out the connector for a location.
type Connectors interface {
	Get(loc core.SourceLocation) (connector.Connector, error)
}

// RecoverySink receives backfill requests for under-covered days.
type RecoverySink interface {
	Enqueue(req core.ExtractionRequest)
}

// Outcome is the result for one (location, kind, day).
type Outcome struct {
	LocationID     string
	Kind           core.DataKind
	Day            string
	SourceCount    int64
	WarehouseCount int64
	Class          Class
	// GapOpened is set when an under-covered day created a new gap.
	GapOpened bool
	// Resolved is set when a match closed an open gap.
	Resolved bool
	Err      error
}

// Options tune a Service.
type Options struct {
	Days    int
	Kinds   []core.DataKind
	Workers int
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Service runs reconciliation passes.
type Service struct {
	conns   Connectors
	counter warehouse.Counter
	gaps    GapStore
	sink    RecoverySink
	days    int
	kinds   []core.DataKind
	workers int
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewService creates a service. sink may be nil when recovery is not wanted.
func NewService(conns Connectors, counter warehouse.Counter, gaps GapStore, sink RecoverySink, opts Options) *Service {
	if opts.Days <= 0 {
		opts.Days = DefaultDays
	}
	if len(opts.Kinds) == 0 {
		opts.Kinds = core.Kinds
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		conns:   conns,
		counter: counter,
		gaps:    gaps,
		sink:    sink,
		days:    opts.Days,
		kinds:   opts.Kinds,
		workers: opts.Workers,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

// Window returns the n completed days before now in loc, oldest first.
func Window(now time.Time, loc *time.Location, n int) []core.TimeRange {
	today := core.DayRange(now, loc).From
	days := make([]core.TimeRange, 0, n)
	for i := n; i >= 1; i-- {
		from := today.AddDate(0, 0, -i)
		days = append(days, core.TimeRange{From: from, To: from.AddDate(0, 0, 1)})
	}
	return days
}

// Reconcile checks every active location over the trailing window. Probe
// failures are recorded in the report and never stop the pass; only
// cancellation of ctx does.
func (s *Service) Reconcile(ctx context.Context, locations []core.SourceLocation) (Report, error) {
	return s.ReconcileDays(ctx, locations, s.days)
}

// ReconcileDays is Reconcile over the last n completed days. A non-positive
// n selects the configured window.
func (s *Service) ReconcileDays(ctx context.Context, locations []core.SourceLocation, n int) (Report, error) {
	if n <= 0 {
		n = s.days
	}
	var (
		mu       sync.Mutex
		outcomes []Outcome
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, loc := range locations {
		if !loc.Active {
			continue
		}
		loc := loc
		g.Go(func() error {
			days := Window(s.now(), loc.Location(), n)
			for _, kind := range s.kinds {
				for _, day := range days {
					if gctx.Err() != nil {
						return nil
					}
					out := s.check(gctx, loc, kind, day, true)
					mu.Lock()
					outcomes = append(outcomes, out)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	g.Wait()

	report := newReport(outcomes)
	if err := ctx.Err(); err != nil {
		return report, err
	}
	s.logger.Info("reconciliation finished",
		zap.Int("checked", len(report.Outcomes)),
		zap.Int("gaps", len(report.Gaps())),
		zap.Int("over", len(report.Over())),
		zap.Int("failures", len(report.Failures())))
	return report, nil
}

// Recheck re-runs one key. It updates the gap like a pass does but never
// emits a recovery request.
func (s *Service) Recheck(ctx context.Context, loc core.SourceLocation, kind core.DataKind, day string) (Outcome, error) {
	d, err := time.ParseInLocation(core.DateLayout, day, loc.Location())
	if err != nil {
		return Outcome{}, fmt.Errorf("invalid day %q: %w", day, err)
	}
	out := s.check(ctx, loc, kind, core.DayRange(d, loc.Location()), false)
	return out, out.Err
}

func (s *Service) check(ctx context.Context, loc core.SourceLocation, kind core.DataKind, day core.TimeRange, emit bool) Outcome {
	out := Outcome{LocationID: loc.ID, Kind: kind, Day: day.From.Format(core.DateLayout)}
	log := s.logger.With(
		zap.String("location", loc.ID),
		zap.String("kind", string(kind)),
		zap.String("day", out.Day))

	fail := func(stage string, err error) Outcome {
		out.Class = ClassError
		out.Err = fmt.Errorf("%s probe: %w", stage, err)
		s.metrics.RecordProbeFailure(string(kind))
		log.Warn("reconciliation probe failed", zap.String("stage", stage), zap.Error(err))
		return out
	}

	conn, err := s.conns.Get(loc)
	if err != nil {
		return fail("source", err)
	}
	if out.SourceCount, err = conn.Count(ctx, loc, kind, day); err != nil {
		return fail("source", err)
	}
	if out.WarehouseCount, err = s.counter.CountDay(ctx, loc.ID, kind, out.Day); err != nil {
		return fail("warehouse", err)
	}

	out.Class = Classify(out.SourceCount, out.WarehouseCount)
	switch out.Class {
	case ClassMatch:
		resolved, err := s.gaps.Resolve(ctx, loc.ID, kind, out.Day, s.now().UTC())
		if err != nil {
			return fail("gap", err)
		}
		if resolved {
			out.Resolved = true
			s.metrics.RecordGapResolved(string(kind))
			log.Info("gap resolved", zap.Int64("count", out.SourceCount))
		}

	case ClassUnder:
		opened, err := s.gaps.Open(ctx, core.Gap{
			LocationID:     loc.ID,
			Kind:           kind,
			Day:            out.Day,
			SourceCount:    out.SourceCount,
			WarehouseCount: out.WarehouseCount,
			DetectedAt:     s.now().UTC(),
		})
		if err != nil {
			return fail("gap", err)
		}
		out.GapOpened = opened
		if opened {
			s.metrics.RecordGapOpened(string(kind))
		}
		log.Warn("under-covered day",
			zap.Int64("source", out.SourceCount),
			zap.Int64("warehouse", out.WarehouseCount))
		if emit && s.sink != nil {
			s.sink.Enqueue(core.ExtractionRequest{Location: loc, Kind: kind, Range: day, Mode: core.ModeRecovery})
		}

	case ClassOver:
		s.metrics.RecordOverCoverage(string(kind))
		log.Warn("over-covered day needs review",
			zap.Int64("source", out.SourceCount),
			zap.Int64("warehouse", out.WarehouseCount))
	}
	return out
}

// =============================================================================
// REPORT
// =============================================================================

// Report lists the outcome of every checked key, ordered by location, kind
// and day.
type Report struct {
	Outcomes []Outcome
}

func newReport(outcomes []Outcome) Report {
	sort.Slice(outcomes, func(i, j int) bool {
		a, b := outcomes[i], outcomes[j]
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Day < b.Day
	})
	return Report{Outcomes: outcomes}
}

func (r Report) filter(c Class) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Class == c {
			out = append(out, o)
		}
	}
	return out
}

// Gaps returns the under-covered keys.
func (r Report) Gaps() []Outcome { return r.filter(ClassUnder) }

// Over returns the over-covered keys flagged for manual review.
func (r Report) Over() []Outcome { return r.filter(ClassOver) }

// Failures returns keys whose probes failed.
func (r Report) Failures() []Outcome { return r.filter(ClassError) }

// Resolved counts gaps closed during the pass.
func (r Report) Resolved() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Resolved {
			n++
		}
	}
	return n
}
