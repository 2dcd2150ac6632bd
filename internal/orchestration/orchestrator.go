// Package orchestration drives extraction requests end to end:
//
//	plan -> per chunk { start run -> extract -> normalize -> load -> finish run -> archive }
//
// Locations run in parallel under a bounded pool; chunks of one location run
// strictly in order. Retryable failures (unreachable source, timeout) are
// retried with exponential backoff, and a range that keeps timing out is
// split in half. Every failure ends up on an ExecutionRun; none escapes Run.
package orchestration

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nucleus/fluxion/internal/connector"
	"github.com/nucleus/fluxion/internal/core"
	"github.com/nucleus/fluxion/internal/metrics"
	"github.com/nucleus/fluxion/internal/normalize"
	"github.com/nucleus/fluxion/internal/planner"
	"github.com/nucleus/fluxion/internal/reconcile"
	"github.com/nucleus/fluxion/internal/tracker"
	"github.com/nucleus/fluxion/internal/warehouse"
)

// DefaultWorkers bounds how many locations are processed at once.
const DefaultWorkers = 8

// Connectors hands out the connector for a location.
type Connectors interface {
	Get(loc core.SourceLocation) (connector.Connector, error)
}

// Archiver stores a copy of each committed batch.
type Archiver interface {
	Archive(ctx context.Context, run core.ExecutionRun, records []core.CanonicalRecord) ([]string, error)
}

// Rechecker re-runs reconciliation for one key after a recovery run.
type Rechecker interface {
	Recheck(ctx context.Context, loc core.SourceLocation, kind core.DataKind, day string) (reconcile.Outcome, error)
}

// Options tune an Orchestrator.
type Options struct {
	Retry RetryPolicy
	// ProtocolRetry overrides Retry per connector family.
	ProtocolRetry map[core.Protocol]RetryPolicy
	Workers       int
	// ChunkWindow overrides the descriptor's safe window for row-export
	// kinds. Snapshot kinds always use their own window.
	ChunkWindow time.Duration

	Archiver  Archiver
	Rechecker Rechecker
	Logger    *zap.Logger
	Metrics   *metrics.Collector
}

// Orchestrator runs extraction requests.
type Orchestrator struct {
	conns      Connectors
	normalizer *normalize.Normalizer
	loader     *warehouse.Loader
	tracker    *tracker.Tracker

	retry         RetryPolicy
	protocolRetry map[core.Protocol]RetryPolicy
	workers       int
	chunkWindow   time.Duration
	archiver      Archiver
	rechecker     Rechecker
	logger        *zap.Logger
	metrics       *metrics.Collector

	mu    sync.Mutex
	links map[string]*semaphore.Weighted

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator.
func New(conns Connectors, normalizer *normalize.Normalizer, loader *warehouse.Loader, tr *tracker.Tracker, opts Options) *Orchestrator {
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		conns:         conns,
		normalizer:    normalizer,
		loader:        loader,
		tracker:       tr,
		retry:         opts.Retry.withDefaults(),
		protocolRetry: opts.ProtocolRetry,
		workers:       opts.Workers,
		chunkWindow:   opts.ChunkWindow,
		archiver:      opts.Archiver,
		rechecker:     opts.Rechecker,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		links:         make(map[string]*semaphore.Weighted),
		sleep:         sleepContext,
	}
}

// RunQueue drains q and runs its requests.
func (o *Orchestrator) RunQueue(ctx context.Context, q *Queue) Report {
	return o.Run(ctx, q.Drain())
}

// Run processes reqs, one goroutine per location under the worker bound.
// Requests of one location run in the given order.
func (o *Orchestrator) Run(ctx context.Context, reqs []core.ExtractionRequest) Report {
	var order []string
	byLocation := make(map[string][]core.ExtractionRequest)
	summaries := make(map[string]*LocationSummary)
	for _, req := range reqs {
		id := req.Location.ID
		if _, ok := byLocation[id]; !ok {
			order = append(order, id)
			summaries[id] = &LocationSummary{LocationID: id, LocationName: req.Location.Name}
		}
		byLocation[id] = append(byLocation[id], req)
	}

	// Workers never return errors, so one location cannot cancel another.
	var g errgroup.Group
	g.SetLimit(o.workers)
	for _, id := range order {
		sum := summaries[id]
		locReqs := byLocation[id]
		g.Go(func() error {
			for _, req := range locReqs {
				o.runRequest(ctx, req, sum)
			}
			return nil
		})
	}
	g.Wait()

	report := Report{Locations: make([]LocationSummary, 0, len(order))}
	for _, id := range order {
		report.Locations = append(report.Locations, *summaries[id])
	}
	return report
}

func (o *Orchestrator) runRequest(ctx context.Context, req core.ExtractionRequest, sum *LocationSummary) {
	loc := req.Location
	log := o.logger.With(
		zap.String("location", loc.ID),
		zap.String("kind", string(req.Kind)),
		zap.String("mode", string(req.Mode)))

	chunks, err := planner.Chunks(req, o.window(loc, req.Kind))
	if err != nil {
		sum.ChunksFailed++
		sum.LastError = err.Error()
		log.Error("failed to plan request", zap.Stringer("range", req.Range), zap.Error(err))
		return
	}

	conn, err := o.conns.Get(loc)
	if err != nil {
		o.failBeforeStart(ctx, req, chunks[0], err, sum, log)
		sum.ChunksSkipped += len(chunks) - 1
		return
	}

	policy := o.policyFor(loc.Connection.Protocol)
	complete := true
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			sum.ChunksSkipped += len(chunks) - i
			complete = false
			break
		}
		if err := o.runChunk(ctx, req, conn, chunk, policy, sum, log); err != nil {
			complete = false
			sum.ChunksFailed++
			sum.LastError = err.Error()
			if core.CodeOf(err) == core.CodeUnreachable {
				rest := len(chunks) - i - 1
				sum.ChunksSkipped += rest
				if rest > 0 {
					log.Warn("source unreachable, skipping remaining chunks", zap.Int("skipped", rest))
				}
				break
			}
		}
	}

	if complete && req.Mode == core.ModeRecovery && o.rechecker != nil {
		o.recheck(ctx, req, sum, log)
	}
}

// task is a range still to be loaded together with its retry history.
type task struct {
	r        core.TimeRange
	attempts int
	timeouts int
	causedBy string
}

// runChunk loads one chunk, retrying retryable failures. When a timed-out
// range was split, a half that fails for good does not stop the other half,
// unless the source is unreachable or ctx is done. It returns the last
// terminal error when any part of the chunk could not be loaded.
func (o *Orchestrator) runChunk(ctx context.Context, req core.ExtractionRequest, conn connector.Connector, chunk core.Chunk, policy RetryPolicy, sum *LocationSummary, log *zap.Logger) error {
	var failed error
	tasks := []task{{r: chunk.Range}}
	for len(tasks) > 0 {
		t := tasks[0]
		tasks = tasks[1:]

		if failed != nil && (ctx.Err() != nil || core.CodeOf(failed) == core.CodeUnreachable) {
			log.Warn("dropping remaining sub-ranges of chunk",
				zap.Int("chunk", chunk.Ordinal), zap.Int("dropped", len(tasks)+1), zap.Error(failed))
			return failed
		}

		run, err := o.startRun(ctx, req, t)
		if err != nil {
			log.Error("failed to record run", zap.Error(err))
			return core.DBError(err)
		}

		sub := chunk
		sub.Range = t.r
		attemptLog := log.With(
			zap.String("run_id", run.ID),
			zap.Int("chunk", chunk.Ordinal),
			zap.Int("attempt", t.attempts+1))
		err = o.attempt(ctx, req.Location, conn, run, sub, sum, attemptLog)
		if err == nil {
			continue
		}
		if !shouldRetry(err) || ctx.Err() != nil || t.attempts >= policy.MaxRetries {
			failed = err
			continue
		}

		t.attempts++
		t.causedBy = run.ID
		backoff := policy.Backoff(t.attempts)
		o.metrics.RecordRetry(string(req.Kind), string(core.KindOf(err)))
		attemptLog.Info("retrying chunk", zap.Duration("backoff", backoff), zap.Error(err))
		if serr := o.sleep(ctx, backoff); serr != nil {
			failed = err
			continue
		}

		if core.CodeOf(err) != core.CodeTimeout {
			t.timeouts = 0
			tasks = append([]task{t}, tasks...)
			continue
		}
		t.timeouts++
		if t.timeouts >= 2 {
			if left, right, ok := planner.Split(t.r); ok {
				attemptLog.Info("narrowing range after repeated timeouts",
					zap.Stringer("left", left), zap.Stringer("right", right))
				tasks = append([]task{
					{r: left, attempts: t.attempts, causedBy: run.ID},
					{r: right, attempts: t.attempts, causedBy: run.ID},
				}, tasks...)
				continue
			}
		}
		tasks = append([]task{t}, tasks...)
	}
	return failed
}

func (o *Orchestrator) startRun(ctx context.Context, req core.ExtractionRequest, t task) (core.ExecutionRun, error) {
	if t.causedBy != "" {
		return o.tracker.Retry(ctx, t.causedBy, t.r)
	}
	return o.tracker.Start(ctx, tracker.Spec{
		Kind:         req.Kind,
		LocationID:   req.Location.ID,
		LocationName: req.Location.Name,
		Range:        t.r,
		Mode:         req.Mode,
	})
}

// attempt runs one chunk once under run and records the outcome on it.
func (o *Orchestrator) attempt(ctx context.Context, loc core.SourceLocation, conn connector.Connector, run core.ExecutionRun, chunk core.Chunk, sum *LocationSummary, log *zap.Logger) error {
	kind := string(chunk.Kind)
	start := time.Now()
	var counts tracker.Counts

	fail := func(err error) error {
		if _, ferr := o.tracker.Fail(ctx, run.ID, err, counts); ferr != nil {
			log.Error("failed to record run failure", zap.Error(ferr))
		}
		sum.RunsFailed++
		o.metrics.RecordRun(kind, string(core.RunFailed), string(core.KindOf(err)))
		o.metrics.RecordChunkDuration(kind, time.Since(start))
		log.Warn("chunk failed", zap.Stringer("range", chunk.Range), zap.Error(err))
		return err
	}

	link := o.link(loc.Connection)
	if err := link.Acquire(ctx, 1); err != nil {
		return fail(core.Timeout(err))
	}
	if _, err := o.tracker.Begin(ctx, run.ID); err != nil {
		link.Release(1)
		if ctx.Err() != nil {
			return fail(core.Timeout(err))
		}
		return fail(core.DBError(err))
	}
	rows, err := conn.Extract(ctx, loc, chunk.Kind, chunk.Range)
	link.Release(1)
	if err != nil {
		return fail(err)
	}
	counts.Extracted = int64(len(rows))

	records, rejects := o.normalizer.NormalizeAll(loc, chunk, rows)
	counts.Rejected = int64(len(rejects))
	for _, r := range rejects {
		log.Debug("row rejected", zap.Int("row", r.Index), zap.Error(r.Err))
	}

	res, err := o.loader.Load(ctx, warehouse.Batch{Kind: chunk.Kind, Records: records, Rejected: len(rejects)})
	if err != nil {
		return fail(err)
	}
	counts.Loaded = res.Loaded()

	finished, err := o.tracker.Finish(ctx, run.ID, counts)
	if err != nil {
		return fail(core.DBError(err))
	}

	sum.RunsSucceeded++
	sum.Extracted += counts.Extracted
	sum.Loaded += counts.Loaded
	sum.Rejected += counts.Rejected
	o.metrics.RecordRun(kind, string(core.RunSucceeded), "")
	o.metrics.RecordRows(kind, "extracted", counts.Extracted)
	o.metrics.RecordRows(kind, "loaded", counts.Loaded)
	o.metrics.RecordRows(kind, "rejected", counts.Rejected)
	o.metrics.RecordChunkDuration(kind, time.Since(start))
	log.Info("chunk loaded",
		zap.Stringer("range", chunk.Range),
		zap.Int64("extracted", counts.Extracted),
		zap.Int64("inserted", res.Inserted),
		zap.Int64("updated", res.Updated),
		zap.Int64("stale", res.Stale),
		zap.Int64("rejected", counts.Rejected))

	if o.archiver != nil {
		if _, err := o.archiver.Archive(ctx, finished, warehouse.Collapse(records)); err != nil {
			o.metrics.RecordArchiveFailure()
			log.Warn("failed to archive batch", zap.Error(err))
		}
	}
	return nil
}

// failBeforeStart records a run that failed before its connector started.
func (o *Orchestrator) failBeforeStart(ctx context.Context, req core.ExtractionRequest, chunk core.Chunk, cause error, sum *LocationSummary, log *zap.Logger) {
	sum.ChunksFailed++
	sum.RunsFailed++
	sum.LastError = cause.Error()
	log.Error("no connector for location", zap.Error(cause))

	run, err := o.startRun(ctx, req, task{r: chunk.Range})
	if err != nil {
		log.Error("failed to record run", zap.Error(err))
		return
	}
	if _, err := o.tracker.Fail(ctx, run.ID, cause, tracker.Counts{}); err != nil {
		log.Error("failed to record run failure", zap.Error(err))
	}
	o.metrics.RecordRun(string(req.Kind), string(core.RunFailed), string(core.KindOf(cause)))
}

func (o *Orchestrator) recheck(ctx context.Context, req core.ExtractionRequest, sum *LocationSummary, log *zap.Logger) {
	tz := req.Location.Location()
	for day := core.DayRange(req.Range.From, tz).From; day.Before(req.Range.To); day = day.AddDate(0, 0, 1) {
		d := day.Format(core.DateLayout)
		out, err := o.rechecker.Recheck(ctx, req.Location, req.Kind, d)
		if err != nil {
			log.Warn("recheck failed", zap.String("day", d), zap.Error(err))
		}
		sum.Rechecks = append(sum.Rechecks, out)
	}
}

func (o *Orchestrator) window(loc core.SourceLocation, kind core.DataKind) time.Duration {
	if o.chunkWindow > 0 && kind != core.KindInventory {
		return o.chunkWindow
	}
	return loc.Connection.WindowFor(kind)
}

func (o *Orchestrator) policyFor(p core.Protocol) RetryPolicy {
	if policy, ok := o.protocolRetry[p]; ok {
		return policy.withDefaults()
	}
	return o.retry
}

// link returns the semaphore enforcing the concurrency ceiling of d's link.
func (o *Orchestrator) link(d core.ConnectionDescriptor) *semaphore.Weighted {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := d.LinkID()
	sem, ok := o.links[id]
	if !ok {
		sem = semaphore.NewWeighted(int64(d.Ceiling()))
		o.links[id] = sem
	}
	return sem
}
