// Package tracker records every chunk extraction as an ExecutionRun and
// enforces its lifecycle:
//
//	pending -> running -> succeeded
//	                   -> failed
//	pending -> failed            (cancelled before the connector started)
//
// Terminal runs are never modified again. A retry is a new run that points at
// the failed one through CausedBy.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nucleus/fluxion/internal/core"
)

var (
	// ErrTerminal is returned for any transition out of succeeded or failed.
	ErrTerminal = errors.New("run is already terminal")
	// ErrInvalidTransition is returned for transitions the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid run state transition")
	// ErrNotFound is returned when no run has the given id.
	ErrNotFound = errors.New("run not found")
)

// terminalWriteTimeout bounds the detached context used for terminal writes.
const terminalWriteTimeout = 30 * time.Second

// Spec describes the chunk a new run covers.
type Spec struct {
	Kind         core.DataKind
	LocationID   string
	LocationName string
	Range        core.TimeRange
	Mode         core.Mode
}

// Counts are the row counters recorded on a terminal run.
type Counts struct {
	Extracted int64
	Loaded    int64
	Rejected  int64
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	LocationID string
	State      core.RunState
	Since      time.Time
	Limit      int
}

// Store persists runs. CompareAndSwap writes run only when the stored state
// still equals from and reports whether it did.
type Store interface {
	Create(ctx context.Context, run core.ExecutionRun) error
	Get(ctx context.Context, id string) (core.ExecutionRun, error)
	CompareAndSwap(ctx context.Context, from core.RunState, run core.ExecutionRun) (bool, error)
	List(ctx context.Context, f Filter) ([]core.ExecutionRun, error)
}

// Tracker drives runs through their lifecycle.
type Tracker struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates a tracker over store.
func New(store Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, logger: logger, now: time.Now}
}

// Start records a pending run for s.
func (t *Tracker) Start(ctx context.Context, s Spec) (core.ExecutionRun, error) {
	return t.create(ctx, s, "", 0)
}

// Retry records a pending run that retries prior over r. prior must be failed.
func (t *Tracker) Retry(ctx context.Context, priorID string, r core.TimeRange) (core.ExecutionRun, error) {
	prior, err := t.store.Get(ctx, priorID)
	if err != nil {
		return core.ExecutionRun{}, err
	}
	if prior.State != core.RunFailed {
		return core.ExecutionRun{}, fmt.Errorf("%w: retry of %s run %s", ErrInvalidTransition, prior.State, priorID)
	}
	return t.create(ctx, Spec{
		Kind:         prior.Kind,
		LocationID:   prior.LocationID,
		LocationName: prior.LocationName,
		Range:        r,
		Mode:         prior.Mode,
	}, prior.ID, prior.RetryCount+1)
}

func (t *Tracker) create(ctx context.Context, s Spec, causedBy string, retries int) (core.ExecutionRun, error) {
	if s.Mode == "" {
		s.Mode = core.ModeLive
	}
	run := core.ExecutionRun{
		ID:           uuid.New().String(),
		Kind:         s.Kind,
		LocationID:   s.LocationID,
		LocationName: s.LocationName,
		Requested:    s.Range,
		Mode:         s.Mode,
		State:        core.RunPending,
		RetryCount:   retries,
		CausedBy:     causedBy,
		CreatedAt:    t.now().UTC(),
	}
	if err := t.store.Create(ctx, run); err != nil {
		return core.ExecutionRun{}, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// Begin moves a pending run to running.
func (t *Tracker) Begin(ctx context.Context, id string) (core.ExecutionRun, error) {
	return t.transition(ctx, id, core.RunRunning, func(run *core.ExecutionRun) {
		run.StartedAt = t.now().UTC()
	})
}

// Finish marks a running run succeeded. The write ignores cancellation of ctx.
func (t *Tracker) Finish(ctx context.Context, id string, c Counts) (core.ExecutionRun, error) {
	ctx, cancel := detached(ctx)
	defer cancel()
	return t.transition(ctx, id, core.RunSucceeded, func(run *core.ExecutionRun) {
		run.FinishedAt = t.now().UTC()
		setCounts(run, c)
	})
}

// Fail marks a pending or running run failed with the error's kind. The write
// ignores cancellation of ctx so a cancelled run is never left running.
func (t *Tracker) Fail(ctx context.Context, id string, cause error, c Counts) (core.ExecutionRun, error) {
	ctx, cancel := detached(ctx)
	defer cancel()

	kind := core.KindOf(cause)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	} else {
		kind = core.ErrorKindUnknown
	}
	return t.transition(ctx, id, core.RunFailed, func(run *core.ExecutionRun) {
		run.FinishedAt = t.now().UTC()
		run.ErrorKind = kind
		run.ErrorMessage = msg
		setCounts(run, c)
	})
}

// Get returns one run.
func (t *Tracker) Get(ctx context.Context, id string) (core.ExecutionRun, error) {
	return t.store.Get(ctx, id)
}

// List returns runs matching f, newest first.
func (t *Tracker) List(ctx context.Context, f Filter) ([]core.ExecutionRun, error) {
	return t.store.List(ctx, f)
}

func (t *Tracker) transition(ctx context.Context, id string, to core.RunState, mutate func(*core.ExecutionRun)) (core.ExecutionRun, error) {
	run, err := t.store.Get(ctx, id)
	if err != nil {
		return core.ExecutionRun{}, err
	}
	from := run.State
	if err := CheckTransition(from, to); err != nil {
		return run, fmt.Errorf("run %s: %w", id, err)
	}

	run.State = to
	mutate(&run)
	ok, err := t.store.CompareAndSwap(ctx, from, run)
	if err != nil {
		return core.ExecutionRun{}, fmt.Errorf("failed to update run %s: %w", id, err)
	}
	if !ok {
		// Another writer moved the run first.
		current, err := t.store.Get(ctx, id)
		if err != nil {
			return core.ExecutionRun{}, err
		}
		return current, fmt.Errorf("run %s: %w", id, CheckTransition(current.State, to))
	}

	t.logger.Debug("run transition",
		zap.String("run_id", id),
		zap.String("location", run.LocationID),
		zap.String("kind", string(run.Kind)),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return run, nil
}

// CheckTransition validates one lifecycle step.
func CheckTransition(from, to core.RunState) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, from)
	}
	switch {
	case from == core.RunPending && to == core.RunRunning,
		from == core.RunPending && to == core.RunFailed,
		from == core.RunRunning && to == core.RunSucceeded,
		from == core.RunRunning && to == core.RunFailed:
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func setCounts(run *core.ExecutionRun, c Counts) {
	run.ExtractedCount = c.Extracted
	run.LoadedCount = c.Loaded
	run.RejectedCount = c.Rejected
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}
