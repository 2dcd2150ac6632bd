package workflow

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/nucleus/fluxion/internal/core"
	"github.com/nucleus/fluxion/internal/orchestration"
	"github.com/nucleus/fluxion/internal/reconcile"
)

// Locations resolves location ids to reference data.
type Locations interface {
	Select(ids []string) ([]core.SourceLocation, error)
}

// Syncer runs extraction requests.
type Syncer interface {
	Run(ctx context.Context, reqs []core.ExtractionRequest) orchestration.Report
}

// Reconciler runs a reconciliation pass over the last n days.
type Reconciler interface {
	ReconcileDays(ctx context.Context, locations []core.SourceLocation, n int) (reconcile.Report, error)
}

// RecoveryQueue holds the recovery requests emitted by the Reconciler.
type RecoveryQueue interface {
	Drain() []core.ExtractionRequest
}

// Activities holds the activity implementations.
type Activities struct {
	locations  Locations
	syncer     Syncer
	reconciler Reconciler
	queue      RecoveryQueue
	now        func() time.Time
}

// NewActivities creates a new Activities instance. queue must be the
// recovery sink the reconciler was built with.
func NewActivities(locations Locations, syncer Syncer, reconciler Reconciler, queue RecoveryQueue) *Activities {
	return &Activities{
		locations:  locations,
		syncer:     syncer,
		reconciler: reconciler,
		queue:      queue,
		now:        time.Now,
	}
}

// =============================================================================
// SYNC ACTIVITIES
// =============================================================================

// SyncLocationInput is the input for SyncLocation. From and To are
// inclusive civil dates in the location's time zone.
type SyncLocationInput struct {
	LocationID string   `json:"locationId"`
	Kinds      []string `json:"kinds,omitempty"`
	From       string   `json:"from,omitempty"`
	To         string   `json:"to,omitempty"`
}

// SyncLocationResult summarizes one location's sync.
type SyncLocationResult struct {
	LocationID    string `json:"locationId"`
	OK            bool   `json:"ok"`
	RunsSucceeded int    `json:"runsSucceeded"`
	RunsFailed    int    `json:"runsFailed"`
	Extracted     int64  `json:"extracted"`
	Loaded        int64  `json:"loaded"`
	Rejected      int64  `json:"rejected"`
	Error         string `json:"error,omitempty"`
}

// ListActiveLocations returns the ids of every active location.
func (a *Activities) ListActiveLocations(ctx context.Context) ([]string, error) {
	locs, err := a.locations.Select(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	ids := make([]string, len(locs))
	for i, l := range locs {
		ids[i] = l.ID
	}
	return ids, nil
}

// SyncLocation syncs one location. A location that fails after the
// orchestrator's own retries is reported in the result rather than as an
// activity error, so Temporal does not retry it again.
func (a *Activities) SyncLocation(ctx context.Context, input SyncLocationInput) (*SyncLocationResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("syncing location", "locationId", input.LocationID)

	locs, err := a.locations.Select([]string{input.LocationID})
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "UNKNOWN_LOCATION", err)
	}
	loc := locs[0]

	kinds, err := core.ParseKinds(input.Kinds)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "INVALID_INPUT", err)
	}
	r, err := a.syncRange(loc, input.From, input.To)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "INVALID_INPUT", err)
	}

	reqs := make([]core.ExtractionRequest, len(kinds))
	for i, kind := range kinds {
		reqs[i] = core.ExtractionRequest{Location: loc, Kind: kind, Range: r, Mode: core.ModeLive}
	}
	report := a.syncer.Run(ctx, reqs)
	if len(report.Locations) == 0 {
		return &SyncLocationResult{LocationID: loc.ID, OK: true}, nil
	}
	res := fromSummary(report.Locations[0])
	return &res, nil
}

// syncRange defaults to yesterday and today in the location's zone.
func (a *Activities) syncRange(loc core.SourceLocation, from, to string) (core.TimeRange, error) {
	tz := loc.Location()
	if from == "" && to == "" {
		now := a.now()
		return core.DaysRange(now.AddDate(0, 0, -1), now, tz), nil
	}
	if from == "" {
		from = to
	}
	if to == "" {
		to = from
	}
	return core.ParseDays(from, to, tz)
}

// =============================================================================
// RECONCILE ACTIVITIES
// =============================================================================

// ReconcileLocationsInput is the input for ReconcileLocations.
type ReconcileLocationsInput struct {
	LocationIDs []string `json:"locationIds,omitempty"`
	Days        int      `json:"days,omitempty"`
}

// DayCount is one reconciled key.
type DayCount struct {
	LocationID     string `json:"locationId"`
	Kind           string `json:"kind"`
	Day            string `json:"day"`
	SourceCount    int64  `json:"sourceCount"`
	WarehouseCount int64  `json:"warehouseCount"`
}

// RecoveryRequest asks for one day of one kind to be re-extracted.
type RecoveryRequest struct {
	LocationID string `json:"locationId"`
	Kind       string `json:"kind"`
	Day        string `json:"day"`
}

// ReconcileLocationsResult is the output of ReconcileLocations.
type ReconcileLocationsResult struct {
	Checked  int               `json:"checked"`
	Gaps     []DayCount        `json:"gaps,omitempty"`
	Over     []DayCount        `json:"over,omitempty"`
	Failures int               `json:"failures"`
	Resolved int               `json:"resolved"`
	Recovery []RecoveryRequest `json:"recovery,omitempty"`
}

// ReconcileLocations runs a reconciliation pass and returns the recovery
// requests it emitted.
func (a *Activities) ReconcileLocations(ctx context.Context, input ReconcileLocationsInput) (*ReconcileLocationsResult, error) {
	logger := activity.GetLogger(ctx)

	locs, err := a.locations.Select(input.LocationIDs)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "UNKNOWN_LOCATION", err)
	}
	report, err := a.reconciler.ReconcileDays(ctx, locs, input.Days)
	if err != nil {
		return nil, fmt.Errorf("reconciliation failed: %w", err)
	}

	res := &ReconcileLocationsResult{
		Checked:  len(report.Outcomes),
		Failures: len(report.Failures()),
		Resolved: report.Resolved(),
	}
	for _, o := range report.Gaps() {
		res.Gaps = append(res.Gaps, dayCount(o))
	}
	for _, o := range report.Over() {
		res.Over = append(res.Over, dayCount(o))
	}
	for _, req := range a.queue.Drain() {
		res.Recovery = append(res.Recovery, RecoveryRequest{
			LocationID: req.Location.ID,
			Kind:       string(req.Kind),
			Day:        req.Range.From.In(req.Location.Location()).Format(core.DateLayout),
		})
	}

	logger.Info("reconciliation finished", "checked", res.Checked, "gaps", len(res.Gaps), "recovery", len(res.Recovery))
	return res, nil
}

// RunRecovery runs recovery requests through the orchestrator. Requests for
// unknown locations are reported as failed locations.
func (a *Activities) RunRecovery(ctx context.Context, reqs []RecoveryRequest) (*SyncResult, error) {
	var (
		order    []string
		unknown  = make(map[string]string)
		extracts []core.ExtractionRequest
		resolved = make(map[string]core.SourceLocation)
	)
	for _, r := range reqs {
		loc, ok := resolved[r.LocationID]
		if !ok {
			if _, bad := unknown[r.LocationID]; bad {
				continue
			}
			order = append(order, r.LocationID)
			locs, err := a.locations.Select([]string{r.LocationID})
			if err != nil {
				unknown[r.LocationID] = err.Error()
				continue
			}
			loc = locs[0]
			resolved[r.LocationID] = loc
		}
		kind, err := core.ParseDataKind(r.Kind)
		if err != nil {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "INVALID_INPUT", err)
		}
		rng, err := core.ParseDays(r.Day, r.Day, loc.Location())
		if err != nil {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "INVALID_INPUT", err)
		}
		extracts = append(extracts, core.ExtractionRequest{Location: loc, Kind: kind, Range: rng, Mode: core.ModeRecovery})
	}

	byID := make(map[string]SyncLocationResult)
	if len(extracts) > 0 {
		for _, s := range a.syncer.Run(ctx, extracts).Locations {
			byID[s.LocationID] = fromSummary(s)
		}
	}
	out := &SyncResult{Locations: make([]SyncLocationResult, 0, len(order))}
	for _, id := range order {
		if msg, bad := unknown[id]; bad {
			out.Locations = append(out.Locations, SyncLocationResult{LocationID: id, Error: msg})
			continue
		}
		out.Locations = append(out.Locations, byID[id])
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func fromSummary(s orchestration.LocationSummary) SyncLocationResult {
	res := SyncLocationResult{
		LocationID:    s.LocationID,
		OK:            !s.Failed(),
		RunsSucceeded: s.RunsSucceeded,
		RunsFailed:    s.RunsFailed,
		Extracted:     s.Extracted,
		Loaded:        s.Loaded,
		Rejected:      s.Rejected,
	}
	if s.Failed() {
		res.Error = s.LastError
	}
	return res
}

func dayCount(o reconcile.Outcome) DayCount {
	return DayCount{
		LocationID:     o.LocationID,
		Kind:           string(o.Kind),
		Day:            o.Day,
		SourceCount:    o.SourceCount,
		WarehouseCount: o.WarehouseCount,
	}
}
