// Package workflow provides the Temporal workflows that schedule fluxion's
// sync and reconciliation passes.
package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// =============================================================================
// WORKFLOW NAMES
// =============================================================================

const (
	SyncWorkflowName      = "syncWorkflow"
	ReconcileWorkflowName = "reconcileWorkflow"
)

// =============================================================================
// ACTIVITY OPTIONS
// =============================================================================

var defaultActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 6 * time.Hour,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    time.Second * 5,
		BackoffCoefficient: 2.0,
		MaximumInterval:    time.Minute * 5,
		MaximumAttempts:    3,
	},
}

var listActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    time.Second * 5,
		BackoffCoefficient: 2.0,
		MaximumInterval:    time.Minute * 5,
		MaximumAttempts:    3,
	},
}

// =============================================================================
// WORKFLOW INPUTS/OUTPUTS
// =============================================================================

// SyncInput is the input for SyncWorkflow. Empty LocationIDs selects every
// active location; empty From/To syncs yesterday and today.
type SyncInput struct {
	LocationIDs []string `json:"locationIds,omitempty"`
	Kinds       []string `json:"kinds,omitempty"`
	From        string   `json:"from,omitempty"`
	To          string   `json:"to,omitempty"`
}

// SyncResult is the output of SyncWorkflow.
type SyncResult struct {
	Locations []SyncLocationResult `json:"locations"`
}

// Failed returns the locations that did not sync fully.
func (r SyncResult) Failed() []SyncLocationResult {
	var out []SyncLocationResult
	for _, l := range r.Locations {
		if !l.OK {
			out = append(out, l)
		}
	}
	return out
}

// ReconcileInput is the input for ReconcileWorkflow.
type ReconcileInput struct {
	LocationIDs []string `json:"locationIds,omitempty"`
	Days        int      `json:"days,omitempty"`
	Recover     bool     `json:"recover,omitempty"`
}

// ReconcileResult is the output of ReconcileWorkflow.
type ReconcileResult struct {
	Reconcile ReconcileLocationsResult `json:"reconcile"`
	Recovery  *SyncResult              `json:"recovery,omitempty"`
}

// =============================================================================
// SYNC WORKFLOW
// =============================================================================

// SyncWorkflowFunc syncs each location in its own activity, so one failing
// location is reported without failing the workflow.
func SyncWorkflowFunc(ctx workflow.Context, input SyncInput) (*SyncResult, error) {
	logger := workflow.GetLogger(ctx)

	ids := input.LocationIDs
	if len(ids) == 0 {
		listCtx := workflow.WithActivityOptions(ctx, listActivityOptions)
		if err := workflow.ExecuteActivity(listCtx, "ListActiveLocations").Get(ctx, &ids); err != nil {
			return nil, err
		}
	}

	actCtx := workflow.WithActivityOptions(ctx, defaultActivityOptions)
	futures := make([]workflow.Future, len(ids))
	for i, id := range ids {
		futures[i] = workflow.ExecuteActivity(actCtx, "SyncLocation", SyncLocationInput{
			LocationID: id,
			Kinds:      input.Kinds,
			From:       input.From,
			To:         input.To,
		})
	}

	result := &SyncResult{Locations: make([]SyncLocationResult, 0, len(ids))}
	for i, f := range futures {
		var loc SyncLocationResult
		if err := f.Get(ctx, &loc); err != nil {
			logger.Warn("location sync failed", "locationId", ids[i], "error", err)
			loc = SyncLocationResult{LocationID: ids[i], Error: err.Error()}
		}
		result.Locations = append(result.Locations, loc)
	}

	logger.Info("sync finished", "locations", len(ids), "failed", len(result.Failed()))
	return result, nil
}

// =============================================================================
// RECONCILE WORKFLOW
// =============================================================================

// ReconcileWorkflowFunc compares source and warehouse counts and, when
// asked, runs the recovery requests it produced.
func ReconcileWorkflowFunc(ctx workflow.Context, input ReconcileInput) (*ReconcileResult, error) {
	logger := workflow.GetLogger(ctx)
	actCtx := workflow.WithActivityOptions(ctx, defaultActivityOptions)

	var rec ReconcileLocationsResult
	err := workflow.ExecuteActivity(actCtx, "ReconcileLocations", ReconcileLocationsInput{
		LocationIDs: input.LocationIDs,
		Days:        input.Days,
	}).Get(ctx, &rec)
	if err != nil {
		return nil, err
	}
	result := &ReconcileResult{Reconcile: rec}

	if !input.Recover || len(rec.Recovery) == 0 {
		return result, nil
	}

	var recovery SyncResult
	if err := workflow.ExecuteActivity(actCtx, "RunRecovery", rec.Recovery).Get(ctx, &recovery); err != nil {
		return nil, err
	}
	result.Recovery = &recovery

	logger.Info("reconcile finished",
		"gaps", len(rec.Gaps),
		"recoveryRequests", len(rec.Recovery),
		"recoveryFailed", len(recovery.Failed()))
	return result, nil
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Register adds the workflows and activities to a worker.
func Register(r worker.Registry, a *Activities) {
	r.RegisterWorkflowWithOptions(SyncWorkflowFunc, workflow.RegisterOptions{Name: SyncWorkflowName})
	r.RegisterWorkflowWithOptions(ReconcileWorkflowFunc, workflow.RegisterOptions{Name: ReconcileWorkflowName})
	r.RegisterActivity(a)
}
