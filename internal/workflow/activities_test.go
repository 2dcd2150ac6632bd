package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.temporal.io/sdk/testsuite"

	"github.com/nucleus/fluxion/internal/core"
	"github.com/nucleus/fluxion/internal/orchestration"
	"github.com/nucleus/fluxion/internal/reconcile"
)

type fakeLocations map[string]core.SourceLocation

func (f fakeLocations) Select(ids []string) ([]core.SourceLocation, error) {
	if len(ids) == 0 {
		var out []core.SourceLocation
		for _, id := range []string{"S1", "S2"} {
			if loc, ok := f[id]; ok && loc.Active {
				out = append(out, loc)
			}
		}
		return out, nil
	}
	out := make([]core.SourceLocation, 0, len(ids))
	for _, id := range ids {
		loc, ok := f[id]
		if !ok {
			return nil, fmt.Errorf("unknown location %q", id)
		}
		out = append(out, loc)
	}
	return out, nil
}

type fakeSyncer struct {
	reqs   []core.ExtractionRequest
	report func(reqs []core.ExtractionRequest) orchestration.Report
}

func (f *fakeSyncer) Run(_ context.Context, reqs []core.ExtractionRequest) orchestration.Report {
	f.reqs = append(f.reqs, reqs...)
	return f.report(reqs)
}

type fakeReconciler struct {
	days   int
	report reconcile.Report
	queue  *orchestration.Queue
	emit   []core.ExtractionRequest
}

func (f *fakeReconciler) ReconcileDays(_ context.Context, _ []core.SourceLocation, n int) (reconcile.Report, error) {
	f.days = n
	for _, req := range f.emit {
		f.queue.Enqueue(req)
	}
	return f.report, nil
}

func okReport(reqs []core.ExtractionRequest) orchestration.Report {
	var r orchestration.Report
	seen := make(map[string]bool)
	for _, req := range reqs {
		if seen[req.Location.ID] {
			continue
		}
		seen[req.Location.ID] = true
		r.Locations = append(r.Locations, orchestration.LocationSummary{LocationID: req.Location.ID, RunsSucceeded: 1, Loaded: 3})
	}
	return r
}

var bogotaStore = core.SourceLocation{ID: "S1", Code: "0001", Timezone: "America/Bogota", Active: true}

func testLocations() fakeLocations {
	return fakeLocations{
		"S1": bogotaStore,
		"S2": {ID: "S2", Timezone: "UTC", Active: false},
	}
}

func TestListActiveLocations(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	a := NewActivities(testLocations(), &fakeSyncer{report: okReport}, nil, orchestration.NewQueue())
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.ListActiveLocations)
	if err != nil {
		t.Fatalf("ListActiveLocations: %v", err)
	}
	var ids []string
	if err := val.Get(&ids); err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "S1" {
		t.Errorf("ids = %v", ids)
	}
}

func TestSyncLocationDefaultsToYesterdayAndToday(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	syncer := &fakeSyncer{report: okReport}
	a := NewActivities(testLocations(), syncer, nil, orchestration.NewQueue())
	a.now = func() time.Time { return time.Date(2024, 3, 8, 3, 0, 0, 0, time.UTC) }
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.SyncLocation, SyncLocationInput{LocationID: "S1", Kinds: []string{"sales"}})
	if err != nil {
		t.Fatalf("SyncLocation: %v", err)
	}
	var res SyncLocationResult
	if err := val.Get(&res); err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Loaded != 3 {
		t.Errorf("result = %+v", res)
	}

	if len(syncer.reqs) != 1 {
		t.Fatalf("requests = %+v", syncer.reqs)
	}
	req := syncer.reqs[0]
	tz := bogotaStore.Location()
	// 03:00 UTC on the 8th is still the 7th in Bogota.
	wantFrom := time.Date(2024, 3, 6, 0, 0, 0, 0, tz)
	if !req.Range.From.Equal(wantFrom) || req.Range.Duration() != 48*time.Hour {
		t.Errorf("range = %v, want 2 days from %v", req.Range, wantFrom)
	}
	if req.Kind != core.KindSales || req.Mode != core.ModeLive {
		t.Errorf("request = %+v", req)
	}
}

func TestSyncLocationReportsFailureInResult(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	syncer := &fakeSyncer{report: func(reqs []core.ExtractionRequest) orchestration.Report {
		return orchestration.Report{Locations: []orchestration.LocationSummary{
			{LocationID: "S1", ChunksFailed: 1, RunsFailed: 4, LastError: "E_SOURCE_UNREACHABLE: refused"},
		}}
	}}
	a := NewActivities(testLocations(), syncer, nil, orchestration.NewQueue())
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.SyncLocation, SyncLocationInput{LocationID: "S1", From: "2024-03-01", To: "2024-03-02"})
	if err != nil {
		t.Fatalf("SyncLocation: %v", err)
	}
	var res SyncLocationResult
	if err := val.Get(&res); err != nil {
		t.Fatal(err)
	}
	if res.OK || res.RunsFailed != 4 || res.Error == "" {
		t.Errorf("result = %+v", res)
	}
	if len(syncer.reqs) != 2 {
		t.Errorf("requests = %d, want one per kind", len(syncer.reqs))
	}
}

func TestSyncLocationRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input SyncLocationInput
	}{
		{"unknown location", SyncLocationInput{LocationID: "S9"}},
		{"unknown kind", SyncLocationInput{LocationID: "S1", Kinds: []string{"returns"}}},
		{"bad date", SyncLocationInput{LocationID: "S1", From: "yesterday"}},
		{"reversed dates", SyncLocationInput{LocationID: "S1", From: "2024-03-05", To: "2024-03-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var suite testsuite.WorkflowTestSuite
			env := suite.NewTestActivityEnvironment()
			a := NewActivities(testLocations(), &fakeSyncer{report: okReport}, nil, orchestration.NewQueue())
			env.RegisterActivity(a)
			if _, err := env.ExecuteActivity(a.SyncLocation, tt.input); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestReconcileLocationsDrainsRecoveryQueue(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	queue := orchestration.NewQueue()
	day := core.DayRange(time.Date(2024, 3, 5, 12, 0, 0, 0, bogotaStore.Location()), bogotaStore.Location())
	rec := &fakeReconciler{
		queue: queue,
		emit:  []core.ExtractionRequest{{Location: bogotaStore, Kind: core.KindSales, Range: day, Mode: core.ModeRecovery}},
		report: reconcile.Report{Outcomes: []reconcile.Outcome{
			{LocationID: "S1", Kind: core.KindSales, Day: "2024-03-05", SourceCount: 100, WarehouseCount: 80, Class: reconcile.ClassUnder, GapOpened: true},
			{LocationID: "S1", Kind: core.KindSales, Day: "2024-03-06", SourceCount: 5, WarehouseCount: 7, Class: reconcile.ClassOver},
			{LocationID: "S1", Kind: core.KindSales, Day: "2024-03-07", SourceCount: 9, WarehouseCount: 9, Class: reconcile.ClassMatch, Resolved: true},
		}},
	}
	a := NewActivities(testLocations(), &fakeSyncer{report: okReport}, rec, queue)
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.ReconcileLocations, ReconcileLocationsInput{Days: 3})
	if err != nil {
		t.Fatalf("ReconcileLocations: %v", err)
	}
	var res ReconcileLocationsResult
	if err := val.Get(&res); err != nil {
		t.Fatal(err)
	}
	if rec.days != 3 {
		t.Errorf("days = %d, want 3", rec.days)
	}
	if res.Checked != 3 || len(res.Gaps) != 1 || len(res.Over) != 1 || res.Resolved != 1 {
		t.Errorf("result = %+v", res)
	}
	want := RecoveryRequest{LocationID: "S1", Kind: "sales", Day: "2024-03-05"}
	if len(res.Recovery) != 1 || res.Recovery[0] != want {
		t.Errorf("recovery = %+v, want [%+v]", res.Recovery, want)
	}
	if queue.Len() != 0 {
		t.Errorf("queue len = %d after drain", queue.Len())
	}
}

func TestRunRecovery(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	syncer := &fakeSyncer{report: okReport}
	a := NewActivities(testLocations(), syncer, nil, orchestration.NewQueue())
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.RunRecovery, []RecoveryRequest{
		{LocationID: "S1", Kind: "sales", Day: "2024-03-05"},
		{LocationID: "S9", Kind: "sales", Day: "2024-03-05"},
		{LocationID: "S1", Kind: "inventory", Day: "2024-03-06"},
	})
	if err != nil {
		t.Fatalf("RunRecovery: %v", err)
	}
	var res SyncResult
	if err := val.Get(&res); err != nil {
		t.Fatal(err)
	}

	if len(syncer.reqs) != 2 {
		t.Fatalf("requests = %+v", syncer.reqs)
	}
	for _, req := range syncer.reqs {
		if req.Mode != core.ModeRecovery || req.Range.Duration() != 24*time.Hour {
			t.Errorf("request = %+v", req)
		}
	}
	if len(res.Locations) != 2 || !res.Locations[0].OK || res.Locations[1].OK || res.Locations[1].LocationID != "S9" {
		t.Errorf("result = %+v", res.Locations)
	}
}
