package planner

import (
	"math/rand"
	"testing"
	"time"

	"github.com/nucleus/fluxion/internal/core"
)

func assertTiles(t *testing.T, r core.TimeRange, window time.Duration, got []core.TimeRange) {
	t.Helper()
	if len(got) == 0 {
		t.Fatalf("no chunks for %s", r)
	}
	if !got[0].From.Equal(r.From) {
		t.Errorf("first chunk starts at %v, want %v", got[0].From, r.From)
	}
	if !got[len(got)-1].To.Equal(r.To) {
		t.Errorf("last chunk ends at %v, want %v", got[len(got)-1].To, r.To)
	}
	for i, c := range got {
		if c.Empty() {
			t.Errorf("chunk %d is empty: %s", i, c)
		}
		if window%day != 0 && c.Duration() > window {
			t.Errorf("chunk %d longer than window: %v > %v", i, c.Duration(), window)
		}
		if i > 0 && !got[i-1].To.Equal(c.From) {
			t.Errorf("chunk %d does not start where chunk %d ends: %v vs %v", i, i-1, c.From, got[i-1].To)
		}
	}
}

func TestPlanDays(t *testing.T) {
	r := core.TimeRange{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC),
	}
	got, err := Plan(r, 7*day, time.UTC)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	assertTiles(t, r, 7*day, got)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[2].Duration() != 5*day {
		t.Errorf("last chunk = %v, want 5 days", got[2].Duration())
	}
}

func TestPlanAlignsToMidnight(t *testing.T) {
	r := core.TimeRange{
		From: time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 3, 6, 0, 0, 0, time.UTC),
	}
	got, err := Plan(r, day, time.UTC)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	assertTiles(t, r, day, got)
	want := []time.Time{
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		r.To,
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if !got[i].To.Equal(w) {
			t.Errorf("chunk %d ends %v, want %v", i, got[i].To, w)
		}
	}
}

func TestPlanLocalMidnight(t *testing.T) {
	loc, err := time.LoadLocation("America/Bogota")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	r := core.DaysRange(time.Date(2024, 5, 1, 0, 0, 0, 0, loc), time.Date(2024, 5, 3, 0, 0, 0, 0, loc), loc)
	got, err := Plan(r, day, loc)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	assertTiles(t, r, day, got)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, c := range got {
		if h := c.From.In(loc).Hour(); h != 0 {
			t.Errorf("chunk %d starts at local hour %d", i, h)
		}
	}
}

func TestPlanProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	windows := []time.Duration{time.Hour, 6 * time.Hour, day, 3 * day, 7 * day, 90 * time.Minute}

	for i := 0; i < 500; i++ {
		from := base.Add(time.Duration(rng.Int63n(int64(400 * day))))
		to := from.Add(time.Duration(rng.Int63n(int64(60*day))) + time.Minute)
		window := windows[rng.Intn(len(windows))]
		r := core.TimeRange{From: from, To: to}

		got, err := Plan(r, window, time.UTC)
		if err != nil {
			t.Fatalf("Plan(%s, %v): %v", r, window, err)
		}
		assertTiles(t, r, window, got)

		again, _ := Plan(r, window, time.UTC)
		if len(again) != len(got) {
			t.Fatalf("Plan is not deterministic for %s", r)
		}
	}
}

func TestPlanRejectsBadInput(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := Plan(core.TimeRange{From: at, To: at}, day, time.UTC); err == nil {
		t.Error("expected error for empty range")
	}
	if _, err := Plan(core.TimeRange{From: at.Add(day), To: at}, day, time.UTC); err == nil {
		t.Error("expected error for inverted range")
	}
	if _, err := Plan(core.TimeRange{From: at, To: at.Add(day)}, 0, time.UTC); err == nil {
		t.Error("expected error for zero window")
	}
}

func TestChunksOrdinals(t *testing.T) {
	req := core.ExtractionRequest{
		Location: core.SourceLocation{ID: "S1"},
		Kind:     core.KindInventory,
		Range: core.TimeRange{
			From: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2024, 2, 4, 0, 0, 0, 0, time.UTC),
		},
	}
	chunks, err := Chunks(req, day)
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	for i, c := range chunks {
		if c.Ordinal != i || c.LocationID != "S1" || c.Kind != core.KindInventory {
			t.Errorf("chunk %d = %+v", i, c)
		}
	}
}

func TestSplit(t *testing.T) {
	r := core.TimeRange{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	left, right, ok := Split(r)
	if !ok {
		t.Fatal("Split reported false for a full day")
	}
	if !left.From.Equal(r.From) || !right.To.Equal(r.To) || !left.To.Equal(right.From) {
		t.Errorf("halves do not tile: %s %s", left, right)
	}
	if left.To.Hour() != 12 {
		t.Errorf("midpoint = %v, want 12:00", left.To)
	}

	short := core.TimeRange{From: r.From, To: r.From.Add(time.Hour)}
	if _, _, ok := Split(short); ok {
		t.Error("Split should refuse ranges shorter than MinSplit")
	}
}
