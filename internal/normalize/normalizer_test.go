package normalize

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nucleus/fluxion/internal/core"
)

var (
	testLocation = core.SourceLocation{ID: "S1", Code: "0001", Name: "Store 1"}
	salesChunk   = core.Chunk{
		LocationID: "S1",
		Kind:       core.KindSales,
		Range: core.TimeRange{
			From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		},
	}
	inventoryChunk = core.Chunk{LocationID: "S1", Kind: core.KindInventory, Range: salesChunk.Range}
)

func TestNormalizeTabularSales(t *testing.T) {
	n := New(nil)
	row := core.RawRow{Source: core.SourceTabular, Fields: map[string]any{
		"transaction_id": "INV-1",
		"line_number":    int64(2),
		"sold_at":        time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC),
		"sku":            "A-100",
		"description":    "Rice 1kg",
		"quantity":       []byte("3"),
		"unit_cost":      []byte("1.50"),
		"unit_price":     []byte("2.00"),
	}}

	rec, err := n.Normalize(testLocation, salesChunk, row)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got := rec.Key.String(); got != "sales|S1|INV-1|2" {
		t.Errorf("key = %q", got)
	}
	if rec.Weekday != time.Friday {
		t.Errorf("weekday = %v, want Friday", rec.Weekday)
	}
	if rec.Shift != "afternoon" {
		t.Errorf("shift = %q, want afternoon", rec.Shift)
	}
	if rec.TotalRevenue != 6 || rec.TotalCost != 4.5 || rec.Margin != 1.5 {
		t.Errorf("totals = %v/%v/%v, want 6/4.5/1.5", rec.TotalRevenue, rec.TotalCost, rec.Margin)
	}
	if rec.MarginPct != 0.25 {
		t.Errorf("margin_pct = %v, want 0.25", rec.MarginPct)
	}
}

func TestNormalizeRESTSales(t *testing.T) {
	n := New(nil)
	var fields map[string]any
	body := `{"transactionId":"INV-9","lineNumber":1,"date":"2024-03-01","time":"05:10:00","sku":"B-1","quantity":2,"unitPrice":5,"unitCost":6}`
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		t.Fatal(err)
	}

	rec, err := n.Normalize(testLocation, salesChunk, core.RawRow{Source: core.SourceREST, Fields: fields})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if rec.Key.TransactionID != "INV-9" || rec.Key.LineNumber != 1 {
		t.Errorf("key = %+v", rec.Key)
	}
	if rec.Shift != "night" {
		t.Errorf("shift = %q, want night", rec.Shift)
	}
	if rec.Margin != -2 {
		t.Errorf("margin = %v, want -2", rec.Margin)
	}
	if rec.MarginPct != -0.2 {
		t.Errorf("margin_pct = %v, want -0.2", rec.MarginPct)
	}
}

func TestNormalizeZeroRevenue(t *testing.T) {
	n := New(nil)
	row := core.RawRow{Source: core.SourceTabular, Fields: map[string]any{
		"transaction_id": "INV-1",
		"line_number":    1,
		"sold_at":        "2024-03-01 10:00:00",
		"quantity":       1.0,
		"unit_cost":      3.0,
	}}
	rec, err := n.Normalize(testLocation, salesChunk, row)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if rec.MarginPct != 0 {
		t.Errorf("margin_pct = %v, want 0 when revenue is 0", rec.MarginPct)
	}
	if rec.Margin != -3 {
		t.Errorf("margin = %v, want -3", rec.Margin)
	}
}

func TestNormalizeMissingRequiredField(t *testing.T) {
	n := New(nil)
	tests := []struct {
		name  string
		chunk core.Chunk
		row   core.RawRow
		field string
	}{
		{
			name:  "sales without transaction id",
			chunk: salesChunk,
			row: core.RawRow{Source: core.SourceTabular, Fields: map[string]any{
				"line_number": 1, "sold_at": "2024-03-01 10:00:00",
			}},
			field: "transaction_id",
		},
		{
			name:  "sales without line number",
			chunk: salesChunk,
			row: core.RawRow{Source: core.SourceREST, Fields: map[string]any{
				"transactionId": "X", "timestamp": "2024-03-01T10:00:00Z",
			}},
			field: "lineNumber",
		},
		{
			name:  "sales without timestamp",
			chunk: salesChunk,
			row: core.RawRow{Source: core.SourceTabular, Fields: map[string]any{
				"transaction_id": "X", "line_number": 1,
			}},
			field: "sold_at",
		},
		{
			name:  "blank transaction id",
			chunk: salesChunk,
			row: core.RawRow{Source: core.SourceTabular, Fields: map[string]any{
				"transaction_id": "  ", "line_number": 1, "sold_at": "2024-03-01 10:00:00",
			}},
			field: "transaction_id",
		},
		{
			name:  "inventory without sku",
			chunk: inventoryChunk,
			row: core.RawRow{Source: core.SourceTabular, Fields: map[string]any{
				"quantity": 4,
			}},
			field: "sku",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(testLocation, tt.chunk, tt.row)
			var ce *core.Error
			if !errors.As(err, &ce) {
				t.Fatalf("expected *core.Error, got %v", err)
			}
			if ce.Code != core.CodeInvalidRecord {
				t.Errorf("code = %s, want %s", ce.Code, core.CodeInvalidRecord)
			}
			if ce.Field != tt.field {
				t.Errorf("field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}

func TestNormalizeInventoryExtractionDate(t *testing.T) {
	n := New(nil)

	fromChunk, err := n.Normalize(testLocation, inventoryChunk, core.RawRow{
		Source: core.SourceTabular,
		Fields: map[string]any{"sku": "A-100", "quantity": 12},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if fromChunk.Key.ExtractionDate != "2024-03-01" {
		t.Errorf("extraction date = %q, want chunk day 2024-03-01", fromChunk.Key.ExtractionDate)
	}

	fromRow, err := n.Normalize(testLocation, inventoryChunk, core.RawRow{
		Source: core.SourceREST,
		Fields: map[string]any{"sku": "A-100", "snapshotDate": "2024-02-28"},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if fromRow.Key.ExtractionDate != "2024-02-28" {
		t.Errorf("extraction date = %q, want row date 2024-02-28", fromRow.Key.ExtractionDate)
	}
}

func TestNormalizeUndatedInventoryNeedsOneDay(t *testing.T) {
	wide := inventoryChunk
	wide.Range.To = wide.Range.From.Add(72 * time.Hour)

	tests := []struct {
		name    string
		chunk   core.Chunk
		fields  map[string]any
		wantErr bool
	}{
		{"single day undated", inventoryChunk, map[string]any{"sku": "A-100", "quantity": 1}, false},
		{"multi-day undated", wide, map[string]any{"sku": "A-100", "quantity": 1}, true},
		{"multi-day dated", wide, map[string]any{"sku": "A-100", "quantity": 1, "snapshot_date": "2024-03-02"}, false},
	}
	n := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(testLocation, tt.chunk, core.RawRow{Source: core.SourceTabular, Fields: tt.fields})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && core.CodeOf(err) != core.CodeInvalidRecord {
				t.Errorf("code = %v, want invalid record", core.CodeOf(err))
			}
		})
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	n := New(nil)
	row := core.RawRow{Source: core.SourceTabular, Fields: map[string]any{
		"transaction_id": "INV-1",
		"line_number":    "3",
		"sold_at":        "2024-03-01T20:15:00-04:00",
		"quantity":       "1",
		"unit_price":     "9.99",
	}}
	a, errA := n.Normalize(testLocation, salesChunk, row)
	b, errB := New(DefaultShifts).Normalize(testLocation, salesChunk, row)
	if errA != nil || errB != nil {
		t.Fatalf("Normalize: %v / %v", errA, errB)
	}
	if a.Key.String() != b.Key.String() {
		t.Errorf("keys differ: %q vs %q", a.Key.String(), b.Key.String())
	}
	if !a.OccurredAt.Equal(b.OccurredAt) {
		t.Errorf("timestamps differ: %v vs %v", a.OccurredAt, b.OccurredAt)
	}
	a.OccurredAt, b.OccurredAt = time.Time{}, time.Time{}
	if a != b {
		t.Errorf("records differ:\n%+v\n%+v", a, b)
	}
}

func TestNormalizeAllCollectsRejects(t *testing.T) {
	n := New(nil)
	rows := []core.RawRow{
		{Source: core.SourceTabular, Fields: map[string]any{"transaction_id": "A", "line_number": 1, "sold_at": "2024-03-01 09:00:00"}},
		{Source: core.SourceTabular, Fields: map[string]any{"line_number": 2, "sold_at": "2024-03-01 09:00:00"}},
		{Source: core.SourceTabular, Fields: map[string]any{"transaction_id": "B", "line_number": 1, "sold_at": "2024-03-01 09:00:00"}},
		{Source: "csv", Fields: map[string]any{}},
	}
	records, rejects := n.NormalizeAll(testLocation, salesChunk, rows)
	if len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
	if len(rejects) != 2 {
		t.Fatalf("rejects = %d, want 2", len(rejects))
	}
	if rejects[0].Index != 1 || rejects[1].Index != 3 {
		t.Errorf("reject indexes = %d,%d, want 1,3", rejects[0].Index, rejects[1].Index)
	}
}

func TestShiftTable(t *testing.T) {
	if err := DefaultShifts.Validate(); err != nil {
		t.Fatalf("default shifts invalid: %v", err)
	}
	cases := map[int]string{0: "night", 5: "night", 6: "morning", 11: "morning", 12: "afternoon", 18: "evening", 23: "evening"}
	for hour, want := range cases {
		if got := DefaultShifts.Bucket(hour); got != want {
			t.Errorf("Bucket(%d) = %q, want %q", hour, got, want)
		}
	}

	bad := []ShiftTable{
		{{Name: "x", StartHour: 5, EndHour: 5}},
		{{Name: "x", StartHour: 0, EndHour: 25}},
		{{Name: "a", StartHour: 0, EndHour: 10}, {Name: "b", StartHour: 9, EndHour: 12}},
		{{Name: "", StartHour: 0, EndHour: 10}},
	}
	for i, table := range bad {
		if err := table.Validate(); err == nil {
			t.Errorf("table %d should be invalid", i)
		}
	}
}
