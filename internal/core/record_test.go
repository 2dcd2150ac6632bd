package core

import (
	"testing"
	"time"
)

func TestDedupKeyString(t *testing.T) {
	tests := []struct {
		name string
		key  DedupKey
		want string
	}{
		{
			name: "sales",
			key:  DedupKey{Kind: KindSales, LocationID: "S1", TransactionID: "INV-1", LineNumber: 2},
			want: "sales|S1|INV-1|2",
		},
		{
			name: "inventory",
			key:  DedupKey{Kind: KindInventory, LocationID: "S1", SKU: "A-100", ExtractionDate: "2024-03-01"},
			want: "inventory|S1|A-100|2024-03-01",
		},
		{
			name: "separator is escaped",
			key:  DedupKey{Kind: KindSales, LocationID: "S1", TransactionID: "A|B", LineNumber: 1},
			want: `sales|S1|A\|B|1`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDedupKeyEscapingAvoidsCollisions(t *testing.T) {
	a := DedupKey{Kind: KindSales, LocationID: "S1|X", TransactionID: "1", LineNumber: 1}
	b := DedupKey{Kind: KindSales, LocationID: "S1", TransactionID: "X|1", LineNumber: 1}
	if a.String() == b.String() {
		t.Fatalf("distinct keys rendered identically: %q", a.String())
	}
}

func TestDayRange(t *testing.T) {
	loc, err := time.LoadLocation("America/Caracas")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	at := time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC) // 23:00 on Mar 1 in Caracas
	day := DayRange(at, loc)
	if got := day.From.Format(DateLayout); got != "2024-03-01" {
		t.Errorf("From day = %s, want 2024-03-01", got)
	}
	if day.Duration() != 24*time.Hour {
		t.Errorf("Duration = %v, want 24h", day.Duration())
	}
	if !day.Contains(at) {
		t.Error("day should contain the instant it was built from")
	}
}

func TestWindowForDefaults(t *testing.T) {
	d := ConnectionDescriptor{}
	if got := d.WindowFor(KindInventory); got != 24*time.Hour {
		t.Errorf("inventory window = %v, want 24h", got)
	}
	if got := d.WindowFor(KindSales); got != 7*24*time.Hour {
		t.Errorf("sales window = %v, want 168h", got)
	}
	d.SafeWindow = map[DataKind]time.Duration{KindSales: 48 * time.Hour, KindInventory: 72 * time.Hour}
	if got := d.WindowFor(KindSales); got != 48*time.Hour {
		t.Errorf("configured window = %v, want 48h", got)
	}
	if got := d.WindowFor(KindInventory); got != 24*time.Hour {
		t.Errorf("inventory window = %v, want 24h regardless of configuration", got)
	}
}

func TestLinkID(t *testing.T) {
	tab := ConnectionDescriptor{Protocol: ProtocolTabular, Host: "10.0.0.5", Port: 5432}
	if got := tab.LinkID(); got != "tabular:10.0.0.5:5432" {
		t.Errorf("tabular LinkID = %q", got)
	}
	rest := ConnectionDescriptor{Protocol: ProtocolREST, BaseURL: "https://agg.example.com/api"}
	if got := rest.LinkID(); got != "rest:agg.example.com" {
		t.Errorf("rest LinkID = %q", got)
	}
	rest.Link = "vpn-east"
	if got := rest.LinkID(); got != "vpn-east" {
		t.Errorf("explicit LinkID = %q", got)
	}
}

func TestParseDays(t *testing.T) {
	bogota, err := time.LoadLocation("America/Bogota")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	r, err := ParseDays("2024-03-01", "2024-03-03", bogota)
	if err != nil {
		t.Fatalf("ParseDays: %v", err)
	}
	if !r.From.Equal(time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC)) || r.Duration() != 72*time.Hour {
		t.Errorf("range = %v", r)
	}

	for _, bad := range [][2]string{{"2024-03-03", "2024-03-01"}, {"03/01/2024", "2024-03-02"}, {"2024-03-01", ""}} {
		if _, err := ParseDays(bad[0], bad[1], time.UTC); err == nil {
			t.Errorf("ParseDays(%q, %q) should fail", bad[0], bad[1])
		}
	}
}

func TestParseKinds(t *testing.T) {
	tests := []struct {
		in      []string
		want    int
		wantErr bool
	}{
		{nil, 2, false},
		{[]string{"all"}, 2, false},
		{[]string{"sales"}, 1, false},
		{[]string{"sales", "inventory"}, 2, false},
		{[]string{"returns"}, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseKinds(tt.in)
		if (err != nil) != tt.wantErr || len(got) != tt.want {
			t.Errorf("ParseKinds(%v) = %v, %v", tt.in, got, err)
		}
	}
}
