package normalize

import (
	"fmt"
	"sort"
)

// Shift is a named hour range [StartHour, EndHour) of the local day.
type Shift struct {
	Name      string `yaml:"name"`
	StartHour int    `yaml:"start_hour"`
	EndHour   int    `yaml:"end_hour"`
}

// ShiftTable buckets local hours into shifts.
type ShiftTable []Shift

// DefaultShifts is used when no table is configured.
var DefaultShifts = ShiftTable{
	{Name: "night", StartHour: 0, EndHour: 6},
	{Name: "morning", StartHour: 6, EndHour: 12},
	{Name: "afternoon", StartHour: 12, EndHour: 18},
	{Name: "evening", StartHour: 18, EndHour: 24},
}

// Validate checks that every shift lies within 0-24, is non-empty and that
// no two shifts overlap. Hours not covered by any shift are allowed.
func (t ShiftTable) Validate() error {
	sorted := make(ShiftTable, len(t))
	copy(sorted, t)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartHour < sorted[j].StartHour })

	for i, s := range sorted {
		if s.Name == "" {
			return fmt.Errorf("shift %d has no name", i)
		}
		if s.StartHour < 0 || s.EndHour > 24 || s.StartHour >= s.EndHour {
			return fmt.Errorf("shift %q has invalid hours %d-%d", s.Name, s.StartHour, s.EndHour)
		}
		if i > 0 && s.StartHour < sorted[i-1].EndHour {
			return fmt.Errorf("shift %q overlaps %q", s.Name, sorted[i-1].Name)
		}
	}
	return nil
}

// Bucket returns the shift containing hour, or "" when none does.
func (t ShiftTable) Bucket(hour int) string {
	for _, s := range t {
		if hour >= s.StartHour && hour < s.EndHour {
			return s.Name
		}
	}
	return ""
}
