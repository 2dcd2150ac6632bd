package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nucleus/fluxion/internal/core"
	"github.com/nucleus/fluxion/internal/normalize"
)

// Sources is the reference data file: every point-of-sale location, the
// default query templates and the shift table.
type Sources struct {
	Defaults  DefaultsConfig       `yaml:"defaults"`
	Shifts    normalize.ShiftTable `yaml:"shifts"`
	Locations []LocationConfig     `yaml:"locations"`
}

// DefaultsConfig applies to every location that does not override it.
type DefaultsConfig struct {
	Queries       QueriesConfig `yaml:"queries"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// QueriesConfig holds per-kind query templates.
type QueriesConfig struct {
	Extract map[core.DataKind]string `yaml:"extract"`
	Count   map[core.DataKind]string `yaml:"count"`
}

// LocationConfig describes one location in the sources file.
type LocationConfig struct {
	ID         string           `yaml:"id"`
	Code       string           `yaml:"code"`
	Name       string           `yaml:"name"`
	Kind       string           `yaml:"kind"`
	Timezone   string           `yaml:"timezone"`
	Active     *bool            `yaml:"active"`
	Connection ConnectionConfig `yaml:"connection"`
}

// ConnectionConfig is the YAML form of core.ConnectionDescriptor.
type ConnectionConfig struct {
	Protocol       string                          `yaml:"protocol"`
	Link           string                          `yaml:"link"`
	MaxConcurrent  int                             `yaml:"max_concurrent"`
	ConnectTimeout time.Duration                   `yaml:"connect_timeout"`
	CallTimeout    time.Duration                   `yaml:"call_timeout"`
	SafeWindow     map[core.DataKind]time.Duration `yaml:"safe_window"`

	Driver        string        `yaml:"driver"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Database      string        `yaml:"database"`
	User          string        `yaml:"user"`
	CredentialRef string        `yaml:"credential_ref"`
	SSLMode       string        `yaml:"sslmode"`
	Queries       QueriesConfig `yaml:"queries"`

	BaseURL        string                   `yaml:"base_url"`
	Paths          map[core.DataKind]string `yaml:"paths"`
	CountPaths     map[core.DataKind]string `yaml:"count_paths"`
	RateLimit      float64                  `yaml:"rate_limit"`
	ExtraTimeRange bool                     `yaml:"extra_time_range"`
}

// LoadSources reads and validates a sources file.
func LoadSources(path string) (*Sources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}
	return ParseSources(data)
}

// ParseSources decodes and validates sources YAML.
func ParseSources(data []byte) (*Sources, error) {
	var s Sources
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}
	if len(s.Shifts) == 0 {
		s.Shifts = normalize.DefaultShifts
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks ids, protocols, kinds, time zones and the shift table.
func (s *Sources) Validate() error {
	if err := s.Shifts.Validate(); err != nil {
		return fmt.Errorf("shifts: %w", err)
	}
	if err := validateKinds(s.Defaults.Queries); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}

	seen := make(map[string]bool, len(s.Locations))
	for i, l := range s.Locations {
		if l.ID == "" {
			return fmt.Errorf("location %d: id is required", i)
		}
		if seen[l.ID] {
			return fmt.Errorf("location %s: duplicate id", l.ID)
		}
		seen[l.ID] = true

		switch core.LocationKind(l.Kind) {
		case "", core.LocationStore, core.LocationDistributionCenter:
		default:
			return fmt.Errorf("location %s: unknown kind %q", l.ID, l.Kind)
		}
		if l.Timezone != "" {
			if _, err := time.LoadLocation(l.Timezone); err != nil {
				return fmt.Errorf("location %s: invalid timezone %q: %w", l.ID, l.Timezone, err)
			}
		}
		if err := validateKinds(l.Connection.Queries); err != nil {
			return fmt.Errorf("location %s: %w", l.ID, err)
		}
		for kind, w := range l.Connection.SafeWindow {
			if _, err := core.ParseDataKind(string(kind)); err != nil {
				return fmt.Errorf("location %s: safe_window: %w", l.ID, err)
			}
			if kind == core.KindInventory && w != core.SnapshotWindow {
				return fmt.Errorf("location %s: safe_window.inventory must be %v, got %v", l.ID, core.SnapshotWindow, w)
			}
		}
		for kind := range l.Connection.Paths {
			if _, err := core.ParseDataKind(string(kind)); err != nil {
				return fmt.Errorf("location %s: paths: %w", l.ID, err)
			}
		}
		if err := s.descriptor(l).Validate(); err != nil {
			return fmt.Errorf("location %s: %w", l.ID, err)
		}
	}
	return nil
}

func validateKinds(q QueriesConfig) error {
	for _, m := range []map[core.DataKind]string{q.Extract, q.Count} {
		for kind := range m {
			if _, err := core.ParseDataKind(string(kind)); err != nil {
				return fmt.Errorf("queries: %w", err)
			}
		}
	}
	return nil
}

// AllLocations returns every configured location, sorted by id.
func (s *Sources) AllLocations() []core.SourceLocation {
	out := make([]core.SourceLocation, 0, len(s.Locations))
	for _, l := range s.Locations {
		out = append(out, s.location(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Select returns the locations named by ids. An empty list or the single
// id "all" selects every active location.
func (s *Sources) Select(ids []string) ([]core.SourceLocation, error) {
	if len(ids) == 0 || (len(ids) == 1 && ids[0] == "all") {
		var out []core.SourceLocation
		for _, loc := range s.AllLocations() {
			if loc.Active {
				out = append(out, loc)
			}
		}
		return out, nil
	}

	byID := make(map[string]LocationConfig, len(s.Locations))
	for _, l := range s.Locations {
		byID[l.ID] = l
	}
	out := make([]core.SourceLocation, 0, len(ids))
	for _, id := range ids {
		l, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown location %q", id)
		}
		out = append(out, s.location(l))
	}
	return out, nil
}

func (s *Sources) location(l LocationConfig) core.SourceLocation {
	kind := core.LocationKind(l.Kind)
	if kind == "" {
		kind = core.LocationStore
	}
	code := l.Code
	if code == "" {
		code = l.ID
	}
	name := l.Name
	if name == "" {
		name = l.ID
	}
	return core.SourceLocation{
		ID:         l.ID,
		Code:       code,
		Name:       name,
		Kind:       kind,
		Timezone:   l.Timezone,
		Active:     l.Active == nil || *l.Active,
		Connection: s.descriptor(l),
	}
}

func (s *Sources) descriptor(l LocationConfig) core.ConnectionDescriptor {
	c := l.Connection
	maxConcurrent := c.MaxConcurrent
	if maxConcurrent == 0 {
		maxConcurrent = s.Defaults.MaxConcurrent
	}
	return core.ConnectionDescriptor{
		Protocol:       core.Protocol(c.Protocol),
		Link:           c.Link,
		MaxConcurrent:  maxConcurrent,
		ConnectTimeout: c.ConnectTimeout,
		CallTimeout:    c.CallTimeout,
		SafeWindow:     c.SafeWindow,
		Driver:         c.Driver,
		Host:           c.Host,
		Port:           c.Port,
		Database:       c.Database,
		User:           c.User,
		CredentialRef:  c.CredentialRef,
		SSLMode:        c.SSLMode,
		Queries: core.QueryTemplates{
			Extract: merge(s.Defaults.Queries.Extract, c.Queries.Extract),
			Count:   merge(s.Defaults.Queries.Count, c.Queries.Count),
		},
		BaseURL:        c.BaseURL,
		Paths:          c.Paths,
		CountPaths:     c.CountPaths,
		RateLimit:      c.RateLimit,
		ExtraTimeRange: c.ExtraTimeRange,
	}
}

// merge overlays override on base without modifying either.
func merge(base, override map[core.DataKind]string) map[core.DataKind]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[core.DataKind]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
