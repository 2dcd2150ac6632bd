package core

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// LocationKind distinguishes retail stores from distribution centers.
type LocationKind string

const (
	LocationStore              LocationKind = "store"
	LocationDistributionCenter LocationKind = "distribution_center"
)

// Protocol selects the connector family used to reach a location.
type Protocol string

const (
	ProtocolTabular Protocol = "tabular"
	ProtocolREST    Protocol = "rest"
)

// SourceLocation is reference data describing one point-of-sale source.
type SourceLocation struct {
	ID         string
	Code       string
	Name       string
	Kind       LocationKind
	Timezone   string
	Active     bool
	Connection ConnectionDescriptor
}

// Location returns the location's time zone, falling back to UTC.
func (l SourceLocation) Location() *time.Location {
	if l.Timezone == "" {
		return time.UTC
	}
	tz, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return time.UTC
	}
	return tz
}

// ConnectionDescriptor carries everything a connector needs to reach a source.
type ConnectionDescriptor struct {
	Protocol Protocol

	// Link identifies the network path; locations sharing a link share its
	// concurrency ceiling.
	Link          string
	MaxConcurrent int

	ConnectTimeout time.Duration
	CallTimeout    time.Duration

	// SafeWindow is the largest range extracted in one call, per kind.
	SafeWindow map[DataKind]time.Duration

	// Tabular settings
	Driver        string
	Host          string
	Port          int
	Database      string
	User          string
	CredentialRef string
	SSLMode       string
	Queries       QueryTemplates

	// REST settings
	BaseURL        string
	Paths          map[DataKind]string
	CountPaths     map[DataKind]string
	RateLimit      float64
	ExtraTimeRange bool
}

// QueryTemplates holds the per-kind extraction and count queries for a tabular
// source. Templates reference :location_code, :from and :to.
type QueryTemplates struct {
	Extract map[DataKind]string
	Count   map[DataKind]string
}

// LinkID returns the concurrency key for this descriptor.
func (d ConnectionDescriptor) LinkID() string {
	if d.Link != "" {
		return d.Link
	}
	switch d.Protocol {
	case ProtocolREST:
		if u, err := url.Parse(d.BaseURL); err == nil && u.Host != "" {
			return "rest:" + u.Host
		}
		return "rest:" + d.BaseURL
	default:
		return "tabular:" + net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	}
}

// Ceiling returns the maximum number of concurrent extractions on the link.
func (d ConnectionDescriptor) Ceiling() int {
	if d.MaxConcurrent <= 0 {
		return 1
	}
	return d.MaxConcurrent
}

// SnapshotWindow is the only window for snapshot kinds: one snapshot per
// calendar day.
const SnapshotWindow = 24 * time.Hour

// WindowFor returns the safe extraction window for kind. Snapshot sources
// (inventory) always use one calendar day; row exports default to seven days.
func (d ConnectionDescriptor) WindowFor(kind DataKind) time.Duration {
	if kind == KindInventory {
		return SnapshotWindow
	}
	if w, ok := d.SafeWindow[kind]; ok && w > 0 {
		return w
	}
	return 7 * 24 * time.Hour
}

// Validate checks the descriptor for the fields its protocol requires.
func (d ConnectionDescriptor) Validate() error {
	switch d.Protocol {
	case ProtocolTabular:
		if d.Host == "" {
			return fmt.Errorf("tabular connection requires host")
		}
		if d.Database == "" {
			return fmt.Errorf("tabular connection requires database")
		}
	case ProtocolREST:
		if d.BaseURL == "" {
			return fmt.Errorf("rest connection requires base_url")
		}
		if len(d.Paths) == 0 {
			return fmt.Errorf("rest connection requires at least one path")
		}
	default:
		return fmt.Errorf("unknown protocol %q", d.Protocol)
	}
	return nil
}
