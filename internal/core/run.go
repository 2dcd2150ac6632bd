package core

import "time"

// RunState is the lifecycle state of an ExecutionRun.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s RunState) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// ErrorKind is the coarse failure category recorded on a failed run.
type ErrorKind string

const (
	ErrorKindNone    ErrorKind = ""
	ErrorKindNetwork ErrorKind = "network"
	ErrorKindTimeout ErrorKind = "timeout"
	ErrorKindSchema  ErrorKind = "schema"
	ErrorKindDB      ErrorKind = "db"
	ErrorKindUnknown ErrorKind = "unknown"
)

// ExecutionRun is one extraction attempt over one chunk.
type ExecutionRun struct {
	ID           string
	Kind         DataKind
	LocationID   string
	LocationName string
	Requested    TimeRange
	Mode         Mode
	State        RunState

	ExtractedCount int64
	LoadedCount    int64
	RejectedCount  int64

	ErrorKind    ErrorKind
	ErrorMessage string

	RetryCount int
	CausedBy   string

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Gap is a detected shortfall between source and warehouse counts for one
// location, kind and day.
type Gap struct {
	LocationID     string
	Kind           DataKind
	Day            string
	SourceCount    int64
	WarehouseCount int64
	DetectedAt     time.Time
	Resolved       bool
	ResolvedAt     time.Time
}
