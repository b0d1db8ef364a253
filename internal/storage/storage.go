package storage

import (
	"context"
	"time"
)

// RunStatus is the final state of a script run.
type RunStatus string

const (
	StatusSucceeded     RunStatus = "succeeded"
	StatusRejected      RunStatus = "rejected"
	StatusFailed        RunStatus = "failed"
	StatusTimedOut      RunStatus = "timed_out"
	StatusInvalidOutput RunStatus = "invalid_output"
	StatusError         RunStatus = "error"
)

// Run is the audit record of one execution. Script source and output are
// not kept; only their sizes and a digest of the source.
type Run struct {
	ID           string    `json:"id" yaml:"id"`
	Status       RunStatus `json:"status" yaml:"status"`
	ExitCode     int       `json:"exit_code" yaml:"exit_code"`
	ScriptSHA256 string    `json:"script_sha256" yaml:"script_sha256"`
	ScriptBytes  int       `json:"script_bytes" yaml:"script_bytes"`
	StdoutBytes  int       `json:"stdout_bytes" yaml:"stdout_bytes"`
	StderrBytes  int       `json:"stderr_bytes" yaml:"stderr_bytes"`
	Truncated    bool      `json:"truncated" yaml:"truncated"`
	DurationMs   int64     `json:"duration_ms" yaml:"duration_ms"`
	Error        string    `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// RunListOptions controls filtering and pagination for ListRuns.
type RunListOptions struct {
	Status RunStatus
	Limit  int
	Offset int
}

// Store is the persistence interface for run history.
type Store interface {
	// CreateRun inserts a run record. The ID field must be set by the caller.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun returns a run by ID or ID prefix.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs ordered by created_at descending.
	ListRuns(ctx context.Context, opts RunListOptions) ([]Run, error)

	// DeleteRun removes a run record.
	DeleteRun(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}
