package sandbox

import (
	"context"
	"time"
)

// ExecResult is the output of a sandboxed execution.
type ExecResult struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	TimedOut  bool
	Result    string // text written to the harness result channel
	Truncated bool   // true if any stream exceeded the output cap
	Duration  time.Duration
}

// Sandbox runs submitted code in an isolated environment.
type Sandbox interface {
	Exec(ctx context.Context, code string) (*ExecResult, error)
}
