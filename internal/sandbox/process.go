package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"time"
)

// waitDelay bounds how long output pipes are drained after the
// interpreter exits or is killed.
const waitDelay = 2 * time.Second

// ProcessSandbox runs each script in its own interpreter process.
type ProcessSandbox struct {
	Policy Policy
}

// NewProcessSandbox creates a sandbox with the given policy.
func NewProcessSandbox(policy Policy) *ProcessSandbox {
	return &ProcessSandbox{Policy: policy.withDefaults()}
}

// Exec materializes code into a unit, runs it and returns the captured
// outcome. The unit's scratch directory is removed before Exec returns.
// Cancellation of ctx is ignored; only the policy timeout stops a run.
func (s *ProcessSandbox) Exec(ctx context.Context, code string) (*ExecResult, error) {
	p := s.Policy

	unit, err := BuildUnit(p.ScratchDir, code)
	if err != nil {
		return nil, err
	}
	defer unit.Remove()

	resultR, resultW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating result pipe: %w", err)
	}
	defer resultR.Close()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.PythonBin, unit.Args()...)
	cmd.Dir = unit.Dir
	cmd.Env = unit.Env()
	cmd.ExtraFiles = []*os.File{resultW}
	cmd.WaitDelay = waitDelay

	var stdout, stderr, result bytes.Buffer
	stdoutW := &limitWriter{buf: &stdout, limit: p.MaxOutputBytes}
	stderrW := &limitWriter{buf: &stderr, limit: p.MaxOutputBytes}
	resultBuf := &limitWriter{buf: &result, limit: p.MaxOutputBytes}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	configureProcess(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		resultW.Close()
		return nil, fmt.Errorf("starting %s: %w", p.PythonBin, err)
	}
	// The child holds its own copy; ours must go for EOF to arrive.
	resultW.Close()

	if err := applyLimits(cmd.Process.Pid, p); err != nil {
		log.Printf("sandbox: applying limits to pid %d: %v", cmd.Process.Pid, err)
	}

	resultDone := make(chan struct{})
	go func() {
		defer close(resultDone)
		io.Copy(resultBuf, resultR)
	}()

	runErr := cmd.Wait()
	duration := time.Since(start)
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)

	// Descendants left in the group do not outlive the run.
	killProcessGroup(cmd)

	resultR.SetReadDeadline(time.Now().Add(waitDelay))
	<-resultDone

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			exitCode = exitErr.ExitCode()
		case errors.Is(runErr, exec.ErrWaitDelay):
			exitCode = cmd.ProcessState.ExitCode()
		case timedOut:
			exitCode = -1
		default:
			return nil, fmt.Errorf("running %s: %w", p.PythonBin, runErr)
		}
	}

	return &ExecResult{
		ExitCode:  exitCode,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		TimedOut:  timedOut,
		Result:    result.String(),
		Truncated: stdoutW.truncated || stderrW.truncated || resultBuf.truncated,
		Duration:  duration,
	}, nil
}

// limitWriter writes up to limit bytes to buf, then silently discards the
// rest. A limit of zero or less disables the cap.
type limitWriter struct {
	buf       *bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if w.limit <= 0 {
		return w.buf.Write(p)
	}
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.truncated = w.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > remaining {
		// Report all bytes as consumed to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}
