// Package execution validates submitted scripts, runs them in a sandbox
// and decodes the value returned by their main function.
package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/michaelbrown/scriptd/internal/sandbox"
	"github.com/michaelbrown/scriptd/internal/storage"
)

// maxRecordedError bounds the error text kept in run history.
const maxRecordedError = 4000

// defaultPublishTimeout bounds how long a run waits on the event publisher.
const defaultPublishTimeout = 2 * time.Second

// RunRecorder persists run records.
type RunRecorder interface {
	CreateRun(ctx context.Context, r *storage.Run) error
}

// RunPublisher announces finished runs.
type RunPublisher interface {
	PublishRun(ctx context.Context, r *storage.Run) error
}

// Service executes scripts end to end: validate, run, decode.
// It holds no per-script state; every call is independent.
type Service struct {
	sandbox   sandbox.Sandbox
	recorder  RunRecorder
	publisher RunPublisher
	slots     chan struct{} // nil when concurrency is unbounded

	publishTimeout time.Duration
}

// NewService creates a Service. maxConcurrent bounds simultaneous runs;
// zero or less means no bound.
func NewService(sb sandbox.Sandbox, maxConcurrent int) *Service {
	s := &Service{sandbox: sb, publishTimeout: defaultPublishTimeout}
	if maxConcurrent > 0 {
		s.slots = make(chan struct{}, maxConcurrent)
	}
	return s
}

// SetRecorder enables run history.
func (s *Service) SetRecorder(r RunRecorder) {
	s.recorder = r
}

// SetPublisher enables run events.
func (s *Service) SetPublisher(p RunPublisher) {
	s.publisher = p
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// Execute runs code and returns its decoded result. Failures are returned
// as *Error.
func (s *Service) Execute(ctx context.Context, code string) (*Result, error) {
	return s.ExecuteRun(ctx, NewRunID(), code)
}

// ExecuteRun is Execute with a caller-chosen run ID.
func (s *Service) ExecuteRun(ctx context.Context, runID, code string) (*Result, error) {
	start := time.Now()
	res, out, err := s.execute(ctx, code)
	s.finish(ctx, runID, code, out, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	res.RunID = runID
	return res, nil
}

func (s *Service) execute(ctx context.Context, code string) (*Result, *sandbox.ExecResult, error) {
	if err := Validate(code); err != nil {
		return nil, nil, err
	}

	if err := s.acquire(ctx); err != nil {
		return nil, nil, err
	}
	defer s.release()

	out, err := s.sandbox.Exec(ctx, code)
	if err != nil {
		return nil, nil, internalError("failed to run script", err)
	}

	res, err := Decode(out)
	return res, out, err
}

func (s *Service) acquire(ctx context.Context) error {
	if s.slots == nil {
		return nil
	}
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return internalError("server busy", ctx.Err())
	}
}

func (s *Service) release() {
	if s.slots != nil {
		<-s.slots
	}
}

// finish logs the run and hands its record to the recorder and publisher.
func (s *Service) finish(ctx context.Context, runID, code string, out *sandbox.ExecResult, err error, elapsed time.Duration) {
	run := NewRunRecord(runID, code, out, err, elapsed)

	var e *Error
	if errors.As(err, &e) && e.Kind == KindInternal && e.Err != nil {
		log.Printf("run %s: %s: %v", runID, e.Message, e.Err)
	}
	log.Printf("run %s finished: status=%s exit=%d duration=%s", runID, run.Status, run.ExitCode, elapsed.Round(time.Millisecond))

	if s.recorder == nil && s.publisher == nil {
		return
	}

	// History outlives the request that produced it.
	ctx = context.WithoutCancel(ctx)
	if s.recorder != nil {
		if err := s.recorder.CreateRun(ctx, run); err != nil {
			log.Printf("run %s: recording history: %v", runID, err)
		}
	}
	if s.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()
		if err := s.publisher.PublishRun(pubCtx, run); err != nil {
			log.Printf("run %s: publishing event: %v", runID, err)
		}
	}
}

// NewRunRecord builds the history record for a finished run. out is nil
// when the script never reached the sandbox.
func NewRunRecord(runID, code string, out *sandbox.ExecResult, err error, elapsed time.Duration) *storage.Run {
	sum := sha256.Sum256([]byte(code))
	run := &storage.Run{
		ID:           runID,
		Status:       statusOf(out, err),
		ScriptSHA256: hex.EncodeToString(sum[:]),
		ScriptBytes:  len(code),
		DurationMs:   elapsed.Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	if out != nil {
		run.ExitCode = out.ExitCode
		run.StdoutBytes = len(out.Stdout)
		run.StderrBytes = len(out.Stderr)
		run.Truncated = out.Truncated
	}
	if err != nil {
		msg := PublicMessage(err)
		if len(msg) > maxRecordedError {
			msg = cutAtRune(msg, maxRecordedError) + "... (truncated)"
		}
		run.Error = msg
	}
	return run
}

func statusOf(out *sandbox.ExecResult, err error) storage.RunStatus {
	if err == nil {
		return storage.StatusSucceeded
	}
	switch KindOf(err) {
	case KindInvalidScript:
		return storage.StatusRejected
	case KindExecutionFailed:
		if out != nil && out.TimedOut {
			return storage.StatusTimedOut
		}
		return storage.StatusFailed
	case KindInvalidOutput:
		return storage.StatusInvalidOutput
	default:
		return storage.StatusError
	}
}

// cutAtRune returns at most n bytes of s without splitting a UTF-8 sequence.
func cutAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
