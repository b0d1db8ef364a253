package execution

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/michaelbrown/scriptd/internal/sandbox"
)

// unserializableMarker prefixes the harness report for a return value
// that has no JSON encoding. It is never valid JSON itself.
const unserializableMarker = "!unserializable "

// Result is the decoded outcome of a successful run.
type Result struct {
	RunID    string        `json:"run_id,omitempty"`
	Value    any           `json:"result"`
	Stdout   string        `json:"stdout"`
	Duration time.Duration `json:"-"`
}

// Decode turns a sandbox outcome into a Result. The value comes only from
// the harness result channel; printed output is never parsed. An empty
// channel after a clean exit means main() never returned.
func Decode(out *sandbox.ExecResult) (*Result, error) {
	if out.TimedOut {
		return nil, &Error{Kind: KindExecutionFailed, Message: "Script execution timed out"}
	}
	if out.ExitCode != 0 {
		return nil, &Error{
			Kind:    KindExecutionFailed,
			Message: "Script execution failed: " + out.Stderr,
			Detail:  out.Stderr,
		}
	}

	raw := out.Result

	var value any
	var err error
	if raw == "" {
		err = errors.New("main() did not return")
	} else if reason, ok := strings.CutPrefix(raw, unserializableMarker); ok {
		err = errors.New(reason)
	} else {
		value, err = parseSingle(raw)
	}
	if err != nil {
		return nil, &Error{
			Kind:    KindInvalidOutput,
			Message: fmt.Sprintf("main() function must return valid JSON. Error: %v", err),
			Detail:  raw,
			Err:     err,
		}
	}

	return &Result{Value: value, Stdout: out.Stdout, Duration: out.Duration}, nil
}

// parseSingle parses text as exactly one JSON value. Numbers are kept as
// json.Number so integers of any size pass through unchanged.
func parseSingle(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("no value produced")
		}
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("extra data after value")
	}
	return v, nil
}
