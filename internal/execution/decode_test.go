package execution

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/michaelbrown/scriptd/internal/sandbox"
)

func TestDecode_Success(t *testing.T) {
	out := &sandbox.ExecResult{Stdout: "hi\n1\n", Result: "1"}
	res, err := Decode(out)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if res.Value != json.Number("1") {
		t.Errorf("Value = %#v, want 1", res.Value)
	}
	if res.Stdout != out.Stdout {
		t.Errorf("Stdout = %q, want %q", res.Stdout, out.Stdout)
	}
}

func TestDecode_IgnoresPrintedOutput(t *testing.T) {
	// A clean exit with nothing on the result channel means main() never
	// returned, whatever the script printed.
	for _, stdout := range []string{"42\n", "{\"forged\": true}\n", ""} {
		_, err := Decode(&sandbox.ExecResult{Stdout: stdout})
		if !errors.Is(err, ErrInvalidOutput) {
			t.Fatalf("Decode(stdout %q) error = %v, want ErrInvalidOutput", stdout, err)
		}
		if !strings.Contains(err.Error(), "main() did not return") {
			t.Errorf("message = %q, want main() did not return", err)
		}
	}
}

func TestDecode_TimedOut(t *testing.T) {
	_, err := Decode(&sandbox.ExecResult{TimedOut: true, ExitCode: -1})
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("error = %v, want ErrExecutionFailed", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("message = %q, want timeout indication", err)
	}
}

func TestDecode_NonZeroExit(t *testing.T) {
	_, err := Decode(&sandbox.ExecResult{ExitCode: 1, Stderr: "Error in main(): boom\n", Result: ""})
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("error = %v, want ErrExecutionFailed", err)
	}
	var e *Error
	errors.As(err, &e)
	if e.Detail != "Error in main(): boom\n" {
		t.Errorf("Detail = %q, want stderr", e.Detail)
	}
	if !strings.Contains(e.Message, "boom") {
		t.Errorf("Message = %q, want stderr included", e.Message)
	}
}

func TestDecode_InvalidOutput(t *testing.T) {
	tests := []struct {
		name string
		out  *sandbox.ExecResult
	}{
		{"not json", &sandbox.ExecResult{Result: "hello"}},
		{"empty", &sandbox.ExecResult{}},
		{"two values", &sandbox.ExecResult{Result: "1\n2"}},
		{"trailing garbage", &sandbox.ExecResult{Result: "{} }"}},
		{"unserializable marker", &sandbox.ExecResult{Result: "!unserializable set: Object of type set is not JSON serializable"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.out)
			if !errors.Is(err, ErrInvalidOutput) {
				t.Fatalf("error = %v, want ErrInvalidOutput", err)
			}
			if !strings.HasPrefix(err.Error(), "main() function must return valid JSON. Error: ") {
				t.Errorf("message = %q", err)
			}
			if HTTPStatus(err) != http.StatusInternalServerError {
				t.Errorf("status = %d, want 500", HTTPStatus(err))
			}
		})
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	values := []any{
		nil,
		true,
		"text with \"quotes\" and ünïcode",
		int64(-42),
		3.25,
		"12345678901234567890123",
		[]any{1, "two", []any{3.5, false}},
		map[string]any{"hello": "world", "nested": map[string]any{"list": []any{}, "n": nil}},
	}

	for _, v := range values {
		encoded, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		res, err := Decode(&sandbox.ExecResult{Result: string(encoded), Stdout: string(encoded) + "\n"})
		if err != nil {
			t.Fatalf("Decode(%s): %v", encoded, err)
		}
		again, err := json.Marshal(res.Value)
		if err != nil {
			t.Fatal(err)
		}
		if string(again) != string(encoded) {
			t.Errorf("round trip = %s, want %s", again, encoded)
		}
	}
}

func TestDecode_LargeIntegerPreserved(t *testing.T) {
	res, err := Decode(&sandbox.ExecResult{Result: "123456789012345678901234567890"})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	data, _ := json.Marshal(res.Value)
	if string(data) != "123456789012345678901234567890" {
		t.Errorf("value = %s, want exact integer", data)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("fork: resource temporarily unavailable")
	err := internalError("failed to run script", cause)

	if !errors.Is(err, ErrInternal) {
		t.Error("internal error does not match ErrInternal")
	}
	if errors.Is(err, ErrExecutionFailed) {
		t.Error("internal error matches ErrExecutionFailed")
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if msg := PublicMessage(err); strings.Contains(msg, "fork") {
		t.Errorf("public message leaks cause: %q", msg)
	}
	if HTTPStatus(err) != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", HTTPStatus(err))
	}
	if HTTPStatus(Validate("")) != http.StatusBadRequest {
		t.Error("invalid script should map to 400")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("foreign errors should be internal")
	}
	if PublicMessage(errors.New("secret path /etc/x")) != "Unexpected error: internal error" {
		t.Error("foreign error message leaked")
	}
}
