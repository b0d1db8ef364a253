package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/michaelbrown/scriptd/internal/config"
	"github.com/michaelbrown/scriptd/internal/execution"
	"github.com/michaelbrown/scriptd/internal/sandbox"
	"github.com/michaelbrown/scriptd/internal/storage"
	"github.com/michaelbrown/scriptd/internal/storage/sqlite"
)

// stubSandbox answers every run with a fixed outcome.
type stubSandbox struct {
	out   *sandbox.ExecResult
	err   error
	calls int
}

func (s *stubSandbox) Exec(ctx context.Context, code string) (*sandbox.ExecResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := *s.out
	return &out, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, MaxBodyBytes: 1 << 20},
		Executor: config.ExecutorConfig{Timeout: time.Second},
	}
}

func newTestServer(t *testing.T, sb sandbox.Sandbox, withStore bool) (*Server, storage.Store) {
	t.Helper()
	svc := execution.NewService(sb, 0)

	var store storage.Store
	if withStore {
		st, err := sqlite.Open(":memory:")
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { st.Close() })
		svc.SetRecorder(st)
		store = st
	}
	return New(testConfig(), svc, store), store
}

func do(t *testing.T, s *Server, method, path, contentType, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]any
	json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &stubSandbox{err: context.Canceled}, false)
	rec, body := do(t, s, http.MethodGet, "/health", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestExecute_Success(t *testing.T) {
	sb := &stubSandbox{out: &sandbox.ExecResult{Stdout: "hi\n{\"hello\": \"world\"}\n", Result: `{"hello": "world"}`}}
	s, _ := newTestServer(t, sb, false)

	rec, body := do(t, s, http.MethodPost, "/execute", "application/json", `{"script": "def main(): return {'hello': 'world'}"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}
	result, ok := body["result"].(map[string]any)
	if !ok || result["hello"] != "world" {
		t.Errorf("result = %v", body["result"])
	}
	if body["stdout"] != "hi\n{\"hello\": \"world\"}\n" {
		t.Errorf("stdout = %q", body["stdout"])
	}
}

func TestExecute_BadRequests(t *testing.T) {
	sb := &stubSandbox{out: &sandbox.ExecResult{Result: "1"}}
	s, _ := newTestServer(t, sb, false)

	cases := []struct {
		name, contentType, body, wantErr string
	}{
		{"not json", "text/plain", `{"script": "def main(): pass"}`, "Request must be JSON"},
		{"missing script", "application/json", `{"code": "def main(): pass"}`, "Missing 'script' field in request body"},
		{"empty object", "application/json", `{}`, "Missing 'script' field in request body"},
		{"array body", "application/json", `[1, 2]`, "Missing 'script' field in request body"},
		{"non-string script", "application/json", `{"script": 42}`, "Script must be a non-empty string"},
		{"empty script", "application/json", `{"script": ""}`, "Script must be a non-empty string"},
		{"no main", "application/json", `{"script": "x = 1"}`, "Script must contain a function named 'main'"},
		{"malformed", "application/json", `{"script": `, "invalid JSON"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := do(t, s, http.MethodPost, "/execute", tc.contentType, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			msg, _ := body["error"].(string)
			if !strings.Contains(msg, tc.wantErr) {
				t.Errorf("error = %q, want %q", msg, tc.wantErr)
			}
		})
	}
	if sb.calls != 0 {
		t.Errorf("sandbox called %d times, want 0", sb.calls)
	}
}

func TestExecute_JSONWithCharset(t *testing.T) {
	s, _ := newTestServer(t, &stubSandbox{out: &sandbox.ExecResult{Result: "1"}}, false)
	rec, _ := do(t, s, http.MethodPost, "/execute", "application/json; charset=utf-8", `{"script": "def main(): return 1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestExecute_Failures(t *testing.T) {
	cases := []struct {
		name    string
		sb      *stubSandbox
		wantErr string
	}{
		{"raised", &stubSandbox{out: &sandbox.ExecResult{ExitCode: 1, Stderr: "Error in main(): boom"}}, "Script execution failed: Error in main(): boom"},
		{"timed out", &stubSandbox{out: &sandbox.ExecResult{ExitCode: -1, TimedOut: true}}, "Script execution timed out"},
		{"invalid output", &stubSandbox{out: &sandbox.ExecResult{Result: "!unserializable set: not serializable"}}, "main() function must return valid JSON"},
		{"spawn failure", &stubSandbox{err: context.DeadlineExceeded}, "Unexpected error: failed to run script"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestServer(t, tc.sb, false)
			rec, body := do(t, s, http.MethodPost, "/execute", "application/json", `{"script": "def main(): pass"}`)
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			msg, _ := body["error"].(string)
			if !strings.HasPrefix(msg, tc.wantErr) {
				t.Errorf("error = %q, want prefix %q", msg, tc.wantErr)
			}
		})
	}
}

func TestExecute_BodyTooLarge(t *testing.T) {
	s, _ := newTestServer(t, &stubSandbox{out: &sandbox.ExecResult{Result: "1"}}, false)
	s.cfg.Server.MaxBodyBytes = 32

	body := `{"script": "def main(): return '` + strings.Repeat("x", 100) + `'"}`
	rec, resp := do(t, s, http.MethodPost, "/execute", "application/json", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp["error"] != "Request body too large" {
		t.Errorf("error = %v, want Request body too large", resp["error"])
	}
}

func TestRuns_Disabled(t *testing.T) {
	s, _ := newTestServer(t, &stubSandbox{out: &sandbox.ExecResult{Result: "1"}}, false)
	rec, _ := do(t, s, http.MethodGet, "/runs", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRuns_History(t *testing.T) {
	s, _ := newTestServer(t, &stubSandbox{out: &sandbox.ExecResult{Result: "1"}}, true)

	rec, body := do(t, s, http.MethodPost, "/execute", "application/json", `{"script": "def main(): return 1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("execute status = %d", rec.Code)
	}
	runID, _ := body["run_id"].(string)
	if runID == "" {
		t.Fatal("response has no run_id")
	}
	do(t, s, http.MethodPost, "/execute", "application/json", `{"script": "x = 1"}`)

	req := httptest.NewRequest(http.MethodGet, "/runs?status=rejected", nil)
	listRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(listRec, req)
	var runs []storage.Run
	if err := json.Unmarshal(listRec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decoding runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != storage.StatusRejected {
		t.Fatalf("runs = %+v, want one rejected", runs)
	}

	rec, body = do(t, s, http.MethodGet, "/runs/"+runID[:8], "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if body["id"] != runID || body["status"] != "succeeded" {
		t.Errorf("run = %v", body)
	}

	rec, _ = do(t, s, http.MethodGet, "/runs/_", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get /runs/_ status = %d, want 404", rec.Code)
	}
	rec, _ = do(t, s, http.MethodDelete, "/runs/_", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete /runs/_ status = %d, want 404", rec.Code)
	}

	rec, _ = do(t, s, http.MethodDelete, "/runs/"+runID, "", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}
	rec, _ = do(t, s, http.MethodGet, "/runs/"+runID, "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestWebSocket_Execute(t *testing.T) {
	sb := &stubSandbox{out: &sandbox.ExecResult{Stdout: "1\n", Result: "1"}}
	s, _ := newTestServer(t, sb, false)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/execute/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func() map[string]any {
		t.Helper()
		var m map[string]any
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		return m
	}

	conn.WriteJSON(map[string]string{"type": "execute", "script": "def main(): return 1"})
	started := read()
	if started["type"] != "started" || started["run_id"] == "" {
		t.Fatalf("first message = %v, want started", started)
	}
	result := read()
	if result["type"] != "result" || result["result"] != float64(1) || result["run_id"] != started["run_id"] {
		t.Fatalf("second message = %v, want result 1", result)
	}

	// The connection stays usable after an error.
	conn.WriteJSON(map[string]string{"type": "execute", "script": "x = 1"})
	read()
	errMsg := read()
	if errMsg["type"] != "error" || !strings.Contains(errMsg["content"].(string), "main") {
		t.Fatalf("message = %v, want contract error", errMsg)
	}

	conn.WriteJSON(map[string]string{"type": "bogus"})
	if m := read(); m["type"] != "error" || m["content"] != "invalid message" {
		t.Fatalf("message = %v, want invalid message", m)
	}
}

func TestShutdown_ClosesWebSockets(t *testing.T) {
	s, _ := newTestServer(t, &stubSandbox{out: &sandbox.ExecResult{Result: "1"}}, false)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/execute/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.conns.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read error = %v, want going-away close", err)
	}
}
