package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/covalabs/coval/pkg/retry"
)

// scriptedProcessServer returns the scripted ProcessInfo responses in
// order, one per request, holding the last one once exhausted. A nil
// entry answers 404.
func scriptedProcessServer(t *testing.T, script []*ProcessInfo) *httptest.Server {
	t.Helper()
	i := 0
	handler := func(w http.ResponseWriter, r *http.Request) {
		var info *ProcessInfo
		if i < len(script) {
			info = script[i]
			i++
		} else if len(script) > 0 {
			info = script[len(script)-1]
		}
		if info == nil {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "process not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(info)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /process/{name}", handler)
	mux.HandleFunc("POST /process/{name}/wait", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 10, Interval: time.Millisecond}
}

func TestAwaitTerminalCompletesOnThirdCheck(t *testing.T) {
	running := &ProcessInfo{Name: "build", Status: ProcessRunning}
	done := &ProcessInfo{Name: "build", Status: ProcessCompleted, Logs: "ok"}
	// get running, wait running, get running, wait running, get completed
	srv := scriptedProcessServer(t, []*ProcessInfo{running, running, running, running, done})

	h := NewClient(srv.URL, "").Connect("app-1", srv.URL)
	info, err := h.AwaitTerminal(context.Background(), "build", testPolicy(), time.Second)
	if err != nil {
		t.Fatalf("AwaitTerminal() error = %v", err)
	}
	if info.Status != ProcessCompleted {
		t.Errorf("status = %s, want completed", info.Status)
	}
	if info.Logs != "ok" {
		t.Errorf("logs = %q, want %q", info.Logs, "ok")
	}
}

func TestAwaitTerminalRetriesUnregisteredProcess(t *testing.T) {
	done := &ProcessInfo{Name: "clone-template", Status: ProcessCompleted}
	// Background process not registered for the first two checks.
	srv := scriptedProcessServer(t, []*ProcessInfo{nil, nil, done})

	h := NewClient(srv.URL, "").Connect("app-1", srv.URL)
	info, err := h.AwaitTerminal(context.Background(), "clone-template", testPolicy(), time.Second)
	if err != nil {
		t.Fatalf("AwaitTerminal() error = %v", err)
	}
	if info.Status != ProcessCompleted {
		t.Errorf("status = %s, want completed", info.Status)
	}
}

func TestAwaitTerminalTimesOut(t *testing.T) {
	running := &ProcessInfo{Name: "stuck", Status: ProcessRunning}
	srv := scriptedProcessServer(t, []*ProcessInfo{running})

	h := NewClient(srv.URL, "").Connect("app-1", srv.URL)
	_, err := h.AwaitTerminal(context.Background(), "stuck", retry.Policy{MaxAttempts: 3, Interval: time.Millisecond}, time.Second)

	var timeoutErr *ProcessTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("AwaitTerminal() error = %v, want ProcessTimeoutError", err)
	}
	if timeoutErr.Name != "stuck" {
		t.Errorf("timeout names %q, want %q", timeoutErr.Name, "stuck")
	}
	if !strings.Contains(err.Error(), "stuck") {
		t.Errorf("error %q does not name the process", err.Error())
	}
}

func TestAwaitTerminalFailedProcess(t *testing.T) {
	failed := &ProcessInfo{Name: "build", Status: ProcessFailed, ExitCode: 2}
	srv := scriptedProcessServer(t, []*ProcessInfo{failed})

	h := NewClient(srv.URL, "").Connect("app-1", srv.URL)
	info, err := h.AwaitTerminal(context.Background(), "build", testPolicy(), time.Second)
	if err != nil {
		t.Fatalf("AwaitTerminal() error = %v", err)
	}
	if info.Status != ProcessFailed || info.ExitCode != 2 {
		t.Errorf("info = %+v, want failed with exit code 2", info)
	}
}

func TestGetProcessMapsNotFound(t *testing.T) {
	srv := scriptedProcessServer(t, []*ProcessInfo{nil})

	h := NewClient(srv.URL, "").Connect("app-1", srv.URL)
	_, err := h.GetProcess(context.Background(), "ghost")
	if !errors.Is(err, ErrProcessNotFound) {
		t.Fatalf("GetProcess() error = %v, want ErrProcessNotFound", err)
	}
}

func TestExecStartsProcess(t *testing.T) {
	var got ExecConfig
	mux := http.NewServeMux()
	mux.HandleFunc("POST /process", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode exec config: %v", err)
		}
		_ = json.NewEncoder(w).Encode(ProcessInfo{Name: got.Name, Status: ProcessRunning})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	h := NewClient(srv.URL, "").Connect("app-1", srv.URL)
	info, err := h.Exec(context.Background(), ExecConfig{
		Name:       "npm-install",
		Command:    "npm install",
		WorkingDir: "/app",
	})
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if info.Status != ProcessRunning {
		t.Errorf("status = %s, want running", info.Status)
	}
	if got.Command != "npm install" || got.WorkingDir != "/app" {
		t.Errorf("server saw config %+v", got)
	}
}
