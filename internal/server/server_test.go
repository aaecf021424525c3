package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covalabs/coval/internal/engine"
	"github.com/covalabs/coval/internal/llm"
	"github.com/covalabs/coval/internal/stream"
	"github.com/covalabs/coval/pkg/config"
	"github.com/covalabs/coval/pkg/project"
	"github.com/covalabs/coval/pkg/sandbox"
)

// fakeSandboxAPI fakes the sandbox service: control plane plus the
// filesystem of a single sandbox.
type fakeSandboxAPI struct {
	srv     *httptest.Server
	missing bool
}

func newFakeSandboxAPI(t *testing.T) *fakeSandboxAPI {
	t.Helper()
	f := &fakeSandboxAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sandboxes/{name}", func(w http.ResponseWriter, r *http.Request) {
		if f.missing {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(sandbox.Metadata{Name: r.PathValue("name"), Status: sandbox.StatusDeployed, URL: f.srv.URL})
	})
	mux.HandleFunc("DELETE /sandboxes/{name}", func(w http.ResponseWriter, r *http.Request) {
		if f.missing {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /filesystem/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("PUT /filesystem/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestServer(t *testing.T, f *fakeSandboxAPI, provider llm.Provider, tweak func(*config.Config)) (*Server, project.Store) {
	t.Helper()
	cfg, _ := config.Load("")
	cfg.Sandbox.APIURL = f.srv.URL
	cfg.Sandbox.ForcedURL = f.srv.URL
	cfg.LLM.APIKey = "sk-test"
	if tweak != nil {
		tweak(cfg)
	}

	client := sandbox.NewClient(cfg.Sandbox.APIURL, "")
	cache := sandbox.NewCache(client, time.Hour)
	t.Cleanup(cache.Stop)
	projects, err := project.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = projects.Close() })

	eng := engine.New(cfg, client, cache, provider, projects)
	return New(cfg, eng, client, cache, projects), projects
}

func postGenerate(handler http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGenerateValidation(t *testing.T) {
	f := newFakeSandboxAPI(t)
	srv, _ := newTestServer(t, f, llm.NewMockProvider(), nil)
	handler := srv.Handler()

	rec := postGenerate(handler, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postGenerate(handler, `{"sessionId":"app-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])
}

func TestGenerateStreamsNDJSON(t *testing.T) {
	f := newFakeSandboxAPI(t)
	srv, _ := newTestServer(t, f, llm.NewMockProvider(), nil)

	rec := postGenerate(srv.Handler(), `{"prompt":"build a todo app"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stream.ContentType, rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	require.Equal(t, stream.DoneSentinel, lines[len(lines)-1])
	completes := 0
	for _, line := range lines[:len(lines)-1] {
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &frame), "bad frame %q", line)
		if frame["type"] == "complete" {
			completes++
		}
	}
	assert.Equal(t, 1, completes)
}

func TestGenerateRateLimited(t *testing.T) {
	f := newFakeSandboxAPI(t)
	srv, _ := newTestServer(t, f, llm.NewMockProvider(), func(cfg *config.Config) {
		cfg.Limits.RequestsPerSecond = 0.001
		cfg.Limits.Burst = 1
	})
	handler := srv.Handler()

	if rec := postGenerate(handler, `{"prompt":"one"}`); rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rec.Code)
	}
	if rec := postGenerate(handler, `{"prompt":"two"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status = %d, want 429", rec.Code)
	}
}

// blockingProvider parks in Step until released, to hold a session busy.
type blockingProvider struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingProvider) Step(ctx context.Context, _ []llm.Message, _ []llm.ToolDef) (*llm.StepResult, error) {
	close(p.started)
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	return &llm.StepResult{Message: llm.Message{Role: llm.RoleAssistant, Content: "done"}, FinishReason: "stop"}, nil
}

func TestGenerateRejectsConcurrentSessionRuns(t *testing.T) {
	f := newFakeSandboxAPI(t)
	provider := &blockingProvider{started: make(chan struct{}), release: make(chan struct{})}
	srv, _ := newTestServer(t, f, provider, nil)
	handler := srv.Handler()

	first := make(chan *httptest.ResponseRecorder)
	go func() {
		first <- postGenerate(handler, `{"prompt":"one","sessionId":"app-busy"}`)
	}()

	<-provider.started
	if rec := postGenerate(handler, `{"prompt":"two","sessionId":"app-busy"}`); rec.Code != http.StatusConflict {
		t.Errorf("concurrent run: status = %d, want 409", rec.Code)
	}
	close(provider.release)

	if rec := <-first; rec.Code != http.StatusOK {
		t.Errorf("first run: status = %d, want 200", rec.Code)
	}
}

func seedProject(t *testing.T, projects project.Store, id, sandboxID string) {
	t.Helper()
	err := projects.Create(context.Background(), &project.Project{
		ID:        id,
		Name:      "todo app",
		SandboxID: sandboxID,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestProjectRoutes(t *testing.T) {
	f := newFakeSandboxAPI(t)
	srv, projects := newTestServer(t, f, llm.NewMockProvider(), nil)
	handler := srv.Handler()
	seedProject(t, projects, "todo-1", "app-123")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var all []project.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 1)
	assert.Equal(t, "todo-1", all[0].ID)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects/todo-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteProjectToleratesMissingSandbox(t *testing.T) {
	f := newFakeSandboxAPI(t)
	f.missing = true
	srv, projects := newTestServer(t, f, llm.NewMockProvider(), nil)
	handler := srv.Handler()
	seedProject(t, projects, "todo-1", "app-gone")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/projects/todo-1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d, want 204", rec.Code)
	}

	if _, err := projects.Get(context.Background(), "todo-1"); err == nil {
		t.Error("project record still present after delete")
	}
}

func TestProjectStateDefaultsWhenSandboxGone(t *testing.T) {
	f := newFakeSandboxAPI(t)
	f.missing = true
	srv, projects := newTestServer(t, f, llm.NewMockProvider(), nil)
	handler := srv.Handler()
	seedProject(t, projects, "todo-1", "app-gone")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects/todo-1/state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("state: status = %d, want 200", rec.Code)
	}
	var st map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st["status"] != "idle" {
		t.Errorf("status = %v, want idle", st["status"])
	}
}

func TestHealthRoute(t *testing.T) {
	f := newFakeSandboxAPI(t)
	srv, _ := newTestServer(t, f, llm.NewMockProvider(), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK && rec.Code != http.StatusServiceUnavailable {
		t.Errorf("healthz: status = %d", rec.Code)
	}
}
