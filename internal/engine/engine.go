// Package engine runs the generation step loop: it acquires a sandbox
// for the session, drives the model through tool-calling steps, and
// checkpoints the session state after every step so a killed run can be
// resumed from its last step instead of the original prompt.
package engine

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/covalabs/coval/internal/llm"
	tracing "github.com/covalabs/coval/internal/observability"
	"github.com/covalabs/coval/internal/state"
	"github.com/covalabs/coval/internal/stream"
	"github.com/covalabs/coval/pkg/config"
	"github.com/covalabs/coval/pkg/observability"
	"github.com/covalabs/coval/pkg/project"
	"github.com/covalabs/coval/pkg/retry"
	"github.com/covalabs/coval/pkg/sandbox"
)

// cloneProcess is the background process the sandbox image starts to
// populate /app with the template. It may not be registered yet when
// the sandbox first reports ready, which is exactly what the poller is
// for.
const cloneProcess = "clone-template"

// Request is one generation request.
type Request struct {
	Prompt    string
	SessionID string
}

// Engine orchestrates generation runs.
type Engine struct {
	cfg      *config.Config
	client   *sandbox.Client
	cache    *sandbox.Cache
	provider llm.Provider
	projects project.Store
}

// New creates an engine.
func New(cfg *config.Config, client *sandbox.Client, cache *sandbox.Cache, provider llm.Provider, projects project.Store) *Engine {
	return &Engine{
		cfg:      cfg,
		client:   client,
		cache:    cache,
		provider: provider,
		projects: projects,
	}
}

// session is the resolved sandbox context for one run.
type session struct {
	id         string
	handle     *sandbox.Handle
	isNew      bool
	previewURL string
}

// Run executes one generation run, emitting progress to out. All
// failures are converted into a terminal error event and a persisted
// error state; Run never panics the caller and always closes the
// stream.
func (e *Engine) Run(ctx context.Context, req Request, out *stream.Writer) {
	defer out.Close()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Generate.Timeout)
	defer cancel()

	ctx, span := tracing.StartSpan(ctx, "engine.run", map[string]any{"session": req.SessionID})
	defer span.End()

	observability.GenerationStarted()
	defer observability.GenerationFinished()
	start := time.Now()

	sess, err := e.acquireSession(ctx, req, out)
	if err != nil {
		// No sandbox, so nothing to checkpoint.
		log.Printf("[engine] acquire session: %v", err)
		out.Log("error: " + err.Error())
		out.Complete("Generation failed: " + err.Error())
		observability.RecordGeneration("error", 0, time.Since(start))
		return
	}

	store := state.NewStore(sess.handle)
	st := store.Load(ctx)

	if !sess.isNew && len(st.Logs) > 0 {
		out.Event(stream.ExistingLogsEvent{ExistingLogs: st.Logs})
	}

	st.Begin(req.Prompt)
	st.ConversationHistory = append(st.ConversationHistory, llm.UserMessage(req.Prompt))
	store.Checkpoint(ctx, st)

	span.SetAttribute("sandbox", sess.id)

	steps, runErr := e.runSteps(ctx, sess, store, st, out)
	if runErr != nil {
		span.SetError(runErr)
		msg := runErr.Error()
		log.Printf("[engine] session %s failed after %d steps: %v", sess.id, steps, runErr)
		st.Fail(msg)
		store.Checkpoint(ctx, st)
		out.Log("error: " + msg)
		out.Complete("Generation failed: " + msg)
		e.recordHistory(ctx, sess, project.HistoryError, msg)
		observability.RecordGeneration("error", steps, time.Since(start))
		return
	}

	st.Complete()
	st.CurrentPrompt = ""
	store.Checkpoint(ctx, st)

	summary := lastAssistantText(st)
	if summary == "" {
		summary = "Done."
	}
	out.Complete(summary)

	kind := project.HistoryUpdate
	if sess.isNew {
		kind = project.HistoryCreate
	}
	e.recordHistory(ctx, sess, kind, req.Prompt)
	observability.RecordGeneration("completed", steps, time.Since(start))
	log.Printf("[engine] session %s completed in %d steps", sess.id, steps)
}

// acquireSession resolves an existing sandbox or provisions a new one.
func (e *Engine) acquireSession(ctx context.Context, req Request, out *stream.Writer) (*session, error) {
	if e.cfg.Sandbox.ForcedURL != "" {
		return e.connectForced(ctx, req, out)
	}

	if req.SessionID != "" {
		out.Log("Reconnecting to session " + req.SessionID)
		h, err := e.cache.Resolve(ctx, req.SessionID)
		if err == nil {
			return &session{id: req.SessionID, handle: h}, nil
		}
		if !sandbox.IsNotFound(err) {
			return nil, fmt.Errorf("resolve session %s: %w", req.SessionID, err)
		}
		out.Log("Session expired, starting fresh")
	}

	return e.provision(ctx, out)
}

// connectForced attaches to a single pre-existing local sandbox instead
// of provisioning through the remote API. Used for development.
func (e *Engine) connectForced(ctx context.Context, req Request, out *stream.Writer) (*session, error) {
	id := req.SessionID
	isNew := id == ""
	if isNew {
		id = newSessionID()
	}
	h := e.client.Connect(id, e.cfg.Sandbox.ForcedURL)
	e.cache.Register(id, h)
	if isNew {
		out.Event(stream.SandboxEvent{
			PreviewURL: e.cfg.Sandbox.ForcedURL,
			SandboxID:  id,
		})
	}
	return &session{id: id, handle: h, isNew: isNew, previewURL: e.cfg.Sandbox.ForcedURL}, nil
}

func (e *Engine) provision(ctx context.Context, out *stream.Writer) (*session, error) {
	id := newSessionID()
	out.Log("Creating sandbox " + id)

	readyCtx, cancel := context.WithTimeout(ctx, e.cfg.Sandbox.ReadyTimeout)
	defer cancel()

	if _, err := e.client.Create(readyCtx, sandbox.CreateConfig{
		Name:     id,
		Image:    e.cfg.Sandbox.Image,
		MemoryMB: e.cfg.Sandbox.MemoryMB,
		Ports:    []sandbox.PortConfig{{Name: "app", Target: e.cfg.Sandbox.PreviewPort, Protocol: "http"}},
	}); err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}

	h, err := e.client.WaitReady(readyCtx, id)
	if err != nil {
		return nil, fmt.Errorf("sandbox not ready: %w", err)
	}

	out.Log("Setting up app template")
	info, err := h.AwaitTerminal(ctx, cloneProcess, retry.DefaultPolicy(), e.cfg.Generate.ProcessWaitTimeout)
	if err != nil {
		return nil, fmt.Errorf("template setup: %w", err)
	}
	if info.Status == sandbox.ProcessFailed {
		return nil, fmt.Errorf("template setup failed with exit code %d", info.ExitCode)
	}

	preview, err := h.CreatePreview(ctx, sandbox.PreviewConfig{
		Name:   "app",
		Port:   e.cfg.Sandbox.PreviewPort,
		Public: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create preview: %w", err)
	}

	ev := stream.SandboxEvent{
		PreviewURL: preview.URL,
		SandboxID:  id,
	}
	// Terminal access is a convenience; its absence should not fail the
	// run.
	if term, err := h.CreateTerminalSession(ctx, time.Now().Add(24*time.Hour)); err != nil {
		log.Printf("[engine] terminal session for %s: %v", id, err)
	} else {
		ev.SessionURL = term.URL
		ev.SessionToken = term.Token
	}

	e.cache.Register(id, h)
	out.Event(ev)
	out.Log("Sandbox ready")

	return &session{id: id, handle: h, isNew: true, previewURL: preview.URL}, nil
}

// runSteps drives the model until it stops requesting tools or the step
// bound is reached. State is checkpointed after every step.
func (e *Engine) runSteps(ctx context.Context, sess *session, store *state.Store, st *state.SessionState, out *stream.Writer) (int, error) {
	tools := NewToolbox(sess.handle, e.cfg.Generate.ProcessWaitTimeout)
	defs := tools.Defs()

	maxSteps := e.cfg.LLM.MaxSteps
	for step := 0; step < maxSteps; step++ {
		stepCtx, span := tracing.StartSpan(ctx, "engine.step", map[string]any{"step": step})
		messages := append([]llm.Message{llm.SystemMessage(systemPrompt)}, st.ConversationHistory...)
		res, err := e.provider.Step(stepCtx, messages, defs)
		if err != nil {
			span.SetError(err)
			span.End()
			return step, fmt.Errorf("model invocation: %w", err)
		}

		st.ConversationHistory = append(st.ConversationHistory, res.Message)
		if res.Message.Content != "" {
			st.AppendLog(res.Message.Content)
			out.Log(res.Message.Content)
		}

		if len(res.Message.ToolCalls) == 0 {
			store.Checkpoint(ctx, st)
			span.End()
			return step + 1, nil
		}

		for _, call := range res.Message.ToolCalls {
			line := "Running " + call.Name
			st.AppendLog(line)
			out.Log(line)

			result, err := tools.Execute(stepCtx, call)
			if err != nil {
				store.Checkpoint(ctx, st)
				span.SetError(err)
				span.End()
				return step + 1, fmt.Errorf("tool %s: %w", call.Name, err)
			}
			st.ConversationHistory = append(st.ConversationHistory, llm.ToolResultMessage(call.ID, result))
		}

		store.Checkpoint(ctx, st)
		span.End()
	}

	return maxSteps, nil
}

func (e *Engine) recordHistory(ctx context.Context, sess *session, kind project.HistoryType, description string) {
	entry := project.HistoryEntry{
		Timestamp:   time.Now().UTC(),
		Type:        kind,
		Description: description,
	}

	if sess.isNew {
		p := &project.Project{
			ID:          project.GenerateID(description),
			Name:        description,
			Description: description,
			SandboxID:   sess.id,
			PreviewURL:  sess.previewURL,
			History:     []project.HistoryEntry{entry},
		}
		if err := e.projects.Create(ctx, p); err != nil {
			log.Printf("[engine] record project for %s: %v", sess.id, err)
		}
		return
	}

	p, err := e.findProject(ctx, sess.id)
	if err != nil {
		log.Printf("[engine] find project for %s: %v", sess.id, err)
		return
	}
	if err := e.projects.AppendHistory(ctx, p.ID, entry); err != nil {
		log.Printf("[engine] append history %s: %v", p.ID, err)
	}
}

// findProject locates the project record owning a sandbox.
func (e *Engine) findProject(ctx context.Context, sandboxID string) (*project.Project, error) {
	all, err := e.projects.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.SandboxID == sandboxID {
			return p, nil
		}
	}
	return nil, project.ErrNotFound
}

func lastAssistantText(st *state.SessionState) string {
	for i := len(st.ConversationHistory) - 1; i >= 0; i-- {
		m := st.ConversationHistory[i]
		if m.Role == llm.RoleAssistant && m.Content != "" {
			return m.Content
		}
	}
	return ""
}

// newSessionID builds a sandbox identifier of the form
// app-<timestamp>-<random>.
func newSessionID() string {
	return fmt.Sprintf("app-%d-%06d", time.Now().UnixMilli(), rand.Intn(1_000_000))
}
