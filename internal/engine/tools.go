package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/covalabs/coval/internal/llm"
	"github.com/covalabs/coval/pkg/observability"
	"github.com/covalabs/coval/pkg/retry"
	"github.com/covalabs/coval/pkg/sandbox"
)

// Tool names exposed to the model.
const (
	toolReadFile      = "read_file"
	toolWriteFile     = "write_file"
	toolListDirectory = "list_directory"
	toolRunCommand    = "run_command"
)

// appDir is the working directory of the generated app inside the
// sandbox.
const appDir = "/app"

// Toolbox executes model tool calls against a sandbox.
type Toolbox struct {
	handle      *sandbox.Handle
	waitTimeout time.Duration
	policy      retry.Policy
}

// NewToolbox creates a toolbox bound to one sandbox handle.
func NewToolbox(h *sandbox.Handle, waitTimeout time.Duration) *Toolbox {
	return &Toolbox{
		handle:      h,
		waitTimeout: waitTimeout,
		policy:      retry.DefaultPolicy(),
	}
}

// Defs returns the tool declarations for the model.
func (t *Toolbox) Defs() []llm.ToolDef {
	return []llm.ToolDef{
		{
			Name:        toolReadFile,
			Description: "Read the contents of a file in the app workspace.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Absolute file path, e.g. /app/src/App.tsx"}
				},
				"required": ["path"]
			}`),
		},
		{
			Name:        toolWriteFile,
			Description: "Create or overwrite a file in the app workspace.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path":    {"type": "string", "description": "Absolute file path"},
					"content": {"type": "string", "description": "Full file contents"}
				},
				"required": ["path", "content"]
			}`),
		},
		{
			Name:        toolListDirectory,
			Description: "List files and directories under a path in the app workspace.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Absolute directory path, defaults to /app"}
				}
			}`),
		},
		{
			Name:        toolRunCommand,
			Description: "Run a shell command in the app workspace and wait for it to finish.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"command": {"type": "string", "description": "Shell command to run"}
				},
				"required": ["command"]
			}`),
		},
	}
}

// Execute runs a single tool call and returns its textual result.
func (t *Toolbox) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	start := time.Now()
	result, err := t.dispatch(ctx, call)
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.RecordToolCall(call.Name, status, time.Since(start))
	return result, err
}

func (t *Toolbox) dispatch(ctx context.Context, call llm.ToolCall) (string, error) {
	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "", fmt.Errorf("tool %s: bad arguments: %w", call.Name, err)
		}
	}

	switch call.Name {
	case toolReadFile:
		return t.readFile(ctx, args)
	case toolWriteFile:
		return t.writeFile(ctx, args)
	case toolListDirectory:
		return t.listDirectory(ctx, args)
	case toolRunCommand:
		return t.runCommand(ctx, args)
	default:
		return "", fmt.Errorf("unknown tool: %s", call.Name)
	}
}

func (t *Toolbox) readFile(ctx context.Context, args map[string]any) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	data, err := t.handle.ReadFile(ctx, path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func (t *Toolbox) writeFile(ctx context.Context, args map[string]any) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return "", err
	}
	if err := t.handle.WriteFile(ctx, path, []byte(content)); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

func (t *Toolbox) listDirectory(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = appDir
	}
	entries, err := t.handle.ListDir(ctx, path)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", path, err)
	}
	if len(entries) == 0 {
		return "(empty)", nil
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir {
			fmt.Fprintf(&b, "%s/\n", e.Path)
		} else {
			fmt.Fprintf(&b, "%s (%d bytes)\n", e.Path, e.Size)
		}
	}
	return b.String(), nil
}

// runCommand starts the command as a named background process and polls
// it to a terminal state, so slow registration on the remote side does
// not fail the call.
func (t *Toolbox) runCommand(ctx context.Context, args map[string]any) (string, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return "", err
	}

	name := "cmd-" + uuid.NewString()[:8]
	if _, err := t.handle.Exec(ctx, sandbox.ExecConfig{
		Name:       name,
		Command:    command,
		WorkingDir: appDir,
	}); err != nil {
		return "", fmt.Errorf("exec %q: %w", command, err)
	}

	info, err := t.handle.AwaitTerminal(ctx, name, t.policy, t.waitTimeout)
	if err != nil {
		return "", err
	}

	out := info.Logs
	if info.Status == sandbox.ProcessFailed {
		return "", fmt.Errorf("command %q exited with code %d: %s", command, info.ExitCode, out)
	}
	if out == "" {
		out = "(no output)"
	}
	return out, nil
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	return v, nil
}
