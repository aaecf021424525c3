package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/covalabs/coval/internal/llm"
	"github.com/covalabs/coval/pkg/sandbox"
)

func testToolbox(t *testing.T) (*Toolbox, *fakeSandboxService) {
	t.Helper()
	f := newFakeSandboxService(t)
	client := sandbox.NewClient(f.url, "")
	h := client.Connect("tool-test", f.url)
	return NewToolbox(h, time.Second), f
}

func call(name, args string) llm.ToolCall {
	return llm.ToolCall{ID: "call-1", Name: name, Arguments: json.RawMessage(args)}
}

func TestToolboxWriteAndReadFile(t *testing.T) {
	tb, f := testToolbox(t)
	ctx := context.Background()

	out, err := tb.Execute(ctx, call(toolWriteFile, `{"path":"/app/src/App.tsx","content":"export default function App() {}"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "/app/src/App.tsx") {
		t.Errorf("write result = %q", out)
	}

	f.mu.Lock()
	stored := string(f.files["/app/src/App.tsx"])
	f.mu.Unlock()
	if stored != "export default function App() {}" {
		t.Errorf("stored = %q", stored)
	}

	got, err := tb.Execute(ctx, call(toolReadFile, `{"path":"/app/src/App.tsx"}`))
	if err != nil {
		t.Fatal(err)
	}
	if got != "export default function App() {}" {
		t.Errorf("read result = %q", got)
	}
}

func TestToolboxReadMissingFile(t *testing.T) {
	tb, _ := testToolbox(t)
	if _, err := tb.Execute(context.Background(), call(toolReadFile, `{"path":"/app/nope.txt"}`)); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestToolboxRunCommand(t *testing.T) {
	tb, f := testToolbox(t)

	out, err := tb.Execute(context.Background(), call(toolRunCommand, `{"command":"npm install"}`))
	if err != nil {
		t.Fatal(err)
	}
	if out != "installed 12 packages" {
		t.Errorf("command output = %q", out)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.commands) != 1 {
		t.Fatalf("commands = %d, want 1", len(f.commands))
	}
	if f.commands[0].Command != "npm install" || f.commands[0].WorkingDir != appDir {
		t.Errorf("exec config = %+v", f.commands[0])
	}
	if !strings.HasPrefix(f.commands[0].Name, "cmd-") {
		t.Errorf("process name = %q", f.commands[0].Name)
	}
}

func TestToolboxMissingArgument(t *testing.T) {
	tb, _ := testToolbox(t)
	if _, err := tb.Execute(context.Background(), call(toolWriteFile, `{"path":"/app/a.txt"}`)); err == nil {
		t.Fatal("expected an error for missing content")
	}
}

func TestToolboxUnknownTool(t *testing.T) {
	tb, _ := testToolbox(t)
	if _, err := tb.Execute(context.Background(), call("delete_everything", `{}`)); err == nil {
		t.Fatal("expected an error for an unknown tool")
	}
}

func TestToolboxDefsCoverAllTools(t *testing.T) {
	tb, _ := testToolbox(t)
	defs := tb.Defs()
	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
		var schema map[string]any
		if err := json.Unmarshal(d.Parameters, &schema); err != nil {
			t.Errorf("tool %s has invalid parameter schema: %v", d.Name, err)
		}
	}
	for _, want := range []string{toolReadFile, toolWriteFile, toolListDirectory, toolRunCommand} {
		if !names[want] {
			t.Errorf("missing tool definition %s", want)
		}
	}
}
