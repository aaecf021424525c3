package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
)

// fakeChatClient scripts CreateChatCompletion responses.
type fakeChatClient struct {
	resp openai.ChatCompletionResponse
	err  error
	got  openai.ChatCompletionRequest
}

func (f *fakeChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.got = req
	return f.resp, f.err
}

func TestOpenAIProviderStep(t *testing.T) {
	fake := &fakeChatClient{
		resp: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						Role:    openai.ChatMessageRoleAssistant,
						Content: "Creating the app",
						ToolCalls: []openai.ToolCall{
							{
								ID:   "call-1",
								Type: openai.ToolTypeFunction,
								Function: openai.FunctionCall{
									Name:      "write_file",
									Arguments: `{"path":"/app/index.html","content":"<h1>hi</h1>"}`,
								},
							},
						},
					},
					FinishReason: openai.FinishReasonToolCalls,
				},
			},
			Usage: openai.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
		},
	}
	p := NewOpenAIProviderWithClient(fake, "gpt-4o")

	tools := []ToolDef{{
		Name:        "write_file",
		Description: "write a file",
		Parameters:  json.RawMessage(`{"type":"object"}`),
	}}
	messages := []Message{
		SystemMessage("you build apps"),
		UserMessage("build a todo app"),
	}

	res, err := p.Step(context.Background(), messages, tools)
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	if res.Message.Role != RoleAssistant || res.Message.Content != "Creating the app" {
		t.Errorf("message = %+v", res.Message)
	}
	if len(res.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(res.Message.ToolCalls))
	}
	tc := res.Message.ToolCalls[0]
	if tc.ID != "call-1" || tc.Name != "write_file" {
		t.Errorf("tool call = %+v", tc)
	}
	var args map[string]string
	if err := json.Unmarshal(tc.Arguments, &args); err != nil || args["path"] != "/app/index.html" {
		t.Errorf("arguments = %s", tc.Arguments)
	}
	if res.FinishReason != string(openai.FinishReasonToolCalls) {
		t.Errorf("finish reason = %q", res.FinishReason)
	}
	if res.Usage.TotalTokens != 120 {
		t.Errorf("usage = %+v", res.Usage)
	}

	// The request carried model, full history, and the declared tools.
	if fake.got.Model != "gpt-4o" {
		t.Errorf("request model = %q", fake.got.Model)
	}
	if len(fake.got.Messages) != 2 {
		t.Errorf("request messages = %d, want 2", len(fake.got.Messages))
	}
	if len(fake.got.Tools) != 1 || fake.got.Tools[0].Function.Name != "write_file" {
		t.Errorf("request tools = %+v", fake.got.Tools)
	}
}

func TestOpenAIProviderRoundTripsToolHistory(t *testing.T) {
	fake := &fakeChatClient{
		resp: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "Done"}},
			},
		},
	}
	p := NewOpenAIProviderWithClient(fake, "gpt-4o")

	messages := []Message{
		UserMessage("build it"),
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "call-1", Name: "run_command", Arguments: json.RawMessage(`{"command":"npm install"}`)},
			},
		},
		ToolResultMessage("call-1", "ok"),
	}

	if _, err := p.Step(context.Background(), messages, nil); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	sent := fake.got.Messages
	if len(sent) != 3 {
		t.Fatalf("sent messages = %d, want 3", len(sent))
	}
	if len(sent[1].ToolCalls) != 1 || sent[1].ToolCalls[0].Function.Name != "run_command" {
		t.Errorf("assistant tool calls not forwarded: %+v", sent[1])
	}
	if sent[2].Role != openai.ChatMessageRoleTool || sent[2].ToolCallID != "call-1" {
		t.Errorf("tool result not forwarded: %+v", sent[2])
	}
}

func TestOpenAIProviderErrors(t *testing.T) {
	fake := &fakeChatClient{err: errors.New("rate limited")}
	p := NewOpenAIProviderWithClient(fake, "gpt-4o")

	if _, err := p.Step(context.Background(), []Message{UserMessage("hi")}, nil); err == nil {
		t.Fatal("Step() error = nil, want provider error")
	}

	fake.err = nil
	fake.resp = openai.ChatCompletionResponse{}
	if _, err := p.Step(context.Background(), []Message{UserMessage("hi")}, nil); err == nil {
		t.Fatal("Step() error = nil, want no-choices error")
	}
}

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider("", "", "gpt-4o"); err == nil {
		t.Fatal("NewOpenAIProvider() error = nil, want missing-key error")
	}
}

func TestMockProviderScripting(t *testing.T) {
	mock := NewMockProvider()
	mock.Results = []*StepResult{
		{Message: Message{Role: RoleAssistant, Content: "step one"}},
	}
	mock.Errors = []error{nil, errors.New("boom")}

	res, err := mock.Step(context.Background(), []Message{UserMessage("go")}, nil)
	if err != nil || res.Message.Content != "step one" {
		t.Fatalf("first step = %+v, %v", res, err)
	}

	if _, err := mock.Step(context.Background(), nil, nil); err == nil {
		t.Fatal("second step error = nil, want scripted error")
	}

	// Past the script, the mock falls back to a plain completion.
	res, err = mock.Step(context.Background(), nil, nil)
	if err != nil || res.FinishReason != "stop" {
		t.Fatalf("default step = %+v, %v", res, err)
	}

	if len(mock.Calls) != 3 {
		t.Errorf("recorded calls = %d, want 3", len(mock.Calls))
	}
}
