// Package llm provides the chat-completion layer that drives app
// generation: message types shared with the persisted session state,
// the tool declarations exposed to the model, and a Provider interface
// with an OpenAI-backed implementation.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents one entry in a conversation. The same shape is
// persisted in the session state document, so every field is optional
// except Role.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDef declares a tool the model may call. Parameters is a JSON
// Schema object.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// StepResult is the outcome of a single model invocation.
type StepResult struct {
	// Message is the assistant message to append to the conversation.
	Message Message
	// FinishReason is the provider's stop reason ("stop", "tool_calls", ...).
	FinishReason string
	Usage        Usage
}

// Usage tracks token usage for a single step.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider generates the next assistant message for a conversation.
type Provider interface {
	Step(ctx context.Context, messages []Message, tools []ToolDef) (*StepResult, error)
}

// SystemMessage is a convenience constructor.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage is a convenience constructor.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ToolResultMessage builds the tool-role message answering a tool call.
func ToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}
