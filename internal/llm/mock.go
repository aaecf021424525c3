package llm

import (
	"context"
)

// MockProvider is a scripted Provider for testing. Each call to Step
// consumes the next entry: an error if one is scripted at that index,
// otherwise the next result.
type MockProvider struct {
	// Results to return for each step, in order.
	Results []*StepResult
	// Errors aligned by index with calls; a nil entry means no error.
	Errors []error

	// Track calls
	Calls [][]Message

	currentIndex int
}

// NewMockProvider creates a new mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Results: []*StepResult{},
		Errors:  []error{},
		Calls:   [][]Message{},
	}
}

// Step implements Provider.
func (m *MockProvider) Step(ctx context.Context, messages []Message, tools []ToolDef) (*StepResult, error) {
	snapshot := make([]Message, len(messages))
	copy(snapshot, messages)
	m.Calls = append(m.Calls, snapshot)

	// Check for errors first
	if m.currentIndex < len(m.Errors) && m.Errors[m.currentIndex] != nil {
		err := m.Errors[m.currentIndex]
		m.currentIndex++
		return nil, err
	}

	if m.currentIndex < len(m.Results) {
		result := m.Results[m.currentIndex]
		m.currentIndex++
		return result, nil
	}

	// Default: a plain completion that ends the loop.
	return &StepResult{
		Message:      Message{Role: RoleAssistant, Content: "Mock response"},
		FinishReason: "stop",
		Usage:        Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}
