// Package state persists the generation session document inside the
// sandbox filesystem, which makes sessions resumable across service
// restarts and sandbox reconnects.
package state

import (
	"time"

	"github.com/covalabs/coval/internal/llm"
)

// Status is the lifecycle status of a generation session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// SessionState is the session document stored at StatePath inside the
// sandbox. The conversation history is never truncated; follow-up
// prompts keep appending to it.
type SessionState struct {
	Status              Status        `json:"status"`
	Logs                []string      `json:"logs"`
	ConversationHistory []llm.Message `json:"conversationHistory"`
	CurrentPrompt       string        `json:"currentPrompt,omitempty"`
	StartedAt           *time.Time    `json:"startedAt,omitempty"`
	CompletedAt         *time.Time    `json:"completedAt,omitempty"`
	Error               string        `json:"error,omitempty"`
}

// DefaultState returns a fresh idle session document.
func DefaultState() *SessionState {
	return &SessionState{
		Status:              StatusIdle,
		Logs:                []string{},
		ConversationHistory: []llm.Message{},
	}
}

// AppendLog records a progress line in the session document.
func (s *SessionState) AppendLog(line string) {
	s.Logs = append(s.Logs, line)
}

// Begin transitions the session into in_progress for the given prompt.
func (s *SessionState) Begin(prompt string) {
	now := time.Now().UTC()
	s.Status = StatusInProgress
	s.CurrentPrompt = prompt
	s.StartedAt = &now
	s.CompletedAt = nil
	s.Error = ""
}

// Complete marks the session as successfully finished.
func (s *SessionState) Complete() {
	now := time.Now().UTC()
	s.Status = StatusCompleted
	s.CompletedAt = &now
	s.Error = ""
}

// Fail marks the session as failed with the given error message.
func (s *SessionState) Fail(msg string) {
	now := time.Now().UTC()
	s.Status = StatusError
	s.CompletedAt = &now
	s.Error = msg
}
