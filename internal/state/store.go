package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/covalabs/coval/internal/llm"
	"github.com/covalabs/coval/pkg/sandbox"
)

// StatePath is where the session document lives inside the sandbox.
const StatePath = "/state.json"

// FileSystem is the slice of the sandbox filesystem API the store
// needs. *sandbox.Handle satisfies it.
type FileSystem interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
}

// Store reads and writes the session document in a sandbox filesystem.
type Store struct {
	fs FileSystem
}

// NewStore creates a store over the given sandbox filesystem.
func NewStore(fs FileSystem) *Store {
	return &Store{fs: fs}
}

// Load reads the session document. A missing or unparseable file yields
// a fresh default state rather than an error, so a new or wiped sandbox
// always starts from a clean document.
func (s *Store) Load(ctx context.Context) *SessionState {
	data, err := s.fs.ReadFile(ctx, StatePath)
	if err != nil {
		if !sandbox.IsNotFound(err) {
			log.Printf("[state] read %s: %v, starting fresh", StatePath, err)
		}
		return DefaultState()
	}

	var st SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		log.Printf("[state] corrupt %s: %v, starting fresh", StatePath, err)
		return DefaultState()
	}
	if st.Logs == nil {
		st.Logs = []string{}
	}
	if st.ConversationHistory == nil {
		st.ConversationHistory = []llm.Message{}
	}
	return &st
}

// Save overwrites the session document with the given state.
func (s *Store) Save(ctx context.Context, st *SessionState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.fs.WriteFile(ctx, StatePath, data); err != nil {
		return fmt.Errorf("write %s: %w", StatePath, err)
	}
	return nil
}

// Checkpoint saves the state, logging failures instead of returning
// them. A lost checkpoint only costs resumability, never the run.
func (s *Store) Checkpoint(ctx context.Context, st *SessionState) {
	if err := s.Save(ctx, st); err != nil {
		log.Printf("[state] checkpoint failed: %v", err)
	}
}
