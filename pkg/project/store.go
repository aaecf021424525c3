package project

import (
	"context"
	"errors"
)

// Common errors for store operations.
var (
	// ErrNotFound is returned when a project doesn't exist.
	ErrNotFound = errors.New("project not found")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("project store is closed")
)

// Store abstracts project metadata persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create persists a new project record.
	Create(ctx context.Context, p *Project) error

	// Get retrieves a project by ID.
	// Returns ErrNotFound if the project doesn't exist.
	Get(ctx context.Context, id string) (*Project, error)

	// Update overwrites a project record. The ID is never changed.
	// Returns ErrNotFound if the project doesn't exist.
	Update(ctx context.Context, p *Project) error

	// AppendHistory adds a history entry and bumps UpdatedAt.
	AppendHistory(ctx context.Context, id string, entry HistoryEntry) error

	// List returns all projects, most recently updated first.
	List(ctx context.Context) ([]*Project, error)

	// Delete removes a project record. Deleting an absent project is
	// not an error.
	Delete(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}
