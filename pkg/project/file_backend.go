package project

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore implements Store as a single JSON document on disk, the
// whole record set rewritten on every mutation. Suitable for a
// single-process deployment.
type FileStore struct {
	path   string
	mu     sync.RWMutex
	closed bool
}

// NewFileStore creates a file-backed project store at dir/projects.json.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, "projects.json")}, nil
}

type fileDB struct {
	Projects map[string]*Project `json:"projects"`
}

// load reads the whole database. A missing file is an empty database;
// a corrupt file is an error so records are never silently discarded.
func (s *FileStore) load() (*fileDB, error) {
	db := &fileDB{Projects: make(map[string]*Project)}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return db, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read project database: %w", err)
	}
	if err := json.Unmarshal(data, db); err != nil {
		return nil, fmt.Errorf("parse project database: %w", err)
	}
	if db.Projects == nil {
		db.Projects = make(map[string]*Project)
	}
	return db, nil
}

func (s *FileStore) save(db *fileDB) error {
	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal project database: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write project database: %w", err)
	}
	return nil
}

// Create persists a new project record.
func (s *FileStore) Create(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	db, err := s.load()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	db.Projects[p.ID] = p
	return s.save(db)
}

// Get retrieves a project by ID.
func (s *FileStore) Get(ctx context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	db, err := s.load()
	if err != nil {
		return nil, err
	}
	p, ok := db.Projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// Update overwrites a project record.
func (s *FileStore) Update(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	db, err := s.load()
	if err != nil {
		return err
	}
	existing, ok := db.Projects[p.ID]
	if !ok {
		return ErrNotFound
	}

	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	db.Projects[p.ID] = p
	return s.save(db)
}

// AppendHistory adds a history entry and bumps UpdatedAt.
func (s *FileStore) AppendHistory(ctx context.Context, id string, entry HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	db, err := s.load()
	if err != nil {
		return err
	}
	p, ok := db.Projects[id]
	if !ok {
		return ErrNotFound
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	p.History = append(p.History, entry)
	p.UpdatedAt = time.Now().UTC()
	return s.save(db)
}

// List returns all projects, most recently updated first.
func (s *FileStore) List(ctx context.Context) ([]*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	db, err := s.load()
	if err != nil {
		return nil, err
	}

	projects := make([]*Project, 0, len(db.Projects))
	for _, p := range db.Projects {
		projects = append(projects, p)
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
	})
	return projects, nil
}

// Delete removes a project record.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	db, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := db.Projects[id]; !ok {
		return nil
	}
	delete(db.Projects, id)
	return s.save(db)
}

// Close marks the store closed.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
