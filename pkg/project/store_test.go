package project

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// Both backends must satisfy the same contract, so the suite runs
// against each.
func storeUnderTest(t *testing.T, kind string) Store {
	t.Helper()
	switch kind {
	case "file":
		s, err := NewFileStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewFileStore() error = %v", err)
		}
		return s
	case "redis":
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return NewRedisStoreFromClient(client, "test:project:")
	default:
		t.Fatalf("unknown store kind %q", kind)
		return nil
	}
}

func TestStoreContract(t *testing.T) {
	for _, kind := range []string{"file", "redis"} {
		t.Run(kind, func(t *testing.T) {
			t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, storeUnderTest(t, kind)) })
			t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, storeUnderTest(t, kind)) })
			t.Run("UpdatePreservesCreatedAt", func(t *testing.T) { testUpdate(t, storeUnderTest(t, kind)) })
			t.Run("AppendHistory", func(t *testing.T) { testAppendHistory(t, storeUnderTest(t, kind)) })
			t.Run("ListOrder", func(t *testing.T) { testListOrder(t, storeUnderTest(t, kind)) })
			t.Run("Delete", func(t *testing.T) { testDelete(t, storeUnderTest(t, kind)) })
			t.Run("Closed", func(t *testing.T) { testClosed(t, storeUnderTest(t, kind)) })
		})
	}
}

func testCreateAndGet(t *testing.T, s Store) {
	defer s.Close()
	ctx := context.Background()

	p := &Project{
		ID:          "todo-app-abc123",
		Name:        "build a todo app",
		Description: "build a todo app",
		SandboxID:   "app-1700000000-42",
		PreviewURL:  "https://preview.test",
		History: []HistoryEntry{
			{Type: HistoryCreate, Description: "build a todo app"},
		},
	}
	if err := s.Create(ctx, p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := s.Get(ctx, "todo-app-abc123")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SandboxID != p.SandboxID || got.PreviewURL != p.PreviewURL {
		t.Errorf("Get() = %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("Create did not stamp timestamps")
	}
	if len(got.History) != 1 || got.History[0].Type != HistoryCreate {
		t.Errorf("History = %+v", got.History)
	}
}

func testGetMissing(t *testing.T, s Store) {
	defer s.Close()
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func testUpdate(t *testing.T, s Store) {
	defer s.Close()
	ctx := context.Background()

	p := &Project{ID: "p1", Name: "first"}
	if err := s.Create(ctx, p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	created, _ := s.Get(ctx, "p1")

	updated := &Project{ID: "p1", Name: "renamed", PreviewURL: "https://new.test"}
	if err := s.Update(ctx, updated); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _ := s.Get(ctx, "p1")
	if got.Name != "renamed" {
		t.Errorf("Name = %q, want renamed", got.Name)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt changed on update: %v -> %v", created.CreatedAt, got.CreatedAt)
	}

	if err := s.Update(ctx, &Project{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func testAppendHistory(t *testing.T, s Store) {
	defer s.Close()
	ctx := context.Background()

	if err := s.Create(ctx, &Project{ID: "p1"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.AppendHistory(ctx, "p1", HistoryEntry{Type: HistoryUpdate, Description: "add dark mode"}); err != nil {
		t.Fatalf("AppendHistory() error = %v", err)
	}
	if err := s.AppendHistory(ctx, "p1", HistoryEntry{Type: HistoryError, Description: "npm install failed"}); err != nil {
		t.Fatalf("AppendHistory() error = %v", err)
	}

	got, _ := s.Get(ctx, "p1")
	if len(got.History) != 2 {
		t.Fatalf("History length = %d, want 2", len(got.History))
	}
	if got.History[0].Type != HistoryUpdate || got.History[1].Type != HistoryError {
		t.Errorf("History = %+v", got.History)
	}
	for i, e := range got.History {
		if e.Timestamp.IsZero() {
			t.Errorf("History[%d] missing timestamp", i)
		}
	}

	if err := s.AppendHistory(ctx, "missing", HistoryEntry{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendHistory(missing) error = %v, want ErrNotFound", err)
	}
}

func testListOrder(t *testing.T, s Store) {
	defer s.Close()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Create(ctx, &Project{ID: id}); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Touch "a" so it becomes most recent.
	if err := s.AppendHistory(ctx, "a", HistoryEntry{Type: HistoryUpdate, Description: "touch"}); err != nil {
		t.Fatalf("AppendHistory() error = %v", err)
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("List() length = %d, want 3", len(got))
	}
	if got[0].ID != "a" {
		t.Errorf("List()[0] = %s, want a (most recently updated)", got[0].ID)
	}
}

func testDelete(t *testing.T, s Store) {
	defer s.Close()
	ctx := context.Background()

	if err := s.Create(ctx, &Project{ID: "p1"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Delete(ctx, "p1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(deleted) error = %v, want ErrNotFound", err)
	}

	// Deleting an absent project is not an error.
	if err := s.Delete(ctx, "p1"); err != nil {
		t.Errorf("Delete(absent) error = %v", err)
	}

	got, _ := s.List(ctx)
	if len(got) != 0 {
		t.Errorf("List() after delete = %d entries", len(got))
	}
}

func testClosed(t *testing.T, s Store) {
	ctx := context.Background()
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Create(ctx, &Project{ID: "p1"}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Create() after close error = %v, want ErrStoreClosed", err)
	}
}
