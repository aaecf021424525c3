// Package project persists project metadata records. A project is the
// user-facing wrapper around one sandbox-backed generation session.
package project

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// HistoryType classifies a project history entry.
type HistoryType string

const (
	HistoryCreate HistoryType = "create"
	HistoryUpdate HistoryType = "update"
	HistoryError  HistoryType = "error"
)

// HistoryEntry records one event in a project's lifetime.
type HistoryEntry struct {
	Timestamp   time.Time   `json:"timestamp"`
	Type        HistoryType `json:"type"`
	Description string      `json:"description"`
}

// Project is a persisted metadata record for one generation session.
type Project struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	SandboxID   string         `json:"sandboxId,omitempty"`
	PreviewURL  string         `json:"previewUrl,omitempty"`
	SessionURL  string         `json:"sessionUrl,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	History     []HistoryEntry `json:"history"`
}

// GenerateID derives a readable project identifier from a description:
// up to three significant words, a timestamp, and a random suffix.
func GenerateID(description string) string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(description)) {
		w = strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, w)
		if len(w) > 3 {
			words = append(words, w)
		}
		if len(words) == 3 {
			break
		}
	}

	slug := strings.Join(words, "-")
	if slug == "" {
		slug = "project"
	}

	return slug + "-" + uuid.NewString()[:8]
}
