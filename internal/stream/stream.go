// Package stream frames generation progress as newline-delimited JSON
// over an HTTP response. Events reach the client in emission order;
// once the client disconnects every emit becomes a no-op so background
// work keeps running.
package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
)

// DoneSentinel is the literal final line written before the stream
// closes.
const DoneSentinel = "[DONE]"

// ContentType is the media type for the NDJSON response.
const ContentType = "application/x-ndjson"

// LogEvent is a single progress log line.
type LogEvent struct {
	Log string `json:"log"`
}

// SandboxEvent announces a freshly provisioned sandbox. Emitted at most
// once per request, before any generation step runs.
type SandboxEvent struct {
	PreviewURL   string `json:"previewUrl"`
	SessionURL   string `json:"sessionUrl,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
	SandboxID    string `json:"sandboxId"`
}

// ExistingLogsEvent replays the log lines accumulated by earlier runs
// of a resumed session.
type ExistingLogsEvent struct {
	ExistingLogs []string `json:"existingLogs"`
}

// CompleteEvent is the terminal frame. Content carries a user-facing
// summary on success or an error description on failure.
type CompleteEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Writer emits NDJSON frames to an HTTP response. All methods are safe
// for concurrent use and never block the producer: a failed write marks
// the client as disconnected and turns further emits into no-ops.
type Writer struct {
	mu           sync.Mutex
	w            http.ResponseWriter
	flusher      http.Flusher
	disconnected bool
	terminal     bool
}

// NewWriter wraps an HTTP response for NDJSON streaming and writes the
// streaming headers.
func NewWriter(w http.ResponseWriter) *Writer {
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// Log emits a progress log line.
func (s *Writer) Log(text string) {
	s.emit(LogEvent{Log: text})
}

// Event emits a structured progress object.
func (s *Writer) Event(v any) {
	s.emit(v)
}

// Complete emits the terminal frame. Only the first call per stream has
// any effect.
func (s *Writer) Complete(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return
	}
	s.terminal = true
	s.writeLocked(CompleteEvent{Type: "complete", Content: content})
}

// Close finishes the stream: it guarantees a terminal frame has been
// sent, then writes the [DONE] sentinel. Safe to call on every exit
// path.
func (s *Writer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.terminal {
		s.terminal = true
		s.writeLocked(CompleteEvent{Type: "complete", Content: ""})
	}
	s.writeRawLocked([]byte(DoneSentinel + "\n"))
}

// Disconnected reports whether the client has gone away.
func (s *Writer) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

func (s *Writer) emit(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return
	}
	s.writeLocked(v)
}

func (s *Writer) writeLocked(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[stream] marshal event: %v", err)
		return
	}
	s.writeRawLocked(append(data, '\n'))
}

func (s *Writer) writeRawLocked(line []byte) {
	if s.disconnected {
		return
	}
	if _, err := s.w.Write(line); err != nil {
		s.disconnected = true
		return
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
