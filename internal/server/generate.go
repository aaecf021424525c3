package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/covalabs/coval/internal/engine"
	"github.com/covalabs/coval/internal/stream"
)

type generateRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"sessionId,omitempty"`
}

// handleGenerate runs one generation and streams progress as NDJSON.
// The response stream opens before the work is known to succeed; all
// failures arrive as in-band events followed by the [DONE] sentinel.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !s.limiterFor(r).Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	// One writer per session: a second request for a session with a run
	// in flight is rejected instead of queued.
	if req.SessionID != "" {
		if !s.tryAcquireSession(req.SessionID) {
			writeError(w, http.StatusConflict, "generation already in progress for this session")
			return
		}
		defer s.releaseSession(req.SessionID)
	}

	// The run outlives a disconnecting client: it checkpoints state to
	// completion either way, so strip the request's cancellation.
	ctx := context.WithoutCancel(r.Context())

	out := stream.NewWriter(w)
	s.engine.Run(ctx, engine.Request{
		Prompt:    req.Prompt,
		SessionID: req.SessionID,
	}, out)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
