package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/covalabs/coval/internal/state"
	"github.com/covalabs/coval/pkg/project"
	"github.com/covalabs/coval/pkg/sandbox"
)

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupProject(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleDeleteProject removes the project record and its sandbox. A
// sandbox that is already gone counts as deleted, not as a failure.
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupProject(w, r)
	if !ok {
		return
	}

	if p.SandboxID != "" {
		if err := s.client.Delete(r.Context(), p.SandboxID); err != nil && !sandbox.IsNotFound(err) {
			writeError(w, http.StatusBadGateway, "delete sandbox: "+err.Error())
			return
		}
		s.cache.Invalidate(p.SandboxID)
	}

	if err := s.projects.Delete(r.Context(), p.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("[server] deleted project %s (sandbox %s)", p.ID, p.SandboxID)
	w.WriteHeader(http.StatusNoContent)
}

// handleProjectState returns the persisted session document. A missing
// or unreachable sandbox yields the default idle document, matching the
// state store's first-run behavior.
func (s *Server) handleProjectState(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupProject(w, r)
	if !ok {
		return
	}

	h, err := s.cache.Resolve(r.Context(), p.SandboxID)
	if err != nil {
		if sandbox.IsNotFound(err) {
			writeJSON(w, http.StatusOK, state.DefaultState())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, state.NewStore(h).Load(r.Context()))
}

func (s *Server) handleProjectFiles(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupProject(w, r)
	if !ok {
		return
	}

	h, err := s.cache.Resolve(r.Context(), p.SandboxID)
	if err != nil {
		if sandbox.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "sandbox not found")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/app"
	}
	entries, err := h.ListDir(r.Context(), path)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": entries})
}

func (s *Server) lookupProject(w http.ResponseWriter, r *http.Request) (*project.Project, bool) {
	id := r.PathValue("id")
	p, err := s.projects.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return p, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
