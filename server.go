package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server bundles what the HTTP handlers need.
type Server struct {
	hub   *Hub
	lobby *Lobby
	store *Store
	cfg   AppConfig
}

func disableCaching(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Cache-Control", "no-cache")

		next.ServeHTTP(w, r)
	})
}

// routes builds the router. The websocket endpoint sits outside the timeout
// and compression middleware since its connection outlives the request.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.hub.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(middleware.Compress(5, "application/json"))
		r.Use(disableCaching)

		r.Get("/healthz", s.handleHealth)
		r.Get("/api/sessions", s.handleListSessions)
		r.Get("/api/sessions/{id}", s.handleGetSession)
		r.Get("/api/sessions/{id}/replay", s.handleReplay)
	})

	if s.cfg.LogRequests && appLogger != nil {
		return &LoggingHandler{Handler: r, Logger: appLogger}
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logError("writeJSON", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":      "ok",
		"connections": len(s.hub.connected()),
		"archive":     s.store != nil,
	}
	if ls := s.lobby.current(); ls != nil {
		status["session"] = ls.session.ID()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "archive disabled")
		return
	}
	rows, err := s.store.ListSessions()
	if err != nil {
		logError("handleListSessions", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if rows == nil {
		rows = []SessionRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// loadArchive writes the error response itself and returns nil on failure.
func (s *Server) loadArchive(w http.ResponseWriter, r *http.Request) *ArchivedSession {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "archive disabled")
		return nil
	}
	id := chi.URLParam(r, "id")
	arch, err := s.store.LoadSession(id)
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, "session not found")
		return nil
	}
	if err != nil {
		logError("loadArchive "+id, err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return nil
	}
	return arch
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	arch := s.loadArchive(w, r)
	if arch == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": arch.Session,
		"players": arch.Seats,
		"roles":   arch.Roles,
		"events":  arch.Events,
		"actions": arch.Actions,
	})
}

// handleReplay re-runs an archived session and reports whether it reproduces
// the archived timeline.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	arch := s.loadArchive(w, r)
	if arch == nil {
		return
	}
	rep, err := VerifyArchive(r.Context(), arch)
	if err != nil {
		logError("handleReplay", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
