package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"tasktree/pkg/task"
)

// Server is the HTTP API server.
type Server struct {
	tasks *task.Service
	bus   *task.Bus
	mux   *http.ServeMux
}

// New creates a new Server. bus may be nil to disable the change stream.
func New(tasks *task.Service, bus *task.Bus) *Server {
	s := &Server{
		tasks: tasks,
		bus:   bus,
		mux:   http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	// Tasks
	s.mux.HandleFunc("GET /api/tasks", s.handleTaskList)
	s.mux.HandleFunc("POST /api/tasks", s.handleTaskCreate)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleTaskGet)
	s.mux.HandleFunc("PUT /api/tasks/{id}", s.handleTaskUpdate)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleTaskDelete)

	// Subtasks
	s.mux.HandleFunc("GET /api/tasks/{id}/subtasks", s.handleSubtaskList)
	s.mux.HandleFunc("POST /api/tasks/{id}/subtasks", s.handleSubtaskCreate)
	s.mux.HandleFunc("PUT /api/tasks/{id}/subtasks/reorder", s.handleSubtaskReorder)

	// Change feed
	s.mux.HandleFunc("GET /api/changes/stream", s.handleChangeStream)

	// System
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeTaskError maps engine errors onto HTTP statuses.
func writeTaskError(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}

func errorStatus(err error) int {
	switch {
	case task.IsValidation(err),
		errors.Is(err, task.ErrDepthExceeded),
		errors.Is(err, task.ErrCycleDetected):
		return 400
	case errors.Is(err, task.ErrNotFound):
		return 404
	case errors.Is(err, task.ErrConflict):
		return 409
	case errors.Is(err, task.ErrStorageUnavailable):
		return 503
	default:
		return 500
	}
}

func queryInt(r *http.Request, key string, defaultVal int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &task.ValidationError{Field: key, Reason: "must be an integer"}
	}
	return n, nil
}

func queryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &task.ValidationError{Field: key, Reason: "must be a boolean"}
	}
	return b, nil
}
