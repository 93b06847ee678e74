package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"tasktree/pkg/task"
)

func (s *Server) handleSubtaskList(w http.ResponseWriter, r *http.Request) {
	maxDepth, err := queryInt(r, "max_depth", 0)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	includeCompleted, err := queryBool(r, "include_completed", true)
	if err != nil {
		writeTaskError(w, err)
		return
	}

	tasks, err := s.tasks.Subtasks(r.Context(), r.PathValue("id"), maxDepth, includeCompleted)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, 200, tasks)
}

func (s *Server) handleSubtaskCreate(w http.ResponseWriter, r *http.Request) {
	var body taskBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	t, err := s.tasks.CreateSubtask(r.Context(), r.PathValue("id"), body.createRequest())
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, 201, t)
}

func (s *Server) handleSubtaskReorder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Assignments []task.OrderAssignment `json:"assignments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	updated, err := s.tasks.Reorder(r.Context(), r.PathValue("id"), body.Assignments)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, 200, map[string]int{"updated_count": updated})
}

// handleChangeStream serves committed hierarchy changes as SSE.
func (s *Server) handleChangeStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, 404, "change stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, 500, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-ch:
			fmt.Fprintf(w, "data: ")
			json.NewEncoder(w).Encode(c)
			fmt.Fprintf(w, "\n")
			flusher.Flush()
		}
	}
}
