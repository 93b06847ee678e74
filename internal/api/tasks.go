package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"tasktree/pkg/task"
)

// taskBody is the JSON shape for task creation.
type taskBody struct {
	Title               string                   `json:"title"`
	Description         string                   `json:"description"`
	Priority            int                      `json:"priority"`
	Status              task.Status              `json:"status"`
	Progress            int                      `json:"progress"`
	ProgressWeight      int                      `json:"progress_weight"`
	CompletionBehavior  task.CompletionBehavior  `json:"completion_behavior"`
	ProgressCalculation task.ProgressCalculation `json:"progress_calculation"`
	ParentTaskID        string                   `json:"parent_task_id"`
	SiblingOrder        *int                     `json:"sibling_order"`
}

func (b *taskBody) createRequest() task.CreateRequest {
	return task.CreateRequest{
		Title:               b.Title,
		Description:         b.Description,
		Priority:            b.Priority,
		Status:              b.Status,
		Progress:            b.Progress,
		ProgressWeight:      b.ProgressWeight,
		CompletionBehavior:  b.CompletionBehavior,
		ProgressCalculation: b.ProgressCalculation,
		SiblingOrder:        b.SiblingOrder,
	}
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	f := task.ListFilter{IncludeSubtasks: true, SortBy: r.URL.Query().Get("sort_by")}

	if v := r.URL.Query().Get("parent_task_id"); v != "" {
		if _, err := uuid.Parse(v); err != nil {
			writeTaskError(w, &task.ValidationError{Field: "parent_task_id", Reason: "must be a valid UUID"})
			return
		}
		f.ParentID = &v
	}
	var err error
	if f.RootsOnly, err = queryBool(r, "root_tasks_only", false); err != nil {
		writeTaskError(w, err)
		return
	}
	if f.IncludeSubtasks, err = queryBool(r, "include_subtasks", true); err != nil {
		writeTaskError(w, err)
		return
	}
	if v := r.URL.Query().Get("hierarchy_level"); v != "" {
		level, err := queryInt(r, "hierarchy_level", 0)
		if err != nil {
			writeTaskError(w, err)
			return
		}
		f.Level = &level
	}
	f.Status = task.Status(r.URL.Query().Get("status"))
	if f.Limit, err = queryInt(r, "limit", 0); err != nil {
		writeTaskError(w, err)
		return
	}

	tasks, err := s.tasks.List(r.Context(), f)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, 200, tasks)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, 200, t)
}

// handleTaskCreate creates a root task, or a subtask when parent_task_id
// is set in the body.
func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var body taskBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}

	var t *task.Task
	var err error
	if body.ParentTaskID != "" {
		t, err = s.tasks.CreateSubtask(r.Context(), body.ParentTaskID, body.createRequest())
	} else {
		t, err = s.tasks.CreateRoot(r.Context(), body.createRequest())
	}
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, 201, t)
}

// handleTaskUpdate applies a partial update. Field presence matters:
// "parent_task_id": null converts the task to a root, while an absent
// key leaves the parent untouched.
func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}

	req, err := updateRequest(fields)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	t, err := s.tasks.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, 200, t)
}

func updateRequest(fields map[string]json.RawMessage) (task.UpdateRequest, error) {
	var req task.UpdateRequest
	for key, raw := range fields {
		var err error
		switch key {
		case "title":
			err = json.Unmarshal(raw, &req.Title)
		case "description":
			err = json.Unmarshal(raw, &req.Description)
		case "priority":
			err = json.Unmarshal(raw, &req.Priority)
		case "status":
			err = json.Unmarshal(raw, &req.Status)
		case "progress":
			err = json.Unmarshal(raw, &req.Progress)
		case "progress_weight":
			err = json.Unmarshal(raw, &req.ProgressWeight)
		case "completion_behavior":
			err = json.Unmarshal(raw, &req.CompletionBehavior)
		case "progress_calculation":
			err = json.Unmarshal(raw, &req.ProgressCalculation)
		case "sibling_order":
			err = json.Unmarshal(raw, &req.SiblingOrder)
		case "parent_task_id":
			req.SetParent = true
			if string(raw) != "null" {
				err = json.Unmarshal(raw, &req.NewParentID)
			}
		}
		if err != nil {
			return req, &task.ValidationError{Field: key, Reason: "malformed value"}
		}
	}
	return req, nil
}

// handleTaskDelete deletes a task. The descendant policy is an explicit,
// required query parameter; there is no default.
func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	policy := task.DescendantPolicy(r.URL.Query().Get("policy"))
	if err := s.tasks.Delete(r.Context(), r.PathValue("id"), policy); err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}
