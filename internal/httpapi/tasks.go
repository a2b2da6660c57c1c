package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ent0n29/clawboard/internal/execution"
	"github.com/ent0n29/clawboard/internal/realtime"
	"github.com/ent0n29/clawboard/internal/store"
)

type createTaskRequest struct {
	BoardID     string `json:"boardId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Position    *int   `json:"position"`
}

type patchTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Position    *int    `json:"position"`
}

type checklistRequest struct {
	Items []struct {
		Text  string `json:"text"`
		State string `json:"state"`
	} `json:"items"`
}

type sessionRequest struct {
	AgentID string `json:"agentId"`
}

type chatRequest struct {
	Message string `json:"message"`
	AgentID string `json:"agentId"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := store.TaskStatus(strings.ToLower(strings.TrimSpace(q.Get("status"))))
	if status != "" && !status.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_status", "unknown task status")
		return
	}
	tasks, err := s.db.ListTasks(r.Context(), strings.TrimSpace(q.Get("boardId")), status)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	task, err := s.db.CreateTask(r.Context(), store.NewTask{
		BoardID:     req.BoardID,
		Title:       req.Title,
		Description: req.Description,
		Status:      store.TaskStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Position:    req.Position,
	})
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.publish(realtime.EventTasksChanged, map[string]any{"task_id": task.ID})
	respondJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.db.GetTask(r.Context(), urlID(r))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

// handlePatchTask applies the update and then hands real status transitions
// to the trigger. Whatever the trigger schedules runs in the background.
func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	var req patchTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	patch := store.TaskPatch{
		Title:       req.Title,
		Description: req.Description,
		Position:    req.Position,
	}
	if req.Status != nil {
		status := store.TaskStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		patch.Status = &status
	}

	prev, next, err := s.db.UpdateTask(r.Context(), urlID(r), patch)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.publish(realtime.EventTasksChanged, map[string]any{"task_id": next.ID})
	if prev.Status != next.Status && s.trigger != nil {
		if jobs := s.trigger.OnStatusChange(prev, next); len(jobs) > 0 {
			s.logger.Info("status change scheduled work", "task_id", next.ID, "from", prev.Status, "to", next.Status, "jobs", jobs)
		}
	}
	respondJSON(w, http.StatusOK, next)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := urlID(r)
	if err := s.db.DeleteTask(r.Context(), id); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.publish(realtime.EventTasksChanged, map[string]any{"task_id": id, "deleted": true})
	s.publish(realtime.EventRunsChanged, map[string]any{"task_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListChecklist(w http.ResponseWriter, r *http.Request) {
	id := urlID(r)
	if _, err := s.db.GetTask(r.Context(), id); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	items, err := s.db.ListChecklist(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleReplaceChecklist(w http.ResponseWriter, r *http.Request) {
	var req checklistRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	items := make([]store.NewChecklistItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, store.NewChecklistItem{Text: it.Text, State: store.ChecklistState(it.State)})
	}
	id := urlID(r)
	out, err := s.db.ReplaceChecklist(r.Context(), id, items)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	s.publish(realtime.EventChecklistChanged, map[string]any{"task_id": id})
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleEnsureSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	sess, err := s.sessions.Ensure(r.Context(), urlID(r), strings.TrimSpace(req.AgentID))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), urlID(r))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	reply, err := s.engine.Chat(r.Context(), urlID(r), strings.TrimSpace(req.AgentID), req.Message)
	if errors.Is(err, execution.ErrProvider) {
		s.logger.Error("chat failed", "task_id", urlID(r), "error", err)
		respondError(w, http.StatusInternalServerError, "chat_failed", err.Error())
		return
	}
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"reply": reply})
}
