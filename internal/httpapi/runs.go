package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ent0n29/clawboard/internal/execution"
	"github.com/ent0n29/clawboard/internal/store"
)

type runRequest struct {
	Mode    string `json:"mode"`
	AgentID string `json:"agentId"`
}

// handleRunTask runs synchronously and answers with the provider output. The
// run is detached from the request so a client hanging up cannot leave it
// half recorded.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	mode, err := execution.ParseMode(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_mode", err.Error())
		return
	}

	res, err := s.engine.RunTask(context.WithoutCancel(r.Context()), urlID(r), mode, strings.TrimSpace(req.AgentID))
	if errors.Is(err, execution.ErrProvider) {
		respondJSON(w, http.StatusInternalServerError, errorResponse{
			Error: err.Error(),
			Code:  "run_failed",
			RunID: res.RunID,
		})
		return
	}
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListTaskRuns(w http.ResponseWriter, r *http.Request) {
	id := urlID(r)
	stuckMinutes, _, err := stuckMinutesQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if _, err := s.db.GetTask(r.Context(), id); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	runs, err := s.engine.ListRuns(r.Context(), store.RunFilter{TaskID: id, StuckMinutes: stuckMinutes})
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// handleListRuns is the cross-task listing. Passing stuckMinutes narrows it to
// runs still running past that age.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	status := store.RunStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	if status != "" && !status.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_status", "unknown run status")
		return
	}
	stuckMinutes, stuckOnly, err := stuckMinutesQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	limit, _, err := intQuery(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	runs, err := s.engine.ListRuns(r.Context(), store.RunFilter{
		Status:       status,
		StuckMinutes: stuckMinutes,
		StuckOnly:    stuckOnly,
		Limit:        limit,
	})
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.RunStats())
}
