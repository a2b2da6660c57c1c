package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/clawboard/internal/store"
	"github.com/ent0n29/clawboard/internal/taskruntime"
)

type createBoardRequest struct {
	WorkspaceID string `json:"workspaceId"`
	Name        string `json:"name"`
}

type agentRequest struct {
	ID          string `json:"id"`
	ExternalID  string `json:"externalId"`
	DisplayName string `json:"displayName"`
	Enabled     *bool  `json:"enabled"`
	Position    int    `json:"position"`
}

func (s *Server) handleListBoards(w http.ResponseWriter, r *http.Request) {
	boards, err := s.db.ListBoards(r.Context())
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, boards)
}

func (s *Server) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	var req createBoardRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	b, err := s.db.CreateBoard(r.Context(), req.WorkspaceID, req.Name)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.db.ListAgents(r.Context())
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, agents)
}

func (s *Server) handleUpsertAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	a, err := s.db.UpsertAgent(r.Context(), store.Agent{
		ID:          strings.TrimSpace(req.ID),
		ExternalID:  req.ExternalID,
		DisplayName: req.DisplayName,
		Enabled:     enabled,
		Position:    req.Position,
	})
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleListDocs(w http.ResponseWriter, r *http.Request) {
	if s.docs == nil {
		respondJSON(w, http.StatusOK, []store.Doc{})
		return
	}
	list, err := s.docs.List(r.Context())
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetDoc(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if s.docs == nil {
		respondError(w, http.StatusNotFound, "not_found", "docs store disabled")
		return
	}
	doc, err := s.docs.Get(r.Context(), key)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, _, err := intQuery(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if limit == 0 {
		limit = 50
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": s.jobs.Jobs(limit)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(urlID(r))
	if errors.Is(err, taskruntime.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "job_not_found", err.Error())
		return
	}
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}
