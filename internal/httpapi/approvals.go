package httpapi

import (
	"errors"
	"net/http"

	"github.com/ent0n29/clawboard/internal/approvals"
)

type approvalRequest struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	StepID      string `json:"stepId"`
	RequestedBy string `json:"requestedBy"`
}

type decisionRequest struct {
	DecidedBy string `json:"decidedBy"`
	Reason    string `json:"reason"`
}

func (s *Server) handleRequestApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	a, err := s.gate.Request(r.Context(), urlID(r), approvals.RequestInput{
		Title:       req.Title,
		Body:        req.Body,
		StepID:      req.StepID,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	list, err := s.gate.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	a, err := s.gate.Get(r.Context(), urlID(r))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleDecide(action approvals.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decisionRequest
		if !decodeOptionalJSON(w, r, &req) {
			return
		}
		a, err := s.gate.Decide(r.Context(), urlID(r), action, req.DecidedBy, req.Reason)
		if errors.Is(err, approvals.ErrAlreadyDecided) {
			respondError(w, http.StatusConflict, "already_decided", "approval already decided")
			return
		}
		if err != nil {
			s.respondStoreError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, a)
	}
}
