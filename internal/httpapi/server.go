package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ent0n29/clawboard/internal/approvals"
	"github.com/ent0n29/clawboard/internal/config"
	"github.com/ent0n29/clawboard/internal/docs"
	"github.com/ent0n29/clawboard/internal/execution"
	"github.com/ent0n29/clawboard/internal/observability"
	"github.com/ent0n29/clawboard/internal/realtime"
	"github.com/ent0n29/clawboard/internal/session"
	"github.com/ent0n29/clawboard/internal/store"
	"github.com/ent0n29/clawboard/internal/taskruntime"
	"github.com/ent0n29/clawboard/internal/triggers"
)

// Deps are the services the HTTP boundary routes into.
type Deps struct {
	DB       *store.DB
	Engine   *execution.Engine
	Sessions *session.Manager
	Gate     *approvals.Gate
	Trigger  *triggers.Trigger
	Hub      *realtime.Hub
	Docs     docs.Store
	DocsMode string
	Jobs     *taskruntime.Service
	Metrics  *observability.Metrics
	Limiter  *RateLimiter
	Logger   *slog.Logger
}

type Server struct {
	cfg      config.Config
	db       *store.DB
	engine   *execution.Engine
	sessions *session.Manager
	gate     *approvals.Gate
	trigger  *triggers.Trigger
	hub      *realtime.Hub
	docs     docs.Store
	docsMode string
	jobs     *taskruntime.Service
	metrics  *observability.Metrics
	limiter  *RateLimiter
	logger   *slog.Logger
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		db:       deps.DB,
		engine:   deps.Engine,
		sessions: deps.Sessions,
		gate:     deps.Gate,
		trigger:  deps.Trigger,
		hub:      deps.Hub,
		docs:     deps.Docs,
		docsMode: deps.DocsMode,
		jobs:     deps.Jobs,
		metrics:  deps.Metrics,
		limiter:  deps.Limiter,
		logger:   logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if s.limiter != nil {
		r.Use(s.limiter.Wrap)
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/events", s.hub.ServeSSE)
	r.Get("/events/ws", s.hub.ServeWS)

	r.Get("/boards", s.handleListBoards)
	r.Post("/boards", s.handleCreateBoard)
	r.Get("/agents", s.handleListAgents)
	r.Post("/agents", s.handleUpsertAgent)

	r.Get("/tasks", s.handleListTasks)
	r.Post("/tasks", s.handleCreateTask)
	r.Route("/tasks/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetTask)
		r.Patch("/", s.handlePatchTask)
		r.Delete("/", s.handleDeleteTask)
		r.Get("/checklist", s.handleListChecklist)
		r.Put("/checklist", s.handleReplaceChecklist)
		r.Post("/session", s.handleEnsureSession)
		r.Get("/session", s.handleGetSession)
		r.Post("/chat", s.handleChat)
		r.Post("/run", s.handleRunTask)
		r.Get("/runs", s.handleListTaskRuns)
		r.Post("/request-approval", s.handleRequestApproval)
	})

	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/stats", s.handleRunStats)

	r.Get("/approvals", s.handleListApprovals)
	r.Get("/approvals/{id}", s.handleGetApproval)
	r.Post("/approvals/{id}/approve", s.handleDecide(approvals.ActionApprove))
	r.Post("/approvals/{id}/reject", s.handleDecide(approvals.ActionReject))

	r.Get("/docs", s.handleListDocs)
	r.Get("/docs/{key}", s.handleGetDoc)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"docs_store_mode":  s.docsStoreMode(),
		"realtime_clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"docs_store_mode": s.docsStoreMode(),
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(started).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	RunID string `json:"runId,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// decodeOptionalJSON accepts an empty body as all defaults.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := decodeJSON(r, out); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondStoreError maps the store sentinels onto status codes.
func (s *Server) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, store.ErrConflict):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, store.ErrInvalid):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func urlID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "id"))
}

// intQuery parses a non-negative integer query parameter. ok reports whether
// the parameter was present.
func intQuery(r *http.Request, name string) (n int, ok bool, err error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, false, nil
	}
	n, err = strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, true, errors.New(name + " must be a non-negative integer")
	}
	return n, true, nil
}

// stuckMinutesQuery reads the stuckMinutes window. Zero is rejected rather
// than treated as "use the default".
func stuckMinutesQuery(r *http.Request) (n int, ok bool, err error) {
	n, ok, err = intQuery(r, "stuckMinutes")
	if err == nil && ok && n == 0 {
		err = errors.New("stuckMinutes must be a positive integer")
	}
	return n, ok, err
}

func (s *Server) publish(eventType string, payload any) {
	if s.hub != nil {
		s.hub.Publish(eventType, payload)
	}
}

func (s *Server) docsStoreMode() string {
	if s.docs == nil || strings.TrimSpace(s.docsMode) == "" {
		return "disabled"
	}
	return s.docsMode
}
