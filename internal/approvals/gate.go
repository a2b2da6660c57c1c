package approvals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/clawboard/internal/observability"
	"github.com/ent0n29/clawboard/internal/realtime"
	"github.com/ent0n29/clawboard/internal/store"
	"github.com/ent0n29/clawboard/internal/telemetry"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

var (
	ErrInvalidAction = errors.New("action must be approve or reject")
	// ErrAlreadyDecided is returned when a decision loses the race or repeats.
	ErrAlreadyDecided = store.ErrConflict
)

func ParseAction(raw string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(raw))); a {
	case ActionApprove, ActionReject:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, raw)
}

func (a Action) status() store.ApprovalStatus {
	if a == ActionApprove {
		return store.ApprovalStatusApproved
	}
	return store.ApprovalStatusRejected
}

const (
	placeholderAgent = "user"
	placeholderMode  = "approval"
)

type RequestInput struct {
	Title       string
	Body        string
	StepID      string
	RequestedBy string
}

// Gate files approval requests against a task's runs and records decisions
// exactly once.
type Gate struct {
	db        *store.DB
	publisher realtime.Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger
}

func NewGate(db *store.DB, publisher realtime.Publisher, metrics *observability.Metrics, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{db: db, publisher: publisher, metrics: metrics, logger: logger}
}

// Request creates a pending approval on the task's latest run. A task that
// never ran gets a placeholder run owned by the "user" agent.
func (g *Gate) Request(ctx context.Context, taskID string, in RequestInput) (a store.Approval, err error) {
	ctx, span := telemetry.StartSpan(ctx, "approvals.Request", telemetry.AttrTaskID.String(taskID))
	defer func() { telemetry.EndSpan(span, err) }()

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Approval requested"
	}
	requestedBy := strings.TrimSpace(in.RequestedBy)
	if requestedBy == "" {
		requestedBy = placeholderAgent
	}
	a, placeholder, err := g.db.CreateApproval(ctx, store.NewApproval{
		TaskID:      taskID,
		StepID:      strings.TrimSpace(in.StepID),
		Title:       title,
		Body:        in.Body,
		RequestedBy: requestedBy,
	}, store.Placeholder{AgentLabel: placeholderAgent, Mode: placeholderMode})
	if err != nil {
		g.metrics.ObserveApproval("request", "error")
		return store.Approval{}, err
	}
	span.SetAttributes(telemetry.AttrApproval.String(a.ID), telemetry.AttrRunID.String(a.RunID))
	g.metrics.ObserveApproval("request", "ok")
	g.logger.Info("approval requested", "approval_id", a.ID, "task_id", taskID, "run_id", a.RunID, "placeholder_run", placeholder)

	if placeholder {
		g.publish(realtime.EventRunsChanged, map[string]any{"task_id": taskID, "run_id": a.RunID})
	}
	g.publish(realtime.EventApprovalsChanged, map[string]any{"approval_id": a.ID, "task_id": taskID, "status": a.Status})
	return a, nil
}

// Decide moves a pending approval to approved or rejected. A second decision
// gets ErrAlreadyDecided and leaves the first one intact.
func (g *Gate) Decide(ctx context.Context, id string, action Action, decidedBy, reason string) (a store.Approval, err error) {
	ctx, span := telemetry.StartSpan(ctx, "approvals.Decide", telemetry.AttrApproval.String(id))
	defer func() { telemetry.EndSpan(span, err) }()

	if _, err := ParseAction(string(action)); err != nil {
		return store.Approval{}, err
	}
	a, err = g.db.DecideApproval(ctx, id, action.status(), strings.TrimSpace(decidedBy), strings.TrimSpace(reason))
	switch {
	case errors.Is(err, store.ErrConflict):
		g.metrics.ObserveApproval(string(action), "conflict")
		return store.Approval{}, err
	case err != nil:
		g.metrics.ObserveApproval(string(action), "error")
		return store.Approval{}, err
	}
	g.metrics.ObserveApproval(string(action), "ok")
	g.logger.Info("approval decided", "approval_id", id, "task_id", a.TaskID, "status", a.Status, "decided_by", a.DecidedBy)
	g.publish(realtime.EventApprovalsChanged, map[string]any{"approval_id": a.ID, "task_id": a.TaskID, "status": a.Status})
	return a, nil
}

func (g *Gate) Get(ctx context.Context, id string) (store.Approval, error) {
	return g.db.GetApproval(ctx, id)
}

// List returns approvals newest first, optionally filtered by status.
func (g *Gate) List(ctx context.Context, status string) ([]store.Approval, error) {
	st := store.ApprovalStatus(strings.ToLower(strings.TrimSpace(status)))
	if st != "" && !st.Valid() {
		return nil, fmt.Errorf("%w: approval status %q", store.ErrInvalid, status)
	}
	return g.db.ListApprovals(ctx, st)
}

func (g *Gate) publish(eventType string, payload any) {
	if g.publisher != nil {
		g.publisher.Publish(eventType, payload)
	}
}
