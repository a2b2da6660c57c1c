package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/clawboard/internal/observability"
	"github.com/ent0n29/clawboard/internal/openclaw"
	"github.com/ent0n29/clawboard/internal/realtime"
	"github.com/ent0n29/clawboard/internal/session"
	"github.com/ent0n29/clawboard/internal/store"
	"github.com/ent0n29/clawboard/internal/telemetry"
)

type Mode string

const (
	ModePlan    Mode = "plan"
	ModeExecute Mode = "execute"
	ModeReport  Mode = "report"
)

var (
	ErrInvalidMode = errors.New("mode must be one of plan, execute, report")
	ErrProvider    = errors.New("completion provider failed")
)

func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModePlan, ModeExecute, ModeReport:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
}

// Result is what a caller of RunTask gets back on success.
type Result struct {
	RunID      string         `json:"runId"`
	OutputText string         `json:"outputText"`
	Parsed     map[string]any `json:"parsed"`
}

// Engine runs plan, execute and report cycles for tasks. A run is one
// provider call wrapped in an agent_runs row with a single step.
type Engine struct {
	db           *store.DB
	sessions     *session.Manager
	completer    openclaw.Completer
	publisher    realtime.Publisher
	metrics      *observability.Metrics
	logger       *slog.Logger
	stuckMinutes int
}

type Config struct {
	StuckMinutes int
}

func NewEngine(cfg Config, db *store.DB, sessions *session.Manager, completer openclaw.Completer, publisher realtime.Publisher, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if cfg.StuckMinutes <= 0 {
		cfg.StuckMinutes = store.DefaultStuckMinutes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:           db,
		sessions:     sessions,
		completer:    completer,
		publisher:    publisher,
		metrics:      metrics,
		logger:       logger,
		stuckMinutes: cfg.StuckMinutes,
	}
}

// RunTask executes one run of mode against the task. Provider failures are
// persisted on the run before being returned wrapped in ErrProvider.
func (e *Engine) RunTask(ctx context.Context, taskID string, mode Mode, agentID string) (res Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "execution.RunTask",
		telemetry.AttrTaskID.String(taskID),
		telemetry.AttrRunMode.String(string(mode)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if _, err := ParseMode(string(mode)); err != nil {
		return Result{}, err
	}
	task, err := e.db.GetTask(ctx, taskID)
	if err != nil {
		return Result{}, err
	}
	sess, err := e.sessions.Ensure(ctx, taskID, agentID)
	if err != nil {
		return Result{}, err
	}
	agent, err := e.sessions.ResolveAgent(ctx, sess, agentID)
	if err != nil {
		return Result{}, err
	}
	checklist, err := e.db.ListChecklist(ctx, taskID)
	if err != nil {
		return Result{}, err
	}

	agentLabel, externalID := "auto", ""
	if agent != nil {
		agentLabel, externalID = agent.DisplayName, agent.ExternalID
		span.SetAttributes(telemetry.AttrAgentID.String(agent.ID))
	}
	prompt := BuildPrompt(mode, task, checklist)

	if err := e.sessions.MarkRunning(ctx, taskID); err != nil {
		return Result{}, err
	}
	var runID string
	defer func() {
		// The session must return to idle even when the request is cancelled.
		if ferr := e.sessions.Finish(context.WithoutCancel(ctx), taskID, runID); ferr != nil {
			e.logger.Error("session finish failed", "task_id", taskID, "run_id", runID, "error", ferr)
		}
		if runID != "" {
			e.publish(realtime.EventRunsChanged, map[string]any{"task_id": taskID, "run_id": runID})
		}
	}()

	input, _ := json.Marshal(map[string]any{"mode": mode, "prompt": prompt, "agentId": externalID})
	run, err := e.db.CreateRun(ctx, store.NewRun{
		Task:       task,
		AgentLabel: agentLabel,
		Mode:       string(mode),
		StepKind:   string(mode),
		StepInput:  input,
	})
	if err != nil {
		return Result{}, err
	}
	runID = run.ID
	span.SetAttributes(telemetry.AttrRunID.String(runID))
	e.logger.Info("run started", "task_id", taskID, "run_id", runID, "mode", mode, "agent", agentLabel)
	started := time.Now()

	resp, callErr := e.completer.Complete(ctx, openclaw.CompletionRequest{
		SessionKey: sess.SessionKey,
		AgentID:    externalID,
		Text:       prompt,
	})
	if callErr != nil {
		output, _ := json.Marshal(map[string]string{"error": callErr.Error()})
		if ferr := e.db.FinishRun(context.WithoutCancel(ctx), runID, store.RunStatusFailed, output); ferr != nil {
			e.logger.Error("run fail record failed", "run_id", runID, "error", ferr)
		}
		e.metrics.ObserveRun(string(mode), string(store.RunStatusFailed), time.Since(started))
		e.metrics.ObserveProviderError("run")
		e.logger.Error("run failed", "task_id", taskID, "run_id", runID, "mode", mode, "error", callErr)
		return Result{RunID: runID}, fmt.Errorf("%w: %w", ErrProvider, callErr)
	}

	parsed, _ := openclaw.ExtractObject(resp.Text)
	output, err := json.Marshal(map[string]any{"text": resp.Text, "parsed": parsed})
	if err != nil {
		return Result{RunID: runID}, fmt.Errorf("encode run output: %w", err)
	}
	if err := e.db.FinishRun(ctx, runID, store.RunStatusSucceeded, output); err != nil {
		return Result{RunID: runID}, err
	}
	e.metrics.ObserveRun(string(mode), string(store.RunStatusSucceeded), time.Since(started))
	e.logger.Info("run succeeded", "task_id", taskID, "run_id", runID, "mode", mode,
		"duration_ms", time.Since(started).Milliseconds(), "structured", parsed != nil)

	e.applySideEffects(ctx, task, mode, parsed)
	return Result{RunID: runID, OutputText: resp.Text, Parsed: parsed}, nil
}

// Chat sends a free-form message on the task's session. No run is recorded.
func (e *Engine) Chat(ctx context.Context, taskID, agentID, message string) (reply string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "execution.Chat", telemetry.AttrTaskID.String(taskID))
	defer func() { telemetry.EndSpan(span, err) }()

	message = strings.TrimSpace(message)
	if message == "" {
		return "", fmt.Errorf("%w: message is required", store.ErrInvalid)
	}
	if _, err := e.db.GetTask(ctx, taskID); err != nil {
		return "", err
	}
	sess, err := e.sessions.Ensure(ctx, taskID, agentID)
	if err != nil {
		return "", err
	}
	agent, err := e.sessions.ResolveAgent(ctx, sess, agentID)
	if err != nil {
		return "", err
	}
	externalID := ""
	if agent != nil {
		externalID = agent.ExternalID
	}
	resp, err := e.completer.Complete(ctx, openclaw.CompletionRequest{
		SessionKey: sess.SessionKey,
		AgentID:    externalID,
		Text:       message,
	})
	if err != nil {
		e.metrics.ObserveProviderError("chat")
		return "", fmt.Errorf("%w: %w", ErrProvider, err)
	}
	return resp.Text, nil
}

// applySideEffects updates the task from a successful run's parsed reply.
// Failures are logged; the run itself already succeeded.
func (e *Engine) applySideEffects(ctx context.Context, task store.Task, mode Mode, parsed map[string]any) {
	switch mode {
	case ModePlan:
		if desc, _ := parsed["description"].(string); strings.TrimSpace(desc) != "" {
			desc = strings.TrimSpace(desc)
			if _, _, err := e.db.UpdateTask(ctx, task.ID, store.TaskPatch{Description: &desc}); err != nil {
				e.logger.Error("plan description update failed", "task_id", task.ID, "error", err)
			}
		}
		if raw, ok := parsed["checklist"].([]any); ok {
			items, err := e.db.ReplaceChecklist(ctx, task.ID, checklistFromPlan(raw))
			if err != nil {
				e.logger.Error("plan checklist replace failed", "task_id", task.ID, "error", err)
			} else {
				e.logger.Info("checklist replaced", "task_id", task.ID, "items", len(items))
			}
		}
		e.publish(realtime.EventChecklistChanged, map[string]any{"task_id": task.ID})
		e.publish(realtime.EventTasksChanged, map[string]any{"task_id": task.ID})
	case ModeExecute:
		if status, _ := parsed["status"].(string); status == string(store.TaskStatusReview) {
			next := store.TaskStatusReview
			if _, _, err := e.db.UpdateTask(ctx, task.ID, store.TaskPatch{Status: &next}); err != nil {
				e.logger.Error("move to review failed", "task_id", task.ID, "error", err)
				return
			}
			e.publish(realtime.EventTasksChanged, map[string]any{"task_id": task.ID})
		}
	}
}

// checklistFromPlan accepts plain strings or objects with text or title and
// an optional state. Any other entry becomes a blank item so later entries
// keep their array index as position.
func checklistFromPlan(raw []any) []store.NewChecklistItem {
	out := make([]store.NewChecklistItem, 0, len(raw))
	for _, entry := range raw {
		switch v := entry.(type) {
		case string:
			out = append(out, store.NewChecklistItem{Text: v, State: store.ChecklistStateTodo})
		case map[string]any:
			text, _ := v["text"].(string)
			if text == "" {
				text, _ = v["title"].(string)
			}
			state, _ := v["state"].(string)
			out = append(out, store.NewChecklistItem{Text: text, State: store.ChecklistState(state)})
		default:
			out = append(out, store.NewChecklistItem{})
		}
	}
	return out
}

// ListRuns is the read-only stuck/failed run finder behind the run listings.
func (e *Engine) ListRuns(ctx context.Context, f store.RunFilter) ([]store.Run, error) {
	if f.StuckMinutes <= 0 {
		f.StuckMinutes = e.stuckMinutes
	}
	return e.db.ListRuns(ctx, f)
}

// SweepOrphans fails every run left running by a previous process. Approval
// placeholders stay running until decided.
func (e *Engine) SweepOrphans(ctx context.Context) ([]string, error) {
	output, _ := json.Marshal(map[string]string{"error": "abandoned: process restarted"})
	ids, err := e.db.FailRunningRuns(ctx, time.Time{}, output)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		e.logger.Warn("orphaned runs failed", "count", len(ids))
		e.publish(realtime.EventRunsChanged, map[string]any{"swept": ids})
	}
	return ids, nil
}

// RefreshStuckGauge recounts stuck runs for the runs_stuck gauge.
func (e *Engine) RefreshStuckGauge(ctx context.Context) (int, error) {
	n, err := e.db.CountStuckRuns(ctx, e.stuckMinutes)
	if err != nil {
		return 0, err
	}
	e.metrics.SetStuckRuns(n)
	return n, nil
}

func (e *Engine) publish(eventType string, payload any) {
	if e.publisher != nil {
		e.publisher.Publish(eventType, payload)
	}
}
