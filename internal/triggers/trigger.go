package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/clawboard/internal/approvals"
	"github.com/ent0n29/clawboard/internal/docs"
	"github.com/ent0n29/clawboard/internal/execution"
	"github.com/ent0n29/clawboard/internal/openclaw"
	"github.com/ent0n29/clawboard/internal/policy"
	"github.com/ent0n29/clawboard/internal/realtime"
	"github.com/ent0n29/clawboard/internal/store"
	"github.com/ent0n29/clawboard/internal/taskruntime"
	"github.com/ent0n29/clawboard/internal/telemetry"
)

const (
	JobAutoRun         = "auto-run"
	JobAutoRunApproval = "auto-run-approval"
	JobSummary         = "completion-summary"

	maxSummaryChars = 600
)

// Runner is the part of the run engine the trigger needs.
type Runner interface {
	RunTask(ctx context.Context, taskID string, mode execution.Mode, agentID string) (execution.Result, error)
}

// Submitter queues fire-and-forget work.
type Submitter interface {
	Submit(name string, fn taskruntime.Func) (string, error)
}

type Config struct {
	RequireApprovalForRisky bool
}

// Trigger reacts to task status transitions with background work. Nothing it
// does can fail the status change that caused it.
type Trigger struct {
	cfg       Config
	runner    Runner
	gate      *approvals.Gate
	jobs      Submitter
	completer openclaw.Completer
	docs      docs.Store
	publisher realtime.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func New(cfg Config, runner Runner, gate *approvals.Gate, jobs Submitter, completer openclaw.Completer, docStore docs.Store, publisher realtime.Publisher, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{
		cfg:       cfg,
		runner:    runner,
		gate:      gate,
		jobs:      jobs,
		completer: completer,
		docs:      docStore,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// OnStatusChange schedules work for a task whose status went from prev to
// next and returns the queued job ids. Only transitions into doing or done
// schedule anything.
func (t *Trigger) OnStatusChange(prev, next store.Task) []string {
	if prev.Status == next.Status {
		return nil
	}
	var ids []string
	switch next.Status {
	case store.TaskStatusDoing:
		if t.cfg.RequireApprovalForRisky {
			if d := policy.ClassifyTask(next.Title, next.Description); d.RequiresApproval {
				ids = t.submit(JobAutoRunApproval, next, func(ctx context.Context) error {
					return t.requestApproval(ctx, next, d)
				})
				break
			}
		}
		ids = t.submit(JobAutoRun, next, func(ctx context.Context) error {
			_, err := t.runner.RunTask(ctx, next.ID, execution.ModeExecute, "")
			return err
		})
	case store.TaskStatusDone:
		ids = t.submit(JobSummary, next, func(ctx context.Context) error {
			return t.recordCompletion(ctx, next)
		})
	}
	return ids
}

func (t *Trigger) submit(name string, task store.Task, fn taskruntime.Func) []string {
	id, err := t.jobs.Submit(name, func(ctx context.Context) (err error) {
		ctx, span := telemetry.StartSpan(ctx, "triggers."+name,
			telemetry.AttrJobName.String(name),
			telemetry.AttrTaskID.String(task.ID),
		)
		defer func() { telemetry.EndSpan(span, err) }()
		return fn(ctx)
	})
	if err != nil {
		t.logger.Error("trigger job rejected", "job", name, "task_id", task.ID, "error", err)
		return nil
	}
	t.logger.Debug("trigger job queued", "job", name, "job_id", id, "task_id", task.ID)
	return []string{id}
}

func (t *Trigger) requestApproval(ctx context.Context, task store.Task, d policy.Decision) error {
	a, err := t.gate.Request(ctx, task.ID, approvals.RequestInput{
		Title:       "Approve automatic run",
		Body:        fmt.Sprintf("Automatic execution paused (%s risk): %s.", d.Risk, d.Reason),
		RequestedBy: "policy",
	})
	if err != nil {
		return err
	}
	t.logger.Info("auto-run held for approval", "task_id", task.ID, "approval_id", a.ID, "risk", d.Risk)
	return nil
}

// recordCompletion appends a completion summary to the board narrative, the
// changelog and the memory log.
func (t *Trigger) recordCompletion(ctx context.Context, task store.Task) error {
	summary := t.Summarize(ctx, task)
	date := t.now().UTC().Format("2006-01-02")
	entries := []struct{ key, entry string }{
		{docs.NarrativeKey(task.BoardID), fmt.Sprintf("\n### %s: %s\n%s\n", date, task.Title, summary)},
		{docs.KeyChangelog, fmt.Sprintf("- %s %s (task %s)\n", date, summary, task.ID)},
		{docs.KeyMemory, fmt.Sprintf("- [%s] done: %s\n", date, summary)},
	}
	for _, e := range entries {
		if err := t.docs.Append(ctx, e.key, e.entry); err != nil {
			return fmt.Errorf("append %s: %w", e.key, err)
		}
	}
	if t.publisher != nil {
		t.publisher.Publish(realtime.EventDocsChanged, map[string]any{
			"task_id": task.ID,
			"keys":    []string{entries[0].key, entries[1].key, entries[2].key},
		})
	}
	return nil
}

// Summarize asks the provider for a one-paragraph completion note. Any
// provider problem yields the deterministic fallback instead of an error.
func (t *Trigger) Summarize(ctx context.Context, task store.Task) string {
	if t.completer != nil {
		resp, err := t.completer.Complete(ctx, openclaw.CompletionRequest{
			SessionKey: "clawboard:summary:" + task.ID,
			Text:       summaryPrompt(task),
		})
		if err == nil {
			if text := oneParagraph(resp.Text); text != "" {
				return text
			}
		} else {
			t.logger.Warn("summary provider failed, using fallback", "task_id", task.ID, "error", err)
		}
	}
	return FallbackSummary(task)
}

func FallbackSummary(task store.Task) string {
	s := fmt.Sprintf("Completed task %q.", strings.TrimSpace(task.Title))
	if line := firstLine(task.Description); line != "" {
		s += " " + line
	}
	return s
}

func summaryPrompt(task store.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The task %q was just marked done.\n", task.Title)
	if desc := strings.TrimSpace(task.Description); desc != "" {
		fmt.Fprintf(&b, "Description:\n%s\n", desc)
	}
	b.WriteString("Write a one or two sentence plain-text summary of what was completed for the team changelog.")
	return b.String()
}

func oneParagraph(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "\n\n"); i >= 0 {
		text = text[:i]
	}
	text = strings.Join(strings.Fields(text), " ")
	if cut, ok := execution.Truncate(text, maxSummaryChars); ok {
		text = strings.TrimSpace(cut) + "..."
	}
	return text
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
