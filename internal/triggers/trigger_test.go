package triggers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/clawboard/internal/approvals"
	"github.com/ent0n29/clawboard/internal/docs"
	"github.com/ent0n29/clawboard/internal/execution"
	"github.com/ent0n29/clawboard/internal/openclaw"
	"github.com/ent0n29/clawboard/internal/store"
	"github.com/ent0n29/clawboard/internal/taskruntime"
	"github.com/ent0n29/clawboard/internal/telemetry"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []execution.Mode
}

func (f *fakeRunner) RunTask(_ context.Context, _ string, mode execution.Mode, _ string) (execution.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mode)
	return execution.Result{RunID: "r1"}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCompleter struct {
	text string
	err  error
}

func (f fakeCompleter) Complete(context.Context, openclaw.CompletionRequest) (openclaw.CompletionResponse, error) {
	if f.err != nil {
		return openclaw.CompletionResponse{}, f.err
	}
	return openclaw.CompletionResponse{Text: f.text}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Publish(eventType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

type fixture struct {
	trigger *Trigger
	runner  *fakeRunner
	jobs    *taskruntime.Service
	docs    *docs.InMemoryStore
	db      *store.DB
	events  *recorder
}

func newFixture(t *testing.T, cfg Config, completer openclaw.Completer) *fixture {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	logger := telemetry.Discard()
	jobs := taskruntime.New(taskruntime.Config{Concurrency: 1}, logger, nil)
	t.Cleanup(func() { _ = jobs.Shutdown(context.Background()) })

	f := &fixture{
		runner: &fakeRunner{},
		jobs:   jobs,
		docs:   docs.NewInMemoryStore(),
		db:     db,
		events: &recorder{},
	}
	gate := approvals.NewGate(db, f.events, nil, logger)
	f.trigger = New(cfg, f.runner, gate, jobs, completer, f.docs, f.events, logger)
	f.trigger.now = func() time.Time { return time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) wait(t *testing.T, ids []string) {
	t.Helper()
	for _, id := range ids {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		job, err := f.jobs.Wait(ctx, id)
		cancel()
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		if job.Status != taskruntime.JobSucceeded {
			t.Fatalf("job %s = %+v", job.Name, job)
		}
	}
}

func task(status store.TaskStatus) store.Task {
	return store.Task{ID: "t1", BoardID: "default", Title: "Write onboarding guide", Description: "Cover setup\nand first run", Status: status}
}

func TestIntoDoingRunsExecuteOnce(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ids := f.trigger.OnStatusChange(task(store.TaskStatusTodo), task(store.TaskStatusDoing))
	if len(ids) != 1 {
		t.Fatalf("jobs = %v, want one", ids)
	}
	f.wait(t, ids)
	if f.runner.count() != 1 || f.runner.calls[0] != execution.ModeExecute {
		t.Fatalf("runner calls = %v, want one execute", f.runner.calls)
	}
}

func TestNoOpTransitions(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	cases := [][2]store.TaskStatus{
		{store.TaskStatusDoing, store.TaskStatusDoing},
		{store.TaskStatusDone, store.TaskStatusDone},
		{store.TaskStatusTodo, store.TaskStatusReview},
		{store.TaskStatusDoing, store.TaskStatusTodo},
	}
	for _, c := range cases {
		if ids := f.trigger.OnStatusChange(task(c[0]), task(c[1])); len(ids) != 0 {
			t.Fatalf("%s -> %s queued %v, want nothing", c[0], c[1], ids)
		}
	}
	if f.runner.count() != 0 {
		t.Fatalf("runner called %d times", f.runner.count())
	}
}

func TestIntoDoneAppendsSummaryToDocs(t *testing.T) {
	f := newFixture(t, Config{}, fakeCompleter{text: "Guide written and reviewed.\n\nExtra chatter."})
	ids := f.trigger.OnStatusChange(task(store.TaskStatusReview), task(store.TaskStatusDone))
	f.wait(t, ids)

	ctx := context.Background()
	for _, key := range []string{"board:default:narrative", docs.KeyChangelog, docs.KeyMemory} {
		doc, err := f.docs.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", key, err)
		}
		if !strings.Contains(doc.Content, "Guide written and reviewed.") || strings.Contains(doc.Content, "Extra chatter") {
			t.Fatalf("%s content = %q", key, doc.Content)
		}
		if !strings.Contains(doc.Content, "2026-05-04") {
			t.Fatalf("%s content missing date: %q", key, doc.Content)
		}
	}
	if len(f.events.events) != 1 || f.events.events[0] != "docs.changed" {
		t.Fatalf("events = %v, want docs.changed", f.events.events)
	}
}

func TestSummaryFallsBackWhenProviderFails(t *testing.T) {
	f := newFixture(t, Config{}, fakeCompleter{err: errors.New("connection refused")})
	ids := f.trigger.OnStatusChange(task(store.TaskStatusReview), task(store.TaskStatusDone))
	f.wait(t, ids)

	doc, err := f.docs.Get(context.Background(), docs.KeyChangelog)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := `Completed task "Write onboarding guide". Cover setup`
	if !strings.Contains(doc.Content, want) {
		t.Fatalf("changelog = %q, want fallback %q", doc.Content, want)
	}
}

func TestSummarizeEmptyReplyUsesFallback(t *testing.T) {
	f := newFixture(t, Config{}, fakeCompleter{text: "   "})
	got := f.trigger.Summarize(context.Background(), store.Task{Title: "Tidy"})
	if got != `Completed task "Tidy".` {
		t.Fatalf("Summarize() = %q", got)
	}
}

func TestSummarizeTruncatesOnRuneBoundary(t *testing.T) {
	f := newFixture(t, Config{}, fakeCompleter{text: strings.Repeat("ü", maxSummaryChars+50)})
	got := f.trigger.Summarize(context.Background(), store.Task{Title: "Umlauts"})
	if !utf8.ValidString(got) {
		t.Fatalf("Summarize() returned invalid UTF-8")
	}
	if want := strings.Repeat("ü", maxSummaryChars) + "..."; got != want {
		t.Fatalf("Summarize() = %d runes, want %d", utf8.RuneCountInString(got), utf8.RuneCountInString(want))
	}
}

func TestRiskyTaskWaitsForApproval(t *testing.T) {
	f := newFixture(t, Config{RequireApprovalForRisky: true}, nil)
	ctx := context.Background()
	created, err := f.db.CreateTask(ctx, store.NewTask{Title: "Deploy the billing service", Status: store.TaskStatusTodo})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	next := created
	next.Status = store.TaskStatusDoing

	f.wait(t, f.trigger.OnStatusChange(created, next))
	if f.runner.count() != 0 {
		t.Fatalf("runner called for risky task")
	}
	pending, err := f.db.ListApprovals(ctx, store.ApprovalStatusPending)
	if err != nil {
		t.Fatalf("ListApprovals() error = %v", err)
	}
	if len(pending) != 1 || pending[0].RequestedBy != "policy" || !strings.Contains(pending[0].Body, "deploy") {
		t.Fatalf("pending = %+v", pending)
	}

	safe := task(store.TaskStatusTodo)
	safeNext := task(store.TaskStatusDoing)
	f.wait(t, f.trigger.OnStatusChange(safe, safeNext))
	if f.runner.count() != 1 {
		t.Fatalf("runner calls = %d, want safe task to auto-run", f.runner.count())
	}
}
