package approvals

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ent0n29/clawboard/internal/store"
	"github.com/ent0n29/clawboard/internal/telemetry"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Publish(eventType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func newGate(t *testing.T) (*Gate, *store.DB, *recorder, store.Task) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	task, err := db.CreateTask(context.Background(), store.NewTask{Title: "Drop staging tables"})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	rec := &recorder{}
	return NewGate(db, rec, nil, telemetry.Discard()), db, rec, task
}

func TestRequestCreatesPlaceholderRun(t *testing.T) {
	g, db, rec, task := newGate(t)
	ctx := context.Background()

	a, err := g.Request(ctx, task.ID, RequestInput{Body: "needs a human"})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if a.Status != store.ApprovalStatusPending || a.Title != "Approval requested" || a.RequestedBy != "user" {
		t.Fatalf("approval = %+v", a)
	}
	run, err := db.GetRun(ctx, a.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.AgentLabel != "user" || run.Mode != "approval" || run.Status != store.RunStatusRunning || len(run.Steps) != 0 {
		t.Fatalf("placeholder run = %+v", run)
	}
	if len(rec.events) != 2 || rec.events[0] != "runs.changed" || rec.events[1] != "approvals.changed" {
		t.Fatalf("events = %v", rec.events)
	}

	second, err := g.Request(ctx, task.ID, RequestInput{Title: "again"})
	if err != nil {
		t.Fatalf("Request() again error = %v", err)
	}
	if second.RunID != a.RunID {
		t.Fatalf("second approval run = %q, want latest run %q", second.RunID, a.RunID)
	}
}

func TestRequestUnknownTask(t *testing.T) {
	g, _, _, _ := newGate(t)
	if _, err := g.Request(context.Background(), "missing", RequestInput{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Request() error = %v, want ErrNotFound", err)
	}
}

func TestDecideOnce(t *testing.T) {
	g, _, _, task := newGate(t)
	ctx := context.Background()
	a, _ := g.Request(ctx, task.ID, RequestInput{})

	got, err := g.Decide(ctx, a.ID, ActionApprove, "alice", "looks fine")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if got.Status != store.ApprovalStatusApproved || got.DecidedBy != "alice" || got.DecidedAt == nil {
		t.Fatalf("decided = %+v", got)
	}
	if _, err := g.Decide(ctx, a.ID, ActionReject, "bob", ""); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("second Decide() error = %v, want ErrAlreadyDecided", err)
	}
	if after, _ := g.Get(ctx, a.ID); after.Status != store.ApprovalStatusApproved || after.DecidedBy != "alice" {
		t.Fatalf("after conflict = %+v, want first decision kept", after)
	}
	if _, err := g.Decide(ctx, "nope", ActionApprove, "", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Decide(unknown) error = %v, want ErrNotFound", err)
	}
	if _, err := g.Decide(ctx, a.ID, Action("maybe"), "", ""); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("Decide(maybe) error = %v, want ErrInvalidAction", err)
	}
}

func TestConcurrentDecisionsSucceedExactlyOnce(t *testing.T) {
	g, _, _, task := newGate(t)
	ctx := context.Background()
	a, _ := g.Request(ctx, task.ID, RequestInput{})

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			action := ActionApprove
			if i%2 == 1 {
				action = ActionReject
			}
			_, err := g.Decide(ctx, a.ID, action, "racer", "")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrAlreadyDecided):
				conflicts.Add(1)
			default:
				t.Errorf("Decide() error = %v", err)
			}
		}(i)
	}
	wg.Wait()
	if successes.Load() != 1 || conflicts.Load() != 7 {
		t.Fatalf("successes = %d conflicts = %d, want 1 and 7", successes.Load(), conflicts.Load())
	}
}

func TestListFiltersByStatus(t *testing.T) {
	g, _, _, task := newGate(t)
	ctx := context.Background()
	first, _ := g.Request(ctx, task.ID, RequestInput{Title: "one"})
	_, _ = g.Request(ctx, task.ID, RequestInput{Title: "two"})
	if _, err := g.Decide(ctx, first.ID, ActionReject, "", "no"); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	pending, err := g.List(ctx, "pending")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Title != "two" {
		t.Fatalf("pending = %+v", pending)
	}
	all, _ := g.List(ctx, "")
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
	if _, err := g.List(ctx, "stale"); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("List(stale) error = %v, want ErrInvalid", err)
	}
}
