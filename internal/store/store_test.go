package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createTestTask(t *testing.T, db *DB, title string, status TaskStatus) Task {
	t.Helper()
	task, err := db.CreateTask(context.Background(), NewTask{Title: title, Status: status})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	return task
}

func TestOpenFileDatabaseAppliesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "board.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	var mode string
	if err := db.sql.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode query error = %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}

	boards, err := db.ListBoards(context.Background())
	if err != nil {
		t.Fatalf("ListBoards() error = %v", err)
	}
	if len(boards) != 1 || boards[0].ID != DefaultBoardID {
		t.Fatalf("boards = %+v, want the default board", boards)
	}

	// Re-opening must be idempotent.
	_ = db.Close()
	again, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	_ = again.Close()
}

func TestCreateTaskDefaultsAndValidation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	task := createTestTask(t, db, "  Write docs ", "")
	if task.Title != "Write docs" {
		t.Fatalf("Title = %q, want trimmed", task.Title)
	}
	if task.Status != TaskStatusIdeas {
		t.Fatalf("Status = %q, want %q", task.Status, TaskStatusIdeas)
	}
	if task.WorkspaceID != "default" {
		t.Fatalf("WorkspaceID = %q, want default", task.WorkspaceID)
	}

	second := createTestTask(t, db, "Second", "")
	if second.Position != task.Position+1 {
		t.Fatalf("Position = %d, want %d", second.Position, task.Position+1)
	}

	if _, err := db.CreateTask(ctx, NewTask{Title: "x", Status: "bogus"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("CreateTask(bogus status) error = %v, want ErrInvalid", err)
	}
	if _, err := db.CreateTask(ctx, NewTask{Title: "x", BoardID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("CreateTask(missing board) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateTaskReturnsPreviousAndNext(t *testing.T) {
	db := openTestDB(t)
	task := createTestTask(t, db, "Ship", TaskStatusTodo)

	doing := TaskStatusDoing
	prev, next, err := db.UpdateTask(context.Background(), task.ID, TaskPatch{Status: &doing})
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if prev.Status != TaskStatusTodo || next.Status != TaskStatusDoing {
		t.Fatalf("prev/next = %q/%q, want todo/doing", prev.Status, next.Status)
	}

	if _, _, err := db.UpdateTask(context.Background(), "nope", TaskPatch{Status: &doing}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateTask(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	task := createTestTask(t, db, "Remove me", TaskStatusTodo)

	if _, err := db.CreateRun(ctx, NewRun{Task: task, Mode: "plan", StepKind: "plan"}); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if _, err := db.ReplaceChecklist(ctx, task.ID, []NewChecklistItem{{Text: "a"}}); err != nil {
		t.Fatalf("ReplaceChecklist() error = %v", err)
	}
	if err := db.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	runs, err := db.ListRuns(ctx, RunFilter{TaskID: task.ID})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("len(runs) = %d, want 0 after cascade", len(runs))
	}
	if err := db.DeleteTask(ctx, task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteTask() error = %v, want ErrNotFound", err)
	}
}

func TestEnsureSessionIsIdempotentAndRebinds(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	task := createTestTask(t, db, "Session", TaskStatusTodo)
	agent, err := db.UpsertAgent(ctx, Agent{DisplayName: "Builder", ExternalID: "builder", Enabled: true})
	if err != nil {
		t.Fatalf("UpsertAgent() error = %v", err)
	}

	first, changed, err := db.EnsureSession(ctx, task.ID, "", "key-1")
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}
	if !changed || first.AgentID != "" || first.Status != SessionStatusIdle {
		t.Fatalf("first session = %+v changed=%v", first, changed)
	}

	same, changed, err := db.EnsureSession(ctx, task.ID, "", "key-2")
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}
	if changed || same.ID != first.ID || same.SessionKey != "key-1" {
		t.Fatalf("second session = %+v changed=%v, want unchanged original", same, changed)
	}

	bound, changed, err := db.EnsureSession(ctx, task.ID, agent.ID, "key-1")
	if err != nil {
		t.Fatalf("EnsureSession(agent) error = %v", err)
	}
	if !changed || bound.AgentID != agent.ID || bound.ID != first.ID {
		t.Fatalf("bound session = %+v changed=%v", bound, changed)
	}

	if _, _, err := db.EnsureSession(ctx, "missing", "", "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("EnsureSession(missing task) error = %v, want ErrNotFound", err)
	}
}

func TestFinishRunIsMonotonic(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	task := createTestTask(t, db, "Run", TaskStatusTodo)

	run, err := db.CreateRun(ctx, NewRun{Task: task, AgentLabel: "agent", Mode: "execute", StepKind: "execute"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if len(run.Steps) != 1 || run.Steps[0].Status != RunStatusRunning {
		t.Fatalf("steps = %+v, want one running step", run.Steps)
	}

	if err := db.FinishRun(ctx, run.ID, RunStatusSucceeded, json.RawMessage(`{"text":"ok"}`)); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}
	if err := db.FinishRun(ctx, run.ID, RunStatusFailed, nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("second FinishRun() error = %v, want ErrConflict", err)
	}
	if err := db.FinishRun(ctx, "missing", RunStatusFailed, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FinishRun(missing) error = %v, want ErrNotFound", err)
	}
	if err := db.FinishRun(ctx, run.ID, RunStatusRunning, nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("FinishRun(running) error = %v, want ErrInvalid", err)
	}

	got, err := db.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != RunStatusSucceeded || got.FinishedAt == nil {
		t.Fatalf("run = %+v, want succeeded with finished_at", got)
	}
	if got.Steps[0].Status != RunStatusSucceeded || string(got.Steps[0].Output) != `{"text":"ok"}` {
		t.Fatalf("step = %+v, want succeeded with output", got.Steps[0])
	}
}

func TestListRunsStuckFilter(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	task := createTestTask(t, db, "Stuck", TaskStatusDoing)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return base })
	old, err := db.CreateRun(ctx, NewRun{Task: task, Mode: "execute", StepKind: "execute"})
	if err != nil {
		t.Fatalf("CreateRun(old) error = %v", err)
	}
	oldDone, err := db.CreateRun(ctx, NewRun{Task: task, Mode: "plan", StepKind: "plan"})
	if err != nil {
		t.Fatalf("CreateRun(oldDone) error = %v", err)
	}
	if err := db.FinishRun(ctx, oldDone.ID, RunStatusFailed, nil); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	db.SetClock(func() time.Time { return base.Add(15 * time.Minute) })
	fresh, err := db.CreateRun(ctx, NewRun{Task: task, Mode: "report", StepKind: "report"})
	if err != nil {
		t.Fatalf("CreateRun(fresh) error = %v", err)
	}

	stuck, err := db.ListRuns(ctx, RunFilter{Status: RunStatusRunning, StuckMinutes: 10, StuckOnly: true})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != old.ID || !stuck[0].IsStuck {
		t.Fatalf("stuck runs = %+v, want only %s flagged", stuck, old.ID)
	}

	all, err := db.ListRuns(ctx, RunFilter{TaskID: task.ID, StuckMinutes: 10})
	if err != nil {
		t.Fatalf("ListRuns(task) error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	if all[0].ID != fresh.ID || all[0].IsStuck {
		t.Fatalf("newest run = %+v, want fresh and not stuck", all[0])
	}
	for _, r := range all {
		if r.ID == oldDone.ID && r.IsStuck {
			t.Fatalf("failed run flagged stuck")
		}
		if len(r.Steps) != 1 {
			t.Fatalf("run %s has %d steps, want 1", r.ID, len(r.Steps))
		}
	}

	n, err := db.CountStuckRuns(ctx, 10)
	if err != nil {
		t.Fatalf("CountStuckRuns() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("CountStuckRuns() = %d, want 1", n)
	}
}

func TestFailRunningRunsResetsSessions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	task := createTestTask(t, db, "Crash", TaskStatusDoing)
	if _, _, err := db.EnsureSession(ctx, task.ID, "", "k"); err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}
	if err := db.SetSessionStatus(ctx, task.ID, SessionStatusRunning, ""); err != nil {
		t.Fatalf("SetSessionStatus() error = %v", err)
	}
	run, err := db.CreateRun(ctx, NewRun{Task: task, Mode: "execute", StepKind: "execute"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	waiting := createTestTask(t, db, "Waiting", TaskStatusReview)
	_, _, err = db.CreateApproval(ctx, NewApproval{TaskID: waiting.ID, Title: "Ship?"}, Placeholder{AgentLabel: "user", Mode: "approval"})
	if err != nil {
		t.Fatalf("CreateApproval() error = %v", err)
	}

	ids, err := db.FailRunningRuns(ctx, time.Time{}, json.RawMessage(`{"error":"abandoned"}`))
	if err != nil {
		t.Fatalf("FailRunningRuns() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != run.ID {
		t.Fatalf("ids = %v, want [%s]", ids, run.ID)
	}
	got, err := db.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != RunStatusFailed || got.Steps[0].Status != RunStatusFailed {
		t.Fatalf("run = %+v, want failed", got)
	}
	sess, err := db.GetSession(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess.Status != SessionStatusIdle {
		t.Fatalf("session status = %q, want idle", sess.Status)
	}
	left, err := db.ListRuns(ctx, RunFilter{TaskID: waiting.ID})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(left) != 1 || left[0].Status != RunStatusRunning {
		t.Fatalf("placeholder runs = %+v, want one still running", left)
	}
}

func TestFailRunningRunsCutoffSparesFreshRuns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	db.SetClock(func() time.Time { return now })

	oldTask := createTestTask(t, db, "Old", TaskStatusDoing)
	old, err := db.CreateRun(ctx, NewRun{Task: oldTask, Mode: "execute", StepKind: "execute"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	now = base.Add(30 * time.Minute)
	liveTask := createTestTask(t, db, "Live", TaskStatusDoing)
	if _, _, err := db.EnsureSession(ctx, liveTask.ID, "", "live"); err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}
	if err := db.SetSessionStatus(ctx, liveTask.ID, SessionStatusRunning, ""); err != nil {
		t.Fatalf("SetSessionStatus() error = %v", err)
	}
	live, err := db.CreateRun(ctx, NewRun{Task: liveTask, Mode: "execute", StepKind: "execute"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	ids, err := db.FailRunningRuns(ctx, now.Add(-10*time.Minute), json.RawMessage(`{"error":"abandoned"}`))
	if err != nil {
		t.Fatalf("FailRunningRuns() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != old.ID {
		t.Fatalf("ids = %v, want [%s]", ids, old.ID)
	}
	got, err := db.GetRun(ctx, live.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != RunStatusRunning || got.Steps[0].Status != RunStatusRunning {
		t.Fatalf("fresh run = %+v, want still running", got)
	}
	sess, err := db.GetSession(ctx, liveTask.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess.Status != SessionStatusRunning {
		t.Fatalf("live session status = %q, want running", sess.Status)
	}
	if err := db.FinishRun(ctx, live.ID, RunStatusSucceeded, json.RawMessage(`{"text":"ok"}`)); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}
}

func TestCreateApprovalPlaceholderAndDecide(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	task := createTestTask(t, db, "Approve", TaskStatusReview)

	a, placeholder, err := db.CreateApproval(ctx, NewApproval{TaskID: task.ID, Title: "Deploy?"}, Placeholder{AgentLabel: "user", Mode: "approval"})
	if err != nil {
		t.Fatalf("CreateApproval() error = %v", err)
	}
	if !placeholder || a.Status != ApprovalStatusPending {
		t.Fatalf("approval = %+v placeholder=%v", a, placeholder)
	}
	runs, err := db.ListRuns(ctx, RunFilter{TaskID: task.ID})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].AgentLabel != "user" || runs[0].Status != RunStatusRunning || runs[0].ID != a.RunID {
		t.Fatalf("runs = %+v, want one running placeholder", runs)
	}

	second, placeholder, err := db.CreateApproval(ctx, NewApproval{TaskID: task.ID}, Placeholder{AgentLabel: "user", Mode: "approval"})
	if err != nil {
		t.Fatalf("second CreateApproval() error = %v", err)
	}
	if placeholder || second.RunID != a.RunID {
		t.Fatalf("second approval = %+v placeholder=%v, want reuse of latest run", second, placeholder)
	}

	decided, err := db.DecideApproval(ctx, a.ID, ApprovalStatusApproved, "alice", "looks fine")
	if err != nil {
		t.Fatalf("DecideApproval() error = %v", err)
	}
	if decided.Status != ApprovalStatusApproved || decided.DecidedBy != "alice" || decided.DecidedAt == nil {
		t.Fatalf("decided = %+v", decided)
	}
	if _, err := db.DecideApproval(ctx, a.ID, ApprovalStatusRejected, "bob", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("second DecideApproval() error = %v, want ErrConflict", err)
	}
	if _, err := db.DecideApproval(ctx, "missing", ApprovalStatusApproved, "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DecideApproval(missing) error = %v, want ErrNotFound", err)
	}

	pending, err := db.ListApprovals(ctx, ApprovalStatusPending)
	if err != nil {
		t.Fatalf("ListApprovals() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Fatalf("pending = %+v, want only the second approval", pending)
	}
}

func TestCreateApprovalForStepUsesStepRun(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	task := createTestTask(t, db, "Two runs", TaskStatusDoing)
	first, err := db.CreateRun(ctx, NewRun{Task: task, Mode: "plan", StepKind: "plan"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if _, err := db.CreateRun(ctx, NewRun{Task: task, Mode: "execute", StepKind: "execute"}); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	a, placeholder, err := db.CreateApproval(ctx, NewApproval{TaskID: task.ID, StepID: first.Steps[0].ID, Title: "Plan ok?"}, Placeholder{AgentLabel: "user", Mode: "approval"})
	if err != nil {
		t.Fatalf("CreateApproval() error = %v", err)
	}
	if placeholder || a.RunID != first.ID || a.StepID != first.Steps[0].ID {
		t.Fatalf("approval = %+v, placeholder = %t, want run %s", a, placeholder, first.ID)
	}

	other := createTestTask(t, db, "Other", TaskStatusDoing)
	if _, _, err := db.CreateApproval(ctx, NewApproval{TaskID: other.ID, StepID: first.Steps[0].ID}, Placeholder{AgentLabel: "user", Mode: "approval"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("CreateApproval() foreign step error = %v, want ErrInvalid", err)
	}
}

func TestDecideApprovalConcurrentExactlyOnce(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	task := createTestTask(t, db, "Race", TaskStatusReview)
	a, _, err := db.CreateApproval(ctx, NewApproval{TaskID: task.ID}, Placeholder{AgentLabel: "user", Mode: "approval"})
	if err != nil {
		t.Fatalf("CreateApproval() error = %v", err)
	}

	type outcome struct {
		who string
		err error
	}
	results := make(chan outcome, 2)
	var wg sync.WaitGroup
	for _, who := range []string{"approver", "rejecter"} {
		wg.Add(1)
		go func(who string) {
			defer wg.Done()
			status := ApprovalStatusApproved
			if who == "rejecter" {
				status = ApprovalStatusRejected
			}
			_, err := db.DecideApproval(ctx, a.ID, status, who, "reason-"+who)
			results <- outcome{who: who, err: err}
		}(who)
	}
	wg.Wait()
	close(results)

	winner := ""
	conflicts := 0
	for r := range results {
		switch {
		case r.err == nil:
			winner = r.who
		case errors.Is(r.err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("DecideApproval(%s) error = %v", r.who, r.err)
		}
	}
	if winner == "" || conflicts != 1 {
		t.Fatalf("winner = %q conflicts = %d, want one of each", winner, conflicts)
	}
	got, err := db.GetApproval(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetApproval() error = %v", err)
	}
	if got.DecidedBy != winner || got.DecisionReason != "reason-"+winner {
		t.Fatalf("approval = %+v, want winner %q metadata", got, winner)
	}
}

func TestReplaceChecklistWholesale(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	task := createTestTask(t, db, "Checklist", TaskStatusTodo)

	if _, err := db.ReplaceChecklist(ctx, task.ID, []NewChecklistItem{{Text: "old-1", State: ChecklistStateDone}, {Text: "old-2"}, {Text: "old-3"}}); err != nil {
		t.Fatalf("ReplaceChecklist() error = %v", err)
	}
	items, err := db.ReplaceChecklist(ctx, task.ID, []NewChecklistItem{{Text: "a"}, {Text: "  "}, {Text: "b", State: "weird"}})
	if err != nil {
		t.Fatalf("ReplaceChecklist() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	for i, want := range []struct {
		text     string
		position int
	}{{"a", 0}, {"b", 2}} {
		if items[i].Text != want.text || items[i].Position != want.position || items[i].State != ChecklistStateTodo {
			t.Fatalf("items[%d] = %+v, want %q at %d todo", i, items[i], want.text, want.position)
		}
	}
}

func TestDocsAppendCreatesAndExtends(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.AppendDoc(ctx, "changelog", "one\n"); err != nil {
		t.Fatalf("AppendDoc() error = %v", err)
	}
	if err := db.AppendDoc(ctx, "changelog", "two\n"); err != nil {
		t.Fatalf("AppendDoc() error = %v", err)
	}
	doc, err := db.GetDoc(ctx, "changelog")
	if err != nil {
		t.Fatalf("GetDoc() error = %v", err)
	}
	if doc.Content != "one\ntwo\n" {
		t.Fatalf("Content = %q, want both entries", doc.Content)
	}
	if _, err := db.GetDoc(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetDoc(missing) error = %v, want ErrNotFound", err)
	}
}
