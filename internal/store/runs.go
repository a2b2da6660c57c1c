package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultStuckMinutes is used to compute is_stuck when a caller gives no window.
const DefaultStuckMinutes = 10

const runColumns = `id, workspace_id, board_id, task_id, agent_label, mode, status, started_at, finished_at, created_at`

type NewRun struct {
	Task       Task
	AgentLabel string
	Mode       string
	// StepKind, when set, adds the run's single step in the same transaction.
	StepKind  string
	StepInput json.RawMessage
}

// CreateRun inserts a running run, and its first step when requested, atomically.
func (d *DB) CreateRun(ctx context.Context, in NewRun) (Run, error) {
	var run Run
	err := d.Write(ctx, func(tx *sql.Tx) error {
		var err error
		run, err = insertRun(ctx, tx, d.Now(), in)
		return err
	})
	if err != nil {
		return Run{}, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

func insertRun(ctx context.Context, tx *sql.Tx, now time.Time, in NewRun) (Run, error) {
	if strings.TrimSpace(in.Mode) == "" {
		return Run{}, invalidf("run mode is required")
	}
	run := Run{
		ID:          uuid.NewString(),
		WorkspaceID: in.Task.WorkspaceID,
		BoardID:     in.Task.BoardID,
		TaskID:      in.Task.ID,
		AgentLabel:  in.AgentLabel,
		Mode:        in.Mode,
		Status:      RunStatusRunning,
		StartedAt:   now,
		CreatedAt:   now,
		Steps:       []RunStep{},
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO agent_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		run.ID, run.WorkspaceID, run.BoardID, run.TaskID, run.AgentLabel, run.Mode,
		string(run.Status), toMillis(now), toMillis(now),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	if in.StepKind == "" {
		return run, nil
	}

	input := in.StepInput
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	step := RunStep{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		StepIndex: 0,
		Kind:      in.StepKind,
		Status:    RunStatusRunning,
		Input:     input,
		Output:    json.RawMessage(`{}`),
		StartedAt: now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_steps (id, run_id, step_index, kind, status, input_json, output_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		step.ID, step.RunID, step.StepIndex, step.Kind, string(step.Status), string(step.Input), string(step.Output), toMillis(now),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run step: %w", err)
	}
	run.Steps = append(run.Steps, step)
	return run, nil
}

// FinishRun moves a running run and its running steps to a terminal status.
// Only rows still running are touched, so a run never transitions twice;
// ErrConflict is returned when the run had already concluded.
func (d *DB) FinishRun(ctx context.Context, runID string, status RunStatus, output json.RawMessage) error {
	if !status.Terminal() {
		return invalidf("run status %q is not terminal", status)
	}
	if len(output) == 0 {
		output = json.RawMessage(`{}`)
	}
	err := d.Write(ctx, func(tx *sql.Tx) error {
		now := toMillis(d.Now())
		if _, err := tx.ExecContext(ctx,
			`UPDATE run_steps SET status = ?, output_json = ?, finished_at = ? WHERE run_id = ? AND status = ?`,
			string(status), string(output), now, runID, string(RunStatusRunning),
		); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE agent_runs SET status = ?, finished_at = ? WHERE id = ? AND status = ?`,
			string(status), now, runID, string(RunStatusRunning),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 {
			return nil
		}
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM agent_runs WHERE id = ?`, runID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrConflict
	})
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

func (d *DB) GetRun(ctx context.Context, id string) (Run, error) {
	runs, err := d.queryRuns(ctx, `WHERE id = ?`, []any{id}, DefaultStuckMinutes)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNotFound
	}
	return runs[0], nil
}

// ListRuns returns runs newest first with their steps and the is_stuck flag.
func (d *DB) ListRuns(ctx context.Context, f RunFilter) ([]Run, error) {
	stuck := f.StuckMinutes
	if stuck <= 0 {
		stuck = DefaultStuckMinutes
	}
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if f.TaskID != "" {
		clauses = append(clauses, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.StuckOnly {
		clauses = append(clauses, "status = ?", "created_at < ?")
		args = append(args, string(RunStatusRunning), toMillis(stuckCutoff(d.Now(), stuck)))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	where += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		where += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return d.queryRuns(ctx, where, args, stuck)
}

// LatestRunForTask returns the most recently created run of the task.
func (d *DB) LatestRunForTask(ctx context.Context, taskID string) (Run, error) {
	runs, err := d.ListRuns(ctx, RunFilter{TaskID: taskID, Limit: 1})
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNotFound
	}
	return runs[0], nil
}

// CountStuckRuns counts running runs created more than minutes ago.
func (d *DB) CountStuckRuns(ctx context.Context, minutes int) (int, error) {
	if minutes <= 0 {
		minutes = DefaultStuckMinutes
	}
	var n int
	err := d.sql.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM agent_runs WHERE status = ? AND created_at < ?`,
		string(RunStatusRunning), toMillis(stuckCutoff(d.Now(), minutes)),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stuck runs: %w", err)
	}
	return n, nil
}

// FailRunningRuns marks running runs created before createdBefore, and their
// running steps, failed and returns the affected run ids. A zero createdBefore
// matches every running run. Approval placeholders carry no steps and are left
// alone. Sessions of the swept tasks are returned to idle.
func (d *DB) FailRunningRuns(ctx context.Context, createdBefore time.Time, output json.RawMessage) ([]string, error) {
	if len(output) == 0 {
		output = json.RawMessage(`{}`)
	}
	query := `SELECT id, task_id FROM agent_runs r WHERE r.status = ?
		AND EXISTS (SELECT 1 FROM run_steps s WHERE s.run_id = r.id)`
	args := []any{string(RunStatusRunning)}
	if !createdBefore.IsZero() {
		query += ` AND r.created_at < ?`
		args = append(args, toMillis(createdBefore))
	}

	var ids []string
	err := d.Write(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		tasks := make(map[string]struct{})
		for rows.Next() {
			var id, taskID string
			if err := rows.Scan(&id, &taskID); err != nil {
				_ = rows.Close()
				return err
			}
			ids = append(ids, id)
			tasks[taskID] = struct{}{}
		}
		if err := rows.Close(); err != nil {
			return err
		}

		now := toMillis(d.Now())
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE run_steps SET status = ?, output_json = ?, finished_at = ? WHERE run_id = ? AND status = ?`,
				string(RunStatusFailed), string(output), now, id, string(RunStatusRunning),
			); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE agent_runs SET status = ?, finished_at = ? WHERE id = ? AND status = ?`,
				string(RunStatusFailed), now, id, string(RunStatusRunning),
			); err != nil {
				return err
			}
		}
		for taskID := range tasks {
			if _, err := tx.ExecContext(ctx,
				`UPDATE task_sessions SET status = ?, updated_at = ? WHERE task_id = ? AND status = ?`,
				string(SessionStatusIdle), now, taskID, string(SessionStatusRunning),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fail running runs: %w", err)
	}
	return ids, nil
}

func stuckCutoff(now time.Time, minutes int) time.Time {
	return now.Add(-time.Duration(minutes) * time.Minute)
}

func (d *DB) queryRuns(ctx context.Context, where string, args []any, stuckMinutes int) ([]Run, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT `+runColumns+` FROM agent_runs `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	cutoff := stuckCutoff(d.Now(), stuckMinutes)
	out := make([]Run, 0, 16)
	index := make(map[string]int)
	for rows.Next() {
		var (
			r                Run
			status           string
			started, created int64
			finished         sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.BoardID, &r.TaskID, &r.AgentLabel, &r.Mode,
			&status, &started, &finished, &created); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = RunStatus(status)
		r.StartedAt = fromMillis(started)
		r.FinishedAt = fromNullMillis(finished)
		r.CreatedAt = fromMillis(created)
		r.IsStuck = r.Status == RunStatusRunning && r.CreatedAt.Before(cutoff)
		r.Steps = []RunStep{}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]any, 0, len(out))
	for _, r := range out {
		ids = append(ids, r.ID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	stepRows, err := d.sql.QueryContext(ctx,
		`SELECT id, run_id, step_index, kind, status, input_json, output_json, started_at, finished_at
		FROM run_steps WHERE run_id IN (`+placeholders+`) ORDER BY run_id, step_index ASC`, ids...)
	if err != nil {
		return nil, fmt.Errorf("list run steps: %w", err)
	}
	defer stepRows.Close()

	for stepRows.Next() {
		var (
			s             RunStep
			status        string
			input, output string
			started       int64
			finished      sql.NullInt64
		)
		if err := stepRows.Scan(&s.ID, &s.RunID, &s.StepIndex, &s.Kind, &status, &input, &output, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run step: %w", err)
		}
		s.Status = RunStatus(status)
		s.Input = json.RawMessage(input)
		s.Output = json.RawMessage(output)
		s.StartedAt = fromMillis(started)
		s.FinishedAt = fromNullMillis(finished)
		if i, ok := index[s.RunID]; ok {
			out[i].Steps = append(out[i].Steps, s)
		}
	}
	return out, stepRows.Err()
}
