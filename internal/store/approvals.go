package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const approvalColumns = `id, run_id, step_id, task_id, status, title, body, requested_by, decided_by, decision_reason, created_at, decided_at`

type NewApproval struct {
	TaskID      string
	StepID      string
	Title       string
	Body        string
	RequestedBy string
}

// Placeholder describes the run synthesized when an approval is requested
// for a task that has never run.
type Placeholder struct {
	AgentLabel string
	Mode       string
}

// CreateApproval inserts a pending approval. With a StepID it is attached to
// that step's run, which must belong to the task. Otherwise it is attached to
// the task's latest run; when the task has no run yet, a running placeholder
// run is created in the same transaction and placeholder is true.
func (d *DB) CreateApproval(ctx context.Context, in NewApproval, ph Placeholder) (a Approval, placeholder bool, err error) {
	err = d.Write(ctx, func(tx *sql.Tx) error {
		task, err := getTask(ctx, tx, in.TaskID)
		if err != nil {
			return err
		}

		var runID string
		if in.StepID != "" {
			err = tx.QueryRowContext(ctx,
				`SELECT s.run_id FROM run_steps s JOIN agent_runs r ON r.id = s.run_id WHERE s.id = ? AND r.task_id = ?`,
				in.StepID, task.ID,
			).Scan(&runID)
			if errors.Is(err, sql.ErrNoRows) {
				return invalidf("step %s does not belong to task %s", in.StepID, task.ID)
			}
			if err != nil {
				return err
			}
		} else {
			err = tx.QueryRowContext(ctx,
				`SELECT id FROM agent_runs WHERE task_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, task.ID,
			).Scan(&runID)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				run, err := insertRun(ctx, tx, d.Now(), NewRun{Task: task, AgentLabel: ph.AgentLabel, Mode: ph.Mode})
				if err != nil {
					return err
				}
				runID = run.ID
				placeholder = true
			case err != nil:
				return err
			}
		}

		a = Approval{
			ID:          uuid.NewString(),
			RunID:       runID,
			StepID:      in.StepID,
			TaskID:      task.ID,
			Status:      ApprovalStatusPending,
			Title:       strings.TrimSpace(in.Title),
			Body:        in.Body,
			RequestedBy: strings.TrimSpace(in.RequestedBy),
			CreatedAt:   d.Now(),
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO approvals (`+approvalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, NULL)`,
			a.ID, a.RunID, nullString(a.StepID), a.TaskID, string(a.Status), a.Title, a.Body, a.RequestedBy, toMillis(a.CreatedAt),
		)
		return err
	})
	if err != nil {
		return Approval{}, false, fmt.Errorf("create approval: %w", err)
	}
	return a, placeholder, nil
}

// DecideApproval resolves a pending approval with a single conditional update.
// ErrConflict means it was already decided; ErrNotFound means it never existed.
func (d *DB) DecideApproval(ctx context.Context, id string, status ApprovalStatus, decidedBy, reason string) (Approval, error) {
	if status != ApprovalStatusApproved && status != ApprovalStatusRejected {
		return Approval{}, invalidf("approval decision %q", status)
	}
	err := d.Write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE approvals SET status = ?, decided_at = ?, decided_by = ?, decision_reason = ?
			WHERE id = ? AND status = ?`,
			string(status), toMillis(d.Now()), nullString(decidedBy), nullString(reason), id, string(ApprovalStatusPending),
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
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM approvals WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrConflict
	})
	if err != nil {
		return Approval{}, fmt.Errorf("decide approval %s: %w", id, err)
	}
	return d.GetApproval(ctx, id)
}

func (d *DB) GetApproval(ctx context.Context, id string) (Approval, error) {
	a, err := scanApproval(d.sql.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Approval{}, ErrNotFound
	}
	if err != nil {
		return Approval{}, fmt.Errorf("get approval: %w", err)
	}
	return a, nil
}

// ListApprovals returns approvals newest first, optionally filtered by status.
func (d *DB) ListApprovals(ctx context.Context, status ApprovalStatus) ([]Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	out := make([]Approval, 0, 8)
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanApproval(row rowScanner) (Approval, error) {
	var (
		a                         Approval
		stepID, decidedBy, reason sql.NullString
		status                    string
		created                   int64
		decided                   sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.RunID, &stepID, &a.TaskID, &status, &a.Title, &a.Body, &a.RequestedBy,
		&decidedBy, &reason, &created, &decided); err != nil {
		return Approval{}, err
	}
	a.StepID = stepID.String
	a.Status = ApprovalStatus(status)
	a.DecidedBy = decidedBy.String
	a.DecisionReason = reason.String
	a.CreatedAt = fromMillis(created)
	a.DecidedAt = fromNullMillis(decided)
	return a, nil
}
