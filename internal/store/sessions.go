package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const sessionSelect = `SELECT id, task_id, agent_id, session_key, status, last_run_id, created_at, updated_at FROM task_sessions`

func (d *DB) GetSession(ctx context.Context, taskID string) (TaskSession, error) {
	return getSession(ctx, d.sql, taskID)
}

func getSession(ctx context.Context, q queryer, taskID string) (TaskSession, error) {
	sess, err := scanSession(q.QueryRowContext(ctx, sessionSelect+` WHERE task_id = ?`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return TaskSession{}, ErrNotFound
	}
	if err != nil {
		return TaskSession{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// EnsureSession returns the task's session, creating it with sessionKey when
// absent. A non-empty agentID rebinds the session when it differs from the
// stored agent. changed reports whether a row was inserted or rebound.
func (d *DB) EnsureSession(ctx context.Context, taskID, agentID, sessionKey string) (sess TaskSession, changed bool, err error) {
	err = d.Write(ctx, func(tx *sql.Tx) error {
		if _, err := getTask(ctx, tx, taskID); err != nil {
			return err
		}
		now := toMillis(d.Now())
		existing, err := getSession(ctx, tx, taskID)
		switch {
		case errors.Is(err, ErrNotFound):
			_, err = tx.ExecContext(ctx,
				`INSERT INTO task_sessions (id, task_id, agent_id, session_key, status, last_run_id, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
				uuid.NewString(), taskID, nullString(agentID), sessionKey, string(SessionStatusIdle), now, now,
			)
			if err != nil {
				return err
			}
			changed = true
		case err != nil:
			return err
		case agentID != "" && agentID != existing.AgentID:
			if _, err := tx.ExecContext(ctx,
				`UPDATE task_sessions SET agent_id = ?, updated_at = ? WHERE task_id = ?`,
				agentID, now, taskID,
			); err != nil {
				return err
			}
			changed = true
		default:
			sess = existing
			return nil
		}
		sess, err = getSession(ctx, tx, taskID)
		return err
	})
	if err != nil {
		return TaskSession{}, false, fmt.Errorf("ensure session: %w", err)
	}
	return sess, changed, nil
}

// SetSessionStatus moves the session between idle and running. A non-empty
// lastRunID is recorded at the same time.
func (d *DB) SetSessionStatus(ctx context.Context, taskID string, status SessionStatus, lastRunID string) error {
	err := d.Write(ctx, func(tx *sql.Tx) error {
		query := `UPDATE task_sessions SET status = ?, updated_at = ? WHERE task_id = ?`
		args := []any{string(status), toMillis(d.Now()), taskID}
		if lastRunID != "" {
			query = `UPDATE task_sessions SET status = ?, updated_at = ?, last_run_id = ? WHERE task_id = ?`
			args = []any{string(status), toMillis(d.Now()), lastRunID, taskID}
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	return nil
}

func scanSession(row rowScanner) (TaskSession, error) {
	var (
		s                TaskSession
		agentID, lastRun sql.NullString
		status           string
		created, updated int64
	)
	if err := row.Scan(&s.ID, &s.TaskID, &agentID, &s.SessionKey, &status, &lastRun, &created, &updated); err != nil {
		return TaskSession{}, err
	}
	s.AgentID = agentID.String
	s.LastRunID = lastRun.String
	s.Status = SessionStatus(status)
	s.CreatedAt = fromMillis(created)
	s.UpdatedAt = fromMillis(updated)
	return s, nil
}
