package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const taskSelect = `SELECT t.id, t.board_id, b.workspace_id, t.title, t.description, t.status, t.position, t.created_at, t.updated_at
	FROM tasks t JOIN boards b ON b.id = t.board_id`

type NewTask struct {
	BoardID     string
	Title       string
	Description string
	Status      TaskStatus
	Position    *int
}

func (d *DB) CreateTask(ctx context.Context, in NewTask) (Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return Task{}, invalidf("task title is required")
	}
	if strings.TrimSpace(in.BoardID) == "" {
		in.BoardID = DefaultBoardID
	}
	if in.Status == "" {
		in.Status = TaskStatusIdeas
	}
	if !in.Status.Valid() {
		return Task{}, invalidf("invalid task status %q", in.Status)
	}

	id := uuid.NewString()
	now := d.Now()
	err := d.Write(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM boards WHERE id = ?`, in.BoardID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		position := 0
		if in.Position != nil {
			position = *in.Position
		} else if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM tasks WHERE board_id = ? AND status = ?`,
			in.BoardID, string(in.Status),
		).Scan(&position); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, board_id, title, description, status, position, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, in.BoardID, in.Title, in.Description, string(in.Status), position, toMillis(now), toMillis(now),
		)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return Task{}, fmt.Errorf("board %s: %w", in.BoardID, ErrNotFound)
	}
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return d.GetTask(ctx, id)
}

func (d *DB) GetTask(ctx context.Context, id string) (Task, error) {
	return getTask(ctx, d.sql, id)
}

func getTask(ctx context.Context, q queryer, id string) (Task, error) {
	task, err := scanTask(q.QueryRowContext(ctx, taskSelect+` WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks ordered by status column and position. Empty
// filters match everything.
func (d *DB) ListTasks(ctx context.Context, boardID string, status TaskStatus) ([]Task, error) {
	query := taskSelect + ` WHERE 1 = 1`
	args := make([]any, 0, 2)
	if boardID != "" {
		query += ` AND t.board_id = ?`
		args = append(args, boardID)
	}
	if status != "" {
		query += ` AND t.status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY t.status ASC, t.position ASC, t.created_at ASC`

	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, 16)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// UpdateTask applies patch and returns the task as it was before and after.
func (d *DB) UpdateTask(ctx context.Context, id string, patch TaskPatch) (Task, Task, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return Task{}, Task{}, invalidf("task title must not be empty")
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return Task{}, Task{}, invalidf("invalid task status %q", *patch.Status)
	}

	var prev, next Task
	err := d.Write(ctx, func(tx *sql.Tx) error {
		var err error
		prev, err = getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		next = prev
		if patch.Title != nil {
			next.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			next.Description = *patch.Description
		}
		if patch.Status != nil {
			next.Status = *patch.Status
		}
		if patch.Position != nil {
			next.Position = *patch.Position
		}
		next.UpdatedAt = d.Now()
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET title = ?, description = ?, status = ?, position = ?, updated_at = ? WHERE id = ?`,
			next.Title, next.Description, string(next.Status), next.Position, toMillis(next.UpdatedAt), id,
		)
		return err
	})
	if err != nil {
		return Task{}, Task{}, fmt.Errorf("update task: %w", err)
	}
	return prev, next, nil
}

// DeleteTask removes the task and, through cascades, its session, runs,
// approvals and checklist.
func (d *DB) DeleteTask(ctx context.Context, id string) error {
	err := d.Write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
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
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func scanTask(row rowScanner) (Task, error) {
	var (
		t                Task
		status           string
		created, updated int64
	)
	if err := row.Scan(&t.ID, &t.BoardID, &t.WorkspaceID, &t.Title, &t.Description, &status, &t.Position, &created, &updated); err != nil {
		return Task{}, err
	}
	t.Status = TaskStatus(status)
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	return t, nil
}
