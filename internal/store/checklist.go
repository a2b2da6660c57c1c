package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func (d *DB) ListChecklist(ctx context.Context, taskID string) ([]ChecklistItem, error) {
	return listChecklist(ctx, d.sql, taskID)
}

func listChecklist(ctx context.Context, q queryer, taskID string) ([]ChecklistItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, task_id, position, text, state, created_at FROM checklist_items
		WHERE task_id = ? ORDER BY position ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list checklist: %w", err)
	}
	defer rows.Close()

	out := make([]ChecklistItem, 0, 8)
	for rows.Next() {
		var (
			item    ChecklistItem
			state   string
			created int64
		)
		if err := rows.Scan(&item.ID, &item.TaskID, &item.Position, &item.Text, &state, &created); err != nil {
			return nil, fmt.Errorf("scan checklist item: %w", err)
		}
		item.State = ChecklistState(state)
		item.CreatedAt = fromMillis(created)
		out = append(out, item)
	}
	return out, rows.Err()
}

// ReplaceChecklist deletes every checklist item of the task and inserts items
// in order. An item's position is its slice index; blank texts are skipped
// without renumbering the rest, and an unknown state becomes todo.
func (d *DB) ReplaceChecklist(ctx context.Context, taskID string, items []NewChecklistItem) ([]ChecklistItem, error) {
	var out []ChecklistItem
	err := d.Write(ctx, func(tx *sql.Tx) error {
		if _, err := getTask(ctx, tx, taskID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM checklist_items WHERE task_id = ?`, taskID); err != nil {
			return err
		}
		now := toMillis(d.Now())
		for position, item := range items {
			text := strings.TrimSpace(item.Text)
			if text == "" {
				continue
			}
			state := item.State
			if !state.Valid() {
				state = ChecklistStateTodo
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO checklist_items (id, task_id, position, text, state, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
				uuid.NewString(), taskID, position, text, string(state), now,
			); err != nil {
				return err
			}
		}
		var err error
		out, err = listChecklist(ctx, tx, taskID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("replace checklist: %w", err)
	}
	return out, nil
}
