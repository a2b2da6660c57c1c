package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const DefaultBoardID = "default"

func (d *DB) CreateBoard(ctx context.Context, workspaceID, name string) (Board, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Board{}, invalidf("board name is required")
	}
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		workspaceID = "default"
	}
	b := Board{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        name,
		CreatedAt:   d.Now(),
	}
	err := d.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO boards (id, workspace_id, name, created_at) VALUES (?, ?, ?, ?)`,
			b.ID, b.WorkspaceID, b.Name, toMillis(b.CreatedAt),
		)
		return err
	})
	if err != nil {
		return Board{}, fmt.Errorf("insert board: %w", err)
	}
	return b, nil
}

func (d *DB) GetBoard(ctx context.Context, id string) (Board, error) {
	var (
		b       Board
		created int64
	)
	err := d.sql.QueryRowContext(ctx,
		`SELECT id, workspace_id, name, created_at FROM boards WHERE id = ?`, id,
	).Scan(&b.ID, &b.WorkspaceID, &b.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Board{}, ErrNotFound
	}
	if err != nil {
		return Board{}, fmt.Errorf("get board: %w", err)
	}
	b.CreatedAt = fromMillis(created)
	return b, nil
}

func (d *DB) ListBoards(ctx context.Context) ([]Board, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, workspace_id, name, created_at FROM boards ORDER BY created_at ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	out := make([]Board, 0, 4)
	for rows.Next() {
		var (
			b       Board
			created int64
		)
		if err := rows.Scan(&b.ID, &b.WorkspaceID, &b.Name, &created); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		b.CreatedAt = fromMillis(created)
		out = append(out, b)
	}
	return out, rows.Err()
}
