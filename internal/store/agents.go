package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const agentColumns = `id, external_id, display_name, enabled, position, created_at`

// UpsertAgent inserts the agent or updates it in place when the id exists.
// An empty id gets a fresh uuid.
func (d *DB) UpsertAgent(ctx context.Context, a Agent) (Agent, error) {
	a.DisplayName = strings.TrimSpace(a.DisplayName)
	a.ExternalID = strings.TrimSpace(a.ExternalID)
	if a.DisplayName == "" {
		return Agent{}, invalidf("agent display name is required")
	}
	if strings.TrimSpace(a.ID) == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = d.Now()
	}
	err := d.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				external_id = excluded.external_id,
				display_name = excluded.display_name,
				enabled = excluded.enabled,
				position = excluded.position`,
			a.ID, a.ExternalID, a.DisplayName, boolToInt(a.Enabled), a.Position, toMillis(a.CreatedAt),
		)
		return err
	})
	if err != nil {
		return Agent{}, fmt.Errorf("upsert agent: %w", err)
	}
	return d.GetAgent(ctx, a.ID)
}

func (d *DB) GetAgent(ctx context.Context, id string) (Agent, error) {
	return scanAgent(d.sql.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
}

// FirstEnabledAgent returns the enabled agent with the lowest position.
func (d *DB) FirstEnabledAgent(ctx context.Context) (Agent, error) {
	return scanAgent(d.sql.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE enabled = 1 ORDER BY position ASC, created_at ASC LIMIT 1`))
}

func (d *DB) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY position ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	out := make([]Agent, 0, 8)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (Agent, error) {
	var (
		a       Agent
		enabled int
		created int64
	)
	err := row.Scan(&a.ID, &a.ExternalID, &a.DisplayName, &enabled, &a.Position, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("scan agent: %w", err)
	}
	a.Enabled = enabled != 0
	a.CreatedAt = fromMillis(created)
	return a, nil
}
