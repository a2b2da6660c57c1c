package docs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/clawboard/internal/store"
)

// PostgresStore shares collaborator documents through PostgreSQL so several
// boards can write to the same changelog.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS collab_docs (
			key TEXT PRIMARY KEY,
			content TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (store.Doc, error) {
	var doc store.Doc
	err := s.pool.QueryRow(ctx,
		`SELECT key, content, updated_at FROM collab_docs WHERE key = $1`, key,
	).Scan(&doc.Key, &doc.Content, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Doc{}, store.ErrNotFound
	}
	if err != nil {
		return store.Doc{}, fmt.Errorf("get doc: %w", err)
	}
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return doc, nil
}

func (s *PostgresStore) Put(ctx context.Context, key, content string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO collab_docs (key, content, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET content = EXCLUDED.content, updated_at = now()`,
		key, content,
	)
	if err != nil {
		return fmt.Errorf("put doc: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, key, entry string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO collab_docs (key, content, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET content = collab_docs.content || EXCLUDED.content, updated_at = now()`,
		key, entry,
	)
	if err != nil {
		return fmt.Errorf("append doc: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]store.Doc, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, content, updated_at FROM collab_docs ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	defer rows.Close()

	out := make([]store.Doc, 0, 8)
	for rows.Next() {
		var doc store.Doc
		if err := rows.Scan(&doc.Key, &doc.Content, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan doc: %w", err)
		}
		doc.UpdatedAt = doc.UpdatedAt.UTC()
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate docs: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
