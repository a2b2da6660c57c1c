package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (d *DB) GetDoc(ctx context.Context, key string) (Doc, error) {
	var (
		doc     Doc
		updated int64
	)
	err := d.sql.QueryRowContext(ctx, `SELECT key, content, updated_at FROM docs WHERE key = ?`, key).
		Scan(&doc.Key, &doc.Content, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Doc{}, ErrNotFound
	}
	if err != nil {
		return Doc{}, fmt.Errorf("get doc: %w", err)
	}
	doc.UpdatedAt = fromMillis(updated)
	return doc, nil
}

func (d *DB) PutDoc(ctx context.Context, key, content string) error {
	err := d.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO docs (key, content, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
			key, content, toMillis(d.Now()),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("put doc: %w", err)
	}
	return nil
}

// AppendDoc appends entry to the document, creating it when missing.
func (d *DB) AppendDoc(ctx context.Context, key, entry string) error {
	err := d.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO docs (key, content, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET content = docs.content || excluded.content, updated_at = excluded.updated_at`,
			key, entry, toMillis(d.Now()),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append doc: %w", err)
	}
	return nil
}

func (d *DB) ListDocs(ctx context.Context) ([]Doc, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT key, content, updated_at FROM docs ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	defer rows.Close()

	out := make([]Doc, 0, 8)
	for rows.Next() {
		var (
			doc     Doc
			updated int64
		)
		if err := rows.Scan(&doc.Key, &doc.Content, &updated); err != nil {
			return nil, fmt.Errorf("scan doc: %w", err)
		}
		doc.UpdatedAt = fromMillis(updated)
		out = append(out, doc)
	}
	return out, rows.Err()
}
