package docs

import (
	"context"

	"github.com/ent0n29/clawboard/internal/store"
)

// SQLiteStore keeps documents in the main board database. Close is a no-op
// because the database is owned by the caller.
type SQLiteStore struct {
	db *store.DB
}

func NewSQLiteStore(db *store.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (store.Doc, error) {
	return s.db.GetDoc(ctx, key)
}

func (s *SQLiteStore) Put(ctx context.Context, key, content string) error {
	return s.db.PutDoc(ctx, key, content)
}

func (s *SQLiteStore) Append(ctx context.Context, key, entry string) error {
	return s.db.AppendDoc(ctx, key, entry)
}

func (s *SQLiteStore) List(ctx context.Context) ([]store.Doc, error) {
	return s.db.ListDocs(ctx)
}

func (s *SQLiteStore) Close() error { return nil }
