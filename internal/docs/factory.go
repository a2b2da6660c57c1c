package docs

import (
	"context"
	"strings"

	"github.com/ent0n29/clawboard/internal/store"
)

const (
	ModePostgres = "postgres"
	ModeSQLite   = "sqlite"
	ModeInMemory = "in-memory"
)

// NewStore picks a backend: postgres when databaseURL is set, otherwise the
// main sqlite database when db is non-nil, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string, db *store.DB) (Store, string, error) {
	if strings.TrimSpace(databaseURL) != "" {
		st, err := NewPostgresStore(ctx, databaseURL)
		if err != nil {
			return nil, "", err
		}
		return st, ModePostgres, nil
	}
	if db != nil {
		return NewSQLiteStore(db), ModeSQLite, nil
	}
	return NewInMemoryStore(), ModeInMemory, nil
}
