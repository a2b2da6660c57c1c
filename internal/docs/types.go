package docs

import (
	"context"
	"fmt"

	"github.com/ent0n29/clawboard/internal/store"
)

// Store holds the collaborator documents that completion summaries are
// appended to. Missing keys report store.ErrNotFound.
type Store interface {
	Get(ctx context.Context, key string) (store.Doc, error)
	Put(ctx context.Context, key, content string) error
	Append(ctx context.Context, key, entry string) error
	List(ctx context.Context) ([]store.Doc, error)
	Close() error
}

const (
	KeyChangelog = "changelog"
	KeyMemory    = "memory"
)

// NarrativeKey is the per-board narrative document.
func NarrativeKey(boardID string) string {
	return fmt.Sprintf("board:%s:narrative", boardID)
}
