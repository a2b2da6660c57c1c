package docs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ent0n29/clawboard/internal/store"
)

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := st.Get(ctx, KeyChangelog); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get() missing error = %v, want ErrNotFound", err)
	}
	if err := st.Append(ctx, KeyChangelog, "- first\n"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := st.Append(ctx, KeyChangelog, "- second\n"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	doc, err := st.Get(ctx, KeyChangelog)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc.Content != "- first\n- second\n" {
		t.Fatalf("content = %q", doc.Content)
	}

	if err := st.Put(ctx, NarrativeKey("default"), "fresh"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	list, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].Key != "board:default:narrative" || list[1].Key != KeyChangelog {
		t.Fatalf("List() = %+v", list)
	}
}

func TestInMemoryStore(t *testing.T) {
	exerciseStore(t, NewInMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()
	exerciseStore(t, NewSQLiteStore(db))
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("CLAWBOARD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CLAWBOARD_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	st, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	defer st.Close()
	if _, err := st.pool.Exec(ctx, `DELETE FROM collab_docs`); err != nil {
		t.Fatalf("reset error = %v", err)
	}
	exerciseStore(t, st)
}

func TestNewStoreSelectsBackend(t *testing.T) {
	st, mode, err := NewStore(context.Background(), "", nil)
	if err != nil || mode != ModeInMemory {
		t.Fatalf("NewStore() = %T, %q, %v", st, mode, err)
	}
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()
	if _, mode, _ := NewStore(context.Background(), "  ", db); mode != ModeSQLite {
		t.Fatalf("mode = %q, want %q", mode, ModeSQLite)
	}
}
