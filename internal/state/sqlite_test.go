package state_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"walkwatcher/internal/state"
)

func TestSQLiteMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, clock *fakeClock) state.Store {
		store, err := state.OpenSQLite(context.Background(), ":memory:", state.WithClock(clock.Now))
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestSQLiteFileStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, clock *fakeClock) state.Store {
		path := filepath.Join(t.TempDir(), "nested", "watcher.db")
		store, err := state.Open(context.Background(), path, state.WithClock(clock.Now))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestSQLiteStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watcher.db")
	ctx := context.Background()
	first := time.Unix(1_699_999_000, 0)

	store, err := state.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	runCycle(t, store, "queue", "owner", func(c state.Cycle) {
		mustUpsert(t, c, "/q/a", "/q", first)
	})
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := state.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	files, err := reopened.TrackedFiles(ctx, "queue")
	if err != nil {
		t.Fatalf("TrackedFiles: %v", err)
	}
	if len(files) != 1 || !files[0].FirstSeenAt.Equal(first) {
		t.Fatalf("expected persisted first seen, got %+v", files)
	}
}

func TestSQLiteSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watcher.db")
	ctx := context.Background()

	store, err := state.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := state.OpenSQLite(ctx, path); !errors.Is(err, state.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestSQLiteOpenFailsForUnusablePath(t *testing.T) {
	dir := t.TempDir()
	if _, err := state.OpenSQLite(context.Background(), dir); err == nil {
		t.Fatal("expected error opening a directory as a database")
	}
}

func TestSQLiteTwoOwnersShareFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()
	a, err := state.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	b, err := state.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()

	if err := a.TryAcquireLock(ctx, "queue", "a", time.Minute); err != nil {
		t.Fatalf("a acquire: %v", err)
	}
	if err := b.TryAcquireLock(ctx, "queue", "b", time.Minute); !errors.Is(err, state.ErrLockBusy) {
		t.Fatalf("expected b busy, got %v", err)
	}
}

func TestSQLiteAcquireDuringOpenCycleReportsBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()
	a, err := state.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	b, err := state.OpenSQLite(ctx, path, state.WithBusyTimeout(100*time.Millisecond))
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()

	if err := a.TryAcquireLock(ctx, "queue", "a", time.Minute); err != nil {
		t.Fatalf("a acquire: %v", err)
	}
	cycle, err := a.Begin(ctx, "queue", "a")
	if err != nil {
		t.Fatalf("a begin: %v", err)
	}
	defer cycle.Rollback()

	start := time.Now()
	err = b.TryAcquireLock(ctx, "queue", "b", time.Minute)
	if !errors.Is(err, state.ErrLockBusy) {
		t.Fatalf("expected b busy while a holds the write lock, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("b waited %s instead of skipping", elapsed)
	}

	if err := cycle.Commit(ctx); err != nil {
		t.Fatalf("a commit: %v", err)
	}
	if err := b.TryAcquireLock(ctx, "queue", "b", time.Minute); !errors.Is(err, state.ErrLockBusy) {
		t.Fatalf("expected b busy after a committed, got %v", err)
	}
}
