package state_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"walkwatcher/internal/state"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type opener func(t *testing.T, clock *fakeClock) state.Store

// runStoreSuite exercises the behaviour every backend must share.
func runStoreSuite(t *testing.T, open opener) {
	t.Run("LockBusyUntilTTLElapses", func(t *testing.T) {
		clock := newFakeClock()
		store := open(t, clock)
		ctx := context.Background()

		if err := store.TryAcquireLock(ctx, "queue", "a", 10*time.Second); err != nil {
			t.Fatalf("first acquire: %v", err)
		}
		clock.Advance(5 * time.Second)
		if err := store.TryAcquireLock(ctx, "queue", "b", 10*time.Second); !errors.Is(err, state.ErrLockBusy) {
			t.Fatalf("expected busy at t=5, got %v", err)
		}
		clock.Advance(5 * time.Second)
		if err := store.TryAcquireLock(ctx, "queue", "b", 10*time.Second); !errors.Is(err, state.ErrLockBusy) {
			t.Fatalf("expected busy at exactly t=10, got %v", err)
		}
		clock.Advance(1 * time.Second)
		if err := store.TryAcquireLock(ctx, "queue", "b", 10*time.Second); err != nil {
			t.Fatalf("expected success at t=11, got %v", err)
		}

		record, ok, err := store.Lock(ctx, "queue")
		if err != nil || !ok {
			t.Fatalf("Lock: ok=%v err=%v", ok, err)
		}
		if record.Owner != "b" || record.TTL != 10*time.Second {
			t.Fatalf("unexpected lock record: %+v", record)
		}
	})

	t.Run("LocksAreScopedByConfigName", func(t *testing.T) {
		store := open(t, newFakeClock())
		ctx := context.Background()
		if err := store.TryAcquireLock(ctx, "one", "a", time.Minute); err != nil {
			t.Fatalf("acquire one: %v", err)
		}
		if err := store.TryAcquireLock(ctx, "two", "b", time.Minute); err != nil {
			t.Fatalf("acquire two: %v", err)
		}
	})

	t.Run("ReleaseHonoursOwner", func(t *testing.T) {
		store := open(t, newFakeClock())
		ctx := context.Background()
		if err := store.TryAcquireLock(ctx, "queue", "a", time.Minute); err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if err := store.ReleaseLock(ctx, "queue", "someone-else"); err != nil {
			t.Fatalf("release other: %v", err)
		}
		if _, ok, _ := store.Lock(ctx, "queue"); !ok {
			t.Fatal("lock released by a non-owner")
		}
		if err := store.ReleaseLock(ctx, "queue", ""); err != nil {
			t.Fatalf("unconditional release: %v", err)
		}
		if _, ok, _ := store.Lock(ctx, "queue"); ok {
			t.Fatal("expected lock removed")
		}
		if err := store.TryAcquireLock(ctx, "queue", "b", time.Minute); err != nil {
			t.Fatalf("reacquire after release: %v", err)
		}
	})

	t.Run("FirstSeenIsStableAndPruned", func(t *testing.T) {
		clock := newFakeClock()
		store := open(t, clock)
		ctx := context.Background()
		first := clock.Now().Add(-time.Hour)

		runCycle(t, store, "queue", "owner", func(c state.Cycle) {
			mustUpsert(t, c, "/q/a", "/q", first)
			mustUpsert(t, c, "/q/b", "/q", first.Add(time.Minute))
			if err := c.MarkSeen(ctx, []string{"/q/a", "/q/b"}); err != nil {
				t.Fatalf("MarkSeen: %v", err)
			}
		})

		var pruned []string
		runCycle(t, store, "queue", "owner", func(c state.Cycle) {
			if c.Number() != 2 {
				t.Fatalf("expected cycle 2, got %d", c.Number())
			}
			got, ok, err := c.FirstSeen(ctx, "/q/a")
			if err != nil || !ok {
				t.Fatalf("FirstSeen: ok=%v err=%v", ok, err)
			}
			if !got.Equal(first) {
				t.Fatalf("first seen changed: got %v want %v", got, first)
			}
			mustUpsert(t, c, "/q/a", "/q", clock.Now())
			if err := c.MarkSeen(ctx, []string{"/q/a"}); err != nil {
				t.Fatalf("MarkSeen: %v", err)
			}
			var err2 error
			pruned, err2 = c.PruneUnseen(ctx)
			if err2 != nil {
				t.Fatalf("PruneUnseen: %v", err2)
			}
		})

		if len(pruned) != 1 || pruned[0] != "/q/b" {
			t.Fatalf("expected /q/b pruned, got %v", pruned)
		}
		files, err := store.TrackedFiles(ctx, "queue")
		if err != nil {
			t.Fatalf("TrackedFiles: %v", err)
		}
		if len(files) != 1 || files[0].Path != "/q/a" || !files[0].FirstSeenAt.Equal(first) || files[0].LastSeenCycle != 2 {
			t.Fatalf("unexpected tracked files: %+v", files)
		}
	})

	t.Run("CommitFailsWhenLockLost", func(t *testing.T) {
		clock := newFakeClock()
		store := open(t, clock)
		ctx := context.Background()

		if err := store.TryAcquireLock(ctx, "queue", "owner", 10*time.Second); err != nil {
			t.Fatalf("acquire: %v", err)
		}
		cycle, err := store.Begin(ctx, "queue", "owner")
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		mustUpsert(t, cycle, "/q/a", "/q", clock.Now())
		clock.Advance(11 * time.Second)
		if err := cycle.Commit(ctx); !errors.Is(err, state.ErrLockLost) {
			t.Fatalf("expected ErrLockLost, got %v", err)
		}
		if err := cycle.Rollback(); err != nil {
			t.Fatalf("Rollback after failed commit: %v", err)
		}
		files, err := store.TrackedFiles(ctx, "queue")
		if err != nil {
			t.Fatalf("TrackedFiles: %v", err)
		}
		if len(files) != 0 {
			t.Fatalf("expected no committed files, got %+v", files)
		}
	})

	t.Run("TrackedFilesAreScopedAndOrdered", func(t *testing.T) {
		store := open(t, newFakeClock())
		ctx := context.Background()
		now := time.Unix(1_700_000_000, 0)
		runCycle(t, store, "one", "owner", func(c state.Cycle) {
			mustUpsert(t, c, "/q/z/file", "/q/z", now)
			mustUpsert(t, c, "/q/a/file2", "/q/a", now)
			mustUpsert(t, c, "/q/a/file1", "/q/a", now)
		})
		runCycle(t, store, "two", "owner", func(c state.Cycle) {
			mustUpsert(t, c, "/other", "/", now)
		})

		files, err := store.TrackedFiles(ctx, "one")
		if err != nil {
			t.Fatalf("TrackedFiles: %v", err)
		}
		paths := make([]string, 0, len(files))
		for _, f := range files {
			paths = append(paths, f.Path)
		}
		want := []string{"/q/a/file1", "/q/a/file2", "/q/z/file"}
		if !sort.StringsAreSorted(paths) || len(paths) != len(want) {
			t.Fatalf("unexpected paths: %v", paths)
		}
		for i := range want {
			if paths[i] != want[i] {
				t.Fatalf("unexpected paths: %v", paths)
			}
		}
	})
}

func runCycle(t *testing.T, store state.Store, configName, owner string, fn func(state.Cycle)) {
	t.Helper()
	ctx := context.Background()
	if err := store.TryAcquireLock(ctx, configName, owner, time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer func() {
		if err := store.ReleaseLock(ctx, configName, owner); err != nil {
			t.Fatalf("release: %v", err)
		}
	}()
	cycle, err := store.Begin(ctx, configName, owner)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer cycle.Rollback()
	fn(cycle)
	if err := cycle.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func mustUpsert(t *testing.T, c state.Cycle, path, dir string, ts time.Time) {
	t.Helper()
	if err := c.UpsertFirstSeen(context.Background(), path, dir, ts); err != nil {
		t.Fatalf("UpsertFirstSeen(%s): %v", path, err)
	}
}
