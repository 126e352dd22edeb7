package aggregate_test

import (
	"context"
	"iter"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"walkwatcher/internal/aggregate"
	"walkwatcher/internal/scan"
	"walkwatcher/internal/state"
)

var base = time.Unix(1_700_000_000, 0)

func openStore(t *testing.T) state.Store {
	t.Helper()
	store, err := state.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func file(root, path string, created time.Time) scan.Entry {
	return scan.Entry{
		Root:      root,
		Directory: filepath.Dir(path),
		File: scan.Observation{
			Path:       path,
			Directory:  filepath.Dir(path),
			Root:       root,
			CreatedAt:  created,
			ModifiedAt: created,
		},
	}
}

func dir(root, path string) scan.Entry {
	return scan.Entry{Root: root, Directory: path, IsDir: true}
}

func reconcile(t *testing.T, store state.Store, agg *aggregate.Aggregator, entries ...scan.Entry) aggregate.Result {
	t.Helper()
	ctx := context.Background()
	if err := store.TryAcquireLock(ctx, "queue", "owner", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer func() { _ = store.ReleaseLock(ctx, "queue", "owner") }()
	cycle, err := store.Begin(ctx, "queue", "owner")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer cycle.Rollback()
	res, err := agg.Reconcile(ctx, cycle, slices.Values(entries))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if err := cycle.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return res
}

func TestCreatedPolicyUsesCreationTime(t *testing.T) {
	store := openStore(t)
	agg := aggregate.New(aggregate.PolicyCreated, aggregate.WithClock(func() time.Time { return base }))

	res := reconcile(t, store, agg,
		dir("/q", "/q"),
		file("/q", "/q/a", base.Add(-10*time.Second)),
		file("/q", "/q/b", base.Add(-5*time.Second)),
		file("/q", "/q/c", base.Add(-1*time.Second)),
	)
	if len(res.Metrics) != 1 {
		t.Fatalf("expected one directory metric, got %+v", res.Metrics)
	}
	m := res.Metrics[0]
	if m.FileCount != 3 || !m.HasOldest || m.OldestAgeSeconds != 10 {
		t.Fatalf("unexpected metric: %+v", m)
	}
	if res.Observed != 3 {
		t.Fatalf("expected 3 observed, got %d", res.Observed)
	}
}

func TestObservedPolicyIgnoresCreationTime(t *testing.T) {
	store := openStore(t)
	now := base
	agg := aggregate.New(aggregate.PolicyObserved, aggregate.WithClock(func() time.Time { return now }))

	res := reconcile(t, store, agg, file("/q", "/q/a", base.Add(-time.Hour)))
	if got := res.Metrics[0].OldestAgeSeconds; got != 0 {
		t.Fatalf("expected age 0 on first observation, got %d", got)
	}

	now = base.Add(30 * time.Second)
	res = reconcile(t, store, agg, file("/q", "/q/a", base.Add(-time.Hour)))
	if got := res.Metrics[0].OldestAgeSeconds; got != 30 {
		t.Fatalf("expected age 30 after 30s, got %d", got)
	}
}

func TestFirstSeenStableAndPruned(t *testing.T) {
	store := openStore(t)
	now := base
	agg := aggregate.New(aggregate.PolicyCreated, aggregate.WithClock(func() time.Time { return now }))

	reconcile(t, store, agg,
		file("/q", "/q/in/a", base.Add(-20*time.Second)),
		file("/q", "/q/in/b", base.Add(-2*time.Second)),
	)
	before, err := store.TrackedFiles(context.Background(), "queue")
	if err != nil {
		t.Fatalf("TrackedFiles: %v", err)
	}

	// /q/in/a is reported with a different creation time; first seen must not move.
	now = base.Add(5 * time.Second)
	res := reconcile(t, store, agg, file("/q", "/q/in/a", base))
	if len(res.Pruned) != 1 || res.Pruned[0] != "/q/in/b" {
		t.Fatalf("expected /q/in/b pruned, got %v", res.Pruned)
	}
	if got := res.Metrics[0].OldestAgeSeconds; got != 25 {
		t.Fatalf("expected age 25, got %d", got)
	}

	after, err := store.TrackedFiles(context.Background(), "queue")
	if err != nil {
		t.Fatalf("TrackedFiles: %v", err)
	}
	if len(after) != 1 || after[0].Path != "/q/in/a" || !after[0].FirstSeenAt.Equal(before[0].FirstSeenAt) {
		t.Fatalf("unexpected tracked files: before=%+v after=%+v", before, after)
	}
}

func TestEmptyDirectoriesReportZero(t *testing.T) {
	store := openStore(t)
	agg := aggregate.New(aggregate.PolicyCreated, aggregate.WithClock(func() time.Time { return base }))

	res := reconcile(t, store, agg,
		dir("/q", "/q"),
		dir("/q", "/q/empty"),
		file("/q", "/q/full/a", base.Add(-3*time.Second)),
	)
	want := []aggregate.DirectoryMetric{
		{Root: "/q", Directory: "/q", FileCount: 0},
		{Root: "/q", Directory: "/q/empty", FileCount: 0},
		{Root: "/q", Directory: "/q/full", FileCount: 1, OldestAgeSeconds: 3, HasOldest: true},
	}
	if !slices.Equal(res.Metrics, want) {
		t.Fatalf("unexpected metrics:\n got %+v\nwant %+v", res.Metrics, want)
	}
}

func TestDeterministicAcrossOrderAndDuplicates(t *testing.T) {
	entries := []scan.Entry{
		file("/q", "/q/b/2", base.Add(-7*time.Second)),
		file("/q", "/q/a/1", base.Add(-4*time.Second)),
		file("/q", "/q/b/1", base.Add(-9*time.Second)),
	}
	reversed := slices.Clone(entries)
	slices.Reverse(reversed)
	reversed = append(reversed, entries[0])

	clock := aggregate.WithClock(func() time.Time { return base })
	first := reconcile(t, openStore(t), aggregate.New(aggregate.PolicyCreated, clock), entries...)
	second := reconcile(t, openStore(t), aggregate.New(aggregate.PolicyCreated, clock), reversed...)
	if !slices.Equal(first.Metrics, second.Metrics) {
		t.Fatalf("metrics depend on order:\n%+v\n%+v", first.Metrics, second.Metrics)
	}
	if second.Observed != 3 {
		t.Fatalf("duplicate path counted twice: observed=%d", second.Observed)
	}
}

func TestFutureCreationTimeClampsToZero(t *testing.T) {
	store := openStore(t)
	agg := aggregate.New(aggregate.PolicyCreated, aggregate.WithClock(func() time.Time { return base }))
	res := reconcile(t, store, agg, file("/q", "/q/a", base.Add(time.Hour)))
	if m := res.Metrics[0]; m.OldestAgeSeconds != 0 || !m.HasOldest {
		t.Fatalf("expected clamped age, got %+v", m)
	}
}

func TestCancelledContextAbortsBeforePrune(t *testing.T) {
	store := openStore(t)
	agg := aggregate.New(aggregate.PolicyCreated)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.TryAcquireLock(context.Background(), "queue", "owner", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	cycle, err := store.Begin(context.Background(), "queue", "owner")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer cycle.Rollback()
	var none iter.Seq[scan.Entry] = func(func(scan.Entry) bool) {}
	if _, err := agg.Reconcile(ctx, cycle, none); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
