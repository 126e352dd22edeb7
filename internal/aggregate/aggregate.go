// Package aggregate reconciles one directory walk against the state store and
// turns it into per-directory metrics.
package aggregate

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"time"

	"walkwatcher/internal/logging"
	"walkwatcher/internal/scan"
	"walkwatcher/internal/state"
)

// Policy selects how a first-seen timestamp is chosen for a new path.
type Policy int

const (
	// PolicyCreated uses the file's creation time.
	PolicyCreated Policy = iota
	// PolicyObserved uses the time the file was first observed by a cycle.
	PolicyObserved
)

func (p Policy) String() string {
	if p == PolicyObserved {
		return "observed"
	}
	return "created"
}

// PolicyFor maps the treat_files_as_new setting to a Policy.
func PolicyFor(treatFilesAsNew bool) Policy {
	if treatFilesAsNew {
		return PolicyObserved
	}
	return PolicyCreated
}

// DirectoryMetric summarizes one directory for one cycle. HasOldest is false
// for a directory with no files, which is distinct from an age of zero.
type DirectoryMetric struct {
	Root             string
	Directory        string
	FileCount        int
	OldestAgeSeconds int64
	HasOldest        bool
}

// Result is the outcome of one Reconcile call.
type Result struct {
	Metrics  []DirectoryMetric
	Observed int
	Pruned   []string
	Warnings []scan.ScanWarning
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger routes aggregation diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Aggregator is stateless between cycles; everything durable lives in the
// state.Cycle passed to Reconcile.
type Aggregator struct {
	policy Policy
	now    func() time.Time
	logger *slog.Logger
}

// New builds an Aggregator.
func New(policy Policy, opts ...Option) *Aggregator {
	a := &Aggregator{policy: policy, now: time.Now, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.NewComponentLogger(a.logger, "aggregate")
	return a
}

type bucket struct {
	root      string
	files     int
	oldest    time.Time
	hasOldest bool
}

// Reconcile consumes entries, records first-seen timestamps through cycle,
// prunes tracked files that were not observed, and returns one metric per
// walked directory sorted by directory path. The caller commits cycle.
func (a *Aggregator) Reconcile(ctx context.Context, cycle state.Cycle, entries iter.Seq[scan.Entry]) (Result, error) {
	now := a.now()
	buckets := make(map[string]*bucket)
	seen := make(map[string]struct{})
	var paths []string

	get := func(root, dir string) *bucket {
		b, ok := buckets[dir]
		if !ok {
			b = &bucket{root: root}
			buckets[dir] = b
		}
		return b
	}

	for entry := range entries {
		if entry.IsDir {
			get(entry.Root, entry.Directory)
			continue
		}
		obs := entry.File
		if _, dup := seen[obs.Path]; dup {
			continue
		}
		seen[obs.Path] = struct{}{}
		paths = append(paths, obs.Path)

		firstSeen, err := a.firstSeen(ctx, cycle, obs, now)
		if err != nil {
			return Result{}, err
		}
		b := get(obs.Root, obs.Directory)
		b.files++
		if !b.hasOldest || firstSeen.Before(b.oldest) {
			b.oldest = firstSeen
			b.hasOldest = true
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if err := cycle.MarkSeen(ctx, paths); err != nil {
		return Result{}, err
	}
	pruned, err := cycle.PruneUnseen(ctx)
	if err != nil {
		return Result{}, err
	}

	metrics := make([]DirectoryMetric, 0, len(buckets))
	for dir, b := range buckets {
		m := DirectoryMetric{Root: b.root, Directory: dir, FileCount: b.files}
		if b.hasOldest {
			m.HasOldest = true
			m.OldestAgeSeconds = max(int64(now.Sub(b.oldest)/time.Second), 0)
		}
		metrics = append(metrics, m)
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Directory < metrics[j].Directory })

	a.logger.Debug("cycle reconciled",
		logging.Int64(logging.FieldCycle, cycle.Number()),
		logging.Int("files", len(paths)),
		logging.Int("directories", len(metrics)),
		logging.Int("pruned", len(pruned)),
	)
	return Result{Metrics: metrics, Observed: len(paths), Pruned: pruned}, nil
}

func (a *Aggregator) firstSeen(ctx context.Context, cycle state.Cycle, obs scan.Observation, now time.Time) (time.Time, error) {
	ts, ok, err := cycle.FirstSeen(ctx, obs.Path)
	if err != nil {
		return time.Time{}, fmt.Errorf("first seen %s: %w", obs.Path, err)
	}
	if ok {
		return ts, nil
	}
	ts = now
	if a.policy == PolicyCreated && !obs.CreatedAt.IsZero() {
		ts = obs.CreatedAt
	}
	// Stored at second precision; truncate so this cycle agrees with the next.
	ts = ts.Truncate(time.Second)
	if err := cycle.UpsertFirstSeen(ctx, obs.Path, obs.Directory, ts); err != nil {
		return time.Time{}, err
	}
	return ts, nil
}
