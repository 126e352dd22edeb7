// Package state persists first-seen timestamps and the run lock.
//
// A Store is opened once at startup and closed at shutdown. Lock records and
// tracked files are keyed by config name so several watch targets can share
// one database. All tracked-file mutations for a collection cycle happen
// inside one Cycle, whose Commit succeeds only while the caller still owns an
// unexpired lock.
//
// Two backends implement Store: SQLite (a file, or ":memory:" for a
// single-process run) and PostgreSQL (selected by a postgres:// DSN).
package state

import (
	"context"
	"errors"
	"time"

	"walkwatcher/internal/config"
)

var (
	// ErrLockBusy means another live owner holds the lock.
	ErrLockBusy = errors.New("lock busy")
	// ErrLockLost means the lock expired or changed owner before a cycle committed.
	ErrLockLost = errors.New("lock lost before commit")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)

// TrackedFile is the persisted identity of a file across cycles.
type TrackedFile struct {
	ConfigName    string
	Path          string
	Directory     string
	FirstSeenAt   time.Time
	LastSeenCycle int64
}

// LockRecord is the TTL lock row for one config name.
type LockRecord struct {
	ConfigName string
	Owner      string
	AcquiredAt time.Time
	TTL        time.Duration
}

// ExpiresAt is the last instant at which the lock is still live.
func (r LockRecord) ExpiresAt() time.Time {
	return r.AcquiredAt.Add(r.TTL)
}

// IsExpired reports whether the lock may be taken over at now.
func (r LockRecord) IsExpired(now time.Time) bool {
	return r.ExpiresAt().Unix() < now.Unix()
}

// Store is the persistence contract shared by all backends.
type Store interface {
	// TryAcquireLock takes the lock for configName when no record exists or
	// the existing one is expired. It returns ErrLockBusy otherwise.
	TryAcquireLock(ctx context.Context, configName, owner string, ttl time.Duration) error
	// ReleaseLock deletes the lock record. A non-empty owner limits the delete
	// to a record held by that owner; an empty owner deletes unconditionally.
	ReleaseLock(ctx context.Context, configName, owner string) error
	// Begin opens the transaction for one collection cycle.
	Begin(ctx context.Context, configName, owner string) (Cycle, error)
	// Lock returns the current lock record, if any.
	Lock(ctx context.Context, configName string) (LockRecord, bool, error)
	// TrackedFiles lists tracked files ordered by directory then path.
	TrackedFiles(ctx context.Context, configName string) ([]TrackedFile, error)
	Close() error
}

// Cycle is the unit of work for one collection pass. Exactly one of Commit
// or Rollback must be called; Rollback after Commit is a no-op.
type Cycle interface {
	Number() int64
	FirstSeen(ctx context.Context, path string) (time.Time, bool, error)
	// UpsertFirstSeen records firstSeen for path unless a value already exists.
	UpsertFirstSeen(ctx context.Context, path, directory string, firstSeen time.Time) error
	// MarkSeen stamps the given paths with this cycle's number.
	MarkSeen(ctx context.Context, paths []string) error
	// PruneUnseen deletes every tracked file not stamped by this cycle and
	// returns the removed paths.
	PruneUnseen(ctx context.Context) ([]string, error)
	Commit(ctx context.Context) error
	Rollback() error
}

// Clock supplies the current time. Tests inject fixed clocks.
type Clock func() time.Time

// Option customizes a Store.
type Option func(*options)

type options struct {
	clock       Clock
	busyTimeout time.Duration
}

// WithClock overrides time.Now for lock expiry decisions.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithBusyTimeout bounds how long a SQLite statement waits for another
// connection's write lock before failing with SQLITE_BUSY.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now, busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open selects a backend from location: a postgres:// or postgresql:// DSN,
// ":memory:", or a SQLite file path.
func Open(ctx context.Context, location string, opts ...Option) (Store, error) {
	if config.IsPostgresDSN(location) {
		return OpenPostgres(ctx, location, opts...)
	}
	return OpenSQLite(ctx, location, opts...)
}
