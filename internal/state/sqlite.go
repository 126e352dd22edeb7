package state

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"walkwatcher/internal/config"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

const (
	sqliteBusyCode          = 5
	defaultBusyTimeout      = 5 * time.Second
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLiteStore implements Store on a SQLite database file or in memory.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	clock Clock
}

// OpenSQLite opens or creates the database at path. ":memory:" keeps state
// for the life of the process only.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)
	inMemory := path == config.MemoryDatabase

	dsn := ":memory:"
	if !inMemory {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		params := url.Values{}
		params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", o.busyTimeout.Milliseconds()))
		params.Add("_pragma", "journal_mode(WAL)")
		dsn = "file:" + filepath.ToSlash(path) + "?" + params.Encode()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if inMemory {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite db %s: %w", path, err)
	}

	store := &SQLiteStore{db: db, path: path, clock: o.clock}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the location the store was opened with.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to start fresh)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, sqliteSchema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		var rows int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_version").Scan(&rows); err != nil {
			return fmt.Errorf("count schema version: %w", err)
		}
		if rows == 0 {
			if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
				return fmt.Errorf("record schema version: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit schema: %w", err)
		}
		return nil
	})
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// TryAcquireLock implements Store. It makes a single attempt: a database
// still write-locked by another connection after the busy timeout counts as
// a held lock rather than an error.
func (s *SQLiteStore) TryAcquireLock(ctx context.Context, configName, owner string, ttl time.Duration) error {
	now := s.clock().Unix()
	res, err := s.db.ExecContext(ctx, qAcquireLock, configName, owner, now, int64(ttl/time.Second))
	if isSQLiteBusy(err) {
		return fmt.Errorf("acquire lock %s: %w: database write-locked", configName, ErrLockBusy)
	}
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", configName, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", configName, err)
	}
	if affected == 0 {
		return ErrLockBusy
	}
	return nil
}

// ReleaseLock implements Store.
func (s *SQLiteStore) ReleaseLock(ctx context.Context, configName, owner string) error {
	var err error
	if owner == "" {
		_, err = s.execWithRetry(ctx, qReleaseLock, configName)
	} else {
		_, err = s.execWithRetry(ctx, qReleaseLockOwned, configName, owner)
	}
	if err != nil {
		return fmt.Errorf("release lock %s: %w", configName, err)
	}
	return nil
}

// Lock implements Store.
func (s *SQLiteStore) Lock(ctx context.Context, configName string) (LockRecord, bool, error) {
	return scanLock(configName, s.db.QueryRowContext(ctx, qSelectLock, configName))
}

// TrackedFiles implements Store.
func (s *SQLiteStore) TrackedFiles(ctx context.Context, configName string) ([]TrackedFile, error) {
	rows, err := s.db.QueryContext(ctx, qTrackedFiles, configName)
	if err != nil {
		return nil, fmt.Errorf("list tracked files: %w", err)
	}
	defer rows.Close()

	var files []TrackedFile
	for rows.Next() {
		file, err := scanTrackedFile(configName, rows)
		if err != nil {
			return nil, fmt.Errorf("scan tracked file: %w", err)
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// Begin implements Store.
func (s *SQLiteStore) Begin(ctx context.Context, configName, owner string) (Cycle, error) {
	var tx *sql.Tx
	if err := retryOnBusy(ctx, func() error {
		var err error
		tx, err = s.db.BeginTx(ctx, nil)
		return err
	}); err != nil {
		return nil, fmt.Errorf("begin cycle: %w", err)
	}

	var number int64
	if err := tx.QueryRowContext(ctx, qNextCycle, configName).Scan(&number); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("allocate cycle number: %w", err)
	}
	return &sqlCycle{tx: tx, configName: configName, owner: owner, number: number, clock: s.clock}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqlCycle struct {
	tx         *sql.Tx
	configName string
	owner      string
	number     int64
	clock      Clock
	done       bool
}

func (c *sqlCycle) Number() int64 { return c.number }

func (c *sqlCycle) FirstSeen(ctx context.Context, path string) (time.Time, bool, error) {
	var ts int64
	err := c.tx.QueryRowContext(ctx, qFirstSeen, c.configName, path).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("lookup first seen %s: %w", path, err)
	}
	return time.Unix(ts, 0), true, nil
}

func (c *sqlCycle) UpsertFirstSeen(ctx context.Context, path, directory string, firstSeen time.Time) error {
	if _, err := c.tx.ExecContext(ctx, qUpsertFirstSeen, c.configName, path, directory, firstSeen.Unix(), c.number); err != nil {
		return fmt.Errorf("record first seen %s: %w", path, err)
	}
	return nil
}

func (c *sqlCycle) MarkSeen(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	stmt, err := c.tx.PrepareContext(ctx, qMarkSeen)
	if err != nil {
		return fmt.Errorf("prepare mark seen: %w", err)
	}
	defer stmt.Close()
	for _, path := range paths {
		if _, err := stmt.ExecContext(ctx, c.number, c.configName, path); err != nil {
			return fmt.Errorf("mark seen %s: %w", path, err)
		}
	}
	return nil
}

func (c *sqlCycle) PruneUnseen(ctx context.Context) ([]string, error) {
	rows, err := c.tx.QueryContext(ctx, qPruneUnseen, c.configName, c.number)
	if err != nil {
		return nil, fmt.Errorf("prune unseen: %w", err)
	}
	defer rows.Close()
	var removed []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan pruned path: %w", err)
		}
		removed = append(removed, path)
	}
	return removed, rows.Err()
}

func (c *sqlCycle) Commit(ctx context.Context) error {
	if c.done {
		return errors.New("cycle already finished")
	}
	record, ok, err := scanLock(c.configName, c.tx.QueryRowContext(ctx, qSelectLock, c.configName))
	if err != nil {
		_ = c.Rollback()
		return err
	}
	if !ok || record.Owner != c.owner || record.IsExpired(c.clock()) {
		_ = c.Rollback()
		return ErrLockLost
	}
	c.done = true
	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("commit cycle %d: %w", c.number, err)
	}
	return nil
}

func (c *sqlCycle) Rollback() error {
	if c.done {
		return nil
	}
	c.done = true
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLock(configName string, row rowScanner) (LockRecord, bool, error) {
	var (
		owner      string
		acquiredAt int64
		ttlSeconds int64
	)
	err := row.Scan(&owner, &acquiredAt, &ttlSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return LockRecord{}, false, nil
	}
	if err != nil {
		return LockRecord{}, false, fmt.Errorf("read lock %s: %w", configName, err)
	}
	return LockRecord{
		ConfigName: configName,
		Owner:      owner,
		AcquiredAt: time.Unix(acquiredAt, 0),
		TTL:        time.Duration(ttlSeconds) * time.Second,
	}, true, nil
}

func scanTrackedFile(configName string, row rowScanner) (TrackedFile, error) {
	var (
		file      TrackedFile
		firstSeen int64
	)
	if err := row.Scan(&file.Path, &file.Directory, &firstSeen, &file.LastSeenCycle); err != nil {
		return TrackedFile{}, err
	}
	file.ConfigName = configName
	file.FirstSeenAt = time.Unix(firstSeen, 0)
	return file, nil
}
