package state

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema_postgres.sql
var postgresSchema string

// PostgresStore implements Store on a PostgreSQL connection pool so several
// hosts can share one lock and tracking table.
type PostgresStore struct {
	pool  *pgxpool.Pool
	clock Clock
}

// OpenPostgres connects to dsn, pings the server, and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	o := buildOptions(opts)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.Ping: %w", err)
	}
	store := &PostgresStore{pool: pool, clock: o.clock}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = 'schema_version')`,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if !exists {
		return s.createSchema(ctx)
	}
	var version int
	if err := s.pool.QueryRow(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, postgresSchema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO schema_version (version) SELECT $1 WHERE NOT EXISTS (SELECT 1 FROM schema_version)",
			schemaVersion,
		); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	})
}

// TryAcquireLock implements Store.
func (s *PostgresStore) TryAcquireLock(ctx context.Context, configName, owner string, ttl time.Duration) error {
	tag, err := s.pool.Exec(ctx, rebind(qAcquireLock), configName, owner, s.clock().Unix(), int64(ttl/time.Second))
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", configName, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLockBusy
	}
	return nil
}

// ReleaseLock implements Store.
func (s *PostgresStore) ReleaseLock(ctx context.Context, configName, owner string) error {
	var err error
	if owner == "" {
		_, err = s.pool.Exec(ctx, rebind(qReleaseLock), configName)
	} else {
		_, err = s.pool.Exec(ctx, rebind(qReleaseLockOwned), configName, owner)
	}
	if err != nil {
		return fmt.Errorf("release lock %s: %w", configName, err)
	}
	return nil
}

// Lock implements Store.
func (s *PostgresStore) Lock(ctx context.Context, configName string) (LockRecord, bool, error) {
	return scanLock(configName, pgRow{s.pool.QueryRow(ctx, rebind(qSelectLock), configName)})
}

// TrackedFiles implements Store.
func (s *PostgresStore) TrackedFiles(ctx context.Context, configName string) ([]TrackedFile, error) {
	rows, err := s.pool.Query(ctx, rebind(qTrackedFiles), configName)
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
func (s *PostgresStore) Begin(ctx context.Context, configName, owner string) (Cycle, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin cycle: %w", err)
	}
	var number int64
	if err := tx.QueryRow(ctx, rebind(qNextCycle), configName).Scan(&number); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("allocate cycle number: %w", err)
	}
	return &pgCycle{tx: tx, configName: configName, owner: owner, number: number, clock: s.clock}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

type pgCycle struct {
	tx         pgx.Tx
	configName string
	owner      string
	number     int64
	clock      Clock
	done       bool
}

func (c *pgCycle) Number() int64 { return c.number }

func (c *pgCycle) FirstSeen(ctx context.Context, path string) (time.Time, bool, error) {
	var ts int64
	err := c.tx.QueryRow(ctx, rebind(qFirstSeen), c.configName, path).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("lookup first seen %s: %w", path, err)
	}
	return time.Unix(ts, 0), true, nil
}

func (c *pgCycle) UpsertFirstSeen(ctx context.Context, path, directory string, firstSeen time.Time) error {
	if _, err := c.tx.Exec(ctx, rebind(qUpsertFirstSeen), c.configName, path, directory, firstSeen.Unix(), c.number); err != nil {
		return fmt.Errorf("record first seen %s: %w", path, err)
	}
	return nil
}

func (c *pgCycle) MarkSeen(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	query := rebind(qMarkSeen)
	for _, path := range paths {
		batch.Queue(query, c.number, c.configName, path)
	}
	if err := c.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

func (c *pgCycle) PruneUnseen(ctx context.Context) ([]string, error) {
	rows, err := c.tx.Query(ctx, rebind(qPruneUnseen), c.configName, c.number)
	if err != nil {
		return nil, fmt.Errorf("prune unseen: %w", err)
	}
	removed, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("prune unseen: %w", err)
	}
	return removed, nil
}

func (c *pgCycle) Commit(ctx context.Context) error {
	if c.done {
		return errors.New("cycle already finished")
	}
	// FOR UPDATE keeps a competing acquirer out until this commit lands.
	row := c.tx.QueryRow(ctx, rebind(qSelectLock)+" FOR UPDATE", c.configName)
	record, ok, err := scanLock(c.configName, pgRow{row})
	if err != nil {
		_ = c.Rollback()
		return err
	}
	if !ok || record.Owner != c.owner || record.IsExpired(c.clock()) {
		_ = c.Rollback()
		return ErrLockLost
	}
	c.done = true
	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cycle %d: %w", c.number, err)
	}
	return nil
}

func (c *pgCycle) Rollback() error {
	if c.done {
		return nil
	}
	c.done = true
	if err := c.tx.Rollback(context.Background()); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// pgRow maps pgx.ErrNoRows onto sql.ErrNoRows for the shared scanners.
type pgRow struct {
	row pgx.Row
}

func (r pgRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return sql.ErrNoRows
	}
	return err
}
