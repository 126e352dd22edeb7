package state

import (
	"strconv"
	"strings"
)

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// Queries are written with ? placeholders; rebind converts them for
// PostgreSQL.
const (
	qAcquireLock = `INSERT INTO locks (config_name, owner, acquired_at, ttl_seconds)
VALUES (?, ?, ?, ?)
ON CONFLICT (config_name) DO UPDATE
SET owner = excluded.owner, acquired_at = excluded.acquired_at, ttl_seconds = excluded.ttl_seconds
WHERE locks.acquired_at + locks.ttl_seconds < excluded.acquired_at`

	qReleaseLock      = `DELETE FROM locks WHERE config_name = ?`
	qReleaseLockOwned = `DELETE FROM locks WHERE config_name = ? AND owner = ?`
	qSelectLock       = `SELECT owner, acquired_at, ttl_seconds FROM locks WHERE config_name = ?`

	qNextCycle = `INSERT INTO cycles (config_name, last_cycle) VALUES (?, 1)
ON CONFLICT (config_name) DO UPDATE SET last_cycle = cycles.last_cycle + 1
RETURNING last_cycle`

	qFirstSeen = `SELECT first_seen FROM tracked_files WHERE config_name = ? AND path = ?`

	qUpsertFirstSeen = `INSERT INTO tracked_files (config_name, path, directory, first_seen, last_seen_cycle)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (config_name, path) DO NOTHING`

	qMarkSeen = `UPDATE tracked_files SET last_seen_cycle = ? WHERE config_name = ? AND path = ?`

	qPruneUnseen = `DELETE FROM tracked_files WHERE config_name = ? AND last_seen_cycle < ? RETURNING path`

	qTrackedFiles = `SELECT path, directory, first_seen, last_seen_cycle FROM tracked_files
WHERE config_name = ? ORDER BY directory, path`
)

func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
