// Package store owns the on-disk SQLite database: connection setup,
// schema migration, and the tables shared by the download registry, the
// resumable chunk engine, and the settings profile.
//
// The schema mirrors a desktop download manager's local database: one
// row per download, one row per in-flight byte-range task, one append-only
// history row per terminal download, and a flat key/value settings table.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Open connects to the SQLite file at path, enables WAL mode and foreign
// keys, and applies every migration. The returned *sql.DB is safe for
// concurrent use; SQLite itself serializes writers.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// modernc.org/sqlite serializes access through a single C-less driver;
	// one open connection avoids "database is locked" under WAL.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	dest_path    TEXT NOT NULL,
	filename     TEXT,
	status       TEXT NOT NULL DEFAULT 'queued',
	total_size   INTEGER NOT NULL DEFAULT 0,
	downloaded   INTEGER NOT NULL DEFAULT 0,
	url_hash     TEXT,
	category     TEXT NOT NULL DEFAULT 'direct',
	created_at   INTEGER NOT NULL DEFAULT 0,
	paused_at    INTEGER NOT NULL DEFAULT 0,
	completed_at INTEGER,
	time_taken   INTEGER
);

CREATE INDEX IF NOT EXISTS idx_downloads_status     ON downloads(status);
CREATE INDEX IF NOT EXISTS idx_downloads_created_at ON downloads(created_at);

CREATE TABLE IF NOT EXISTS tasks (
	download_id TEXT NOT NULL REFERENCES downloads(id) ON DELETE CASCADE,
	offset      INTEGER NOT NULL,
	length      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_download_id ON tasks(download_id);

CREATE TABLE IF NOT EXISTS chunks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	download_id TEXT NOT NULL REFERENCES downloads(id) ON DELETE CASCADE,
	offset      INTEGER NOT NULL,
	length      INTEGER NOT NULL,
	downloaded  INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_chunks_download_id ON chunks(download_id);

CREATE TABLE IF NOT EXISTS history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	download_id TEXT NOT NULL REFERENCES downloads(id) ON DELETE CASCADE,
	event       TEXT NOT NULL,
	detail      TEXT,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_download_id ON history(download_id);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// columnAdds lists columns added after the initial schema, applied via
// idempotent ALTER TABLE ... ADD COLUMN (SQLite has no IF NOT EXISTS form
// for columns, so existence is checked through PRAGMA table_info first).
var columnAdds = []struct {
	table, column, ddl string
}{
	{"downloads", "category", "ALTER TABLE downloads ADD COLUMN category TEXT NOT NULL DEFAULT 'direct'"},
	{"downloads", "user_agent", "ALTER TABLE downloads ADD COLUMN user_agent TEXT"},
	{"downloads", "cookies", "ALTER TABLE downloads ADD COLUMN cookies TEXT"},
	{"downloads", "error_message", "ALTER TABLE downloads ADD COLUMN error_message TEXT"},
	{"downloads", "info_hash", "ALTER TABLE downloads ADD COLUMN info_hash TEXT"},
	{"downloads", "metadata", "ALTER TABLE downloads ADD COLUMN metadata TEXT"},
	{"downloads", "protocol", "ALTER TABLE downloads ADD COLUMN protocol TEXT NOT NULL DEFAULT 'http'"},
	{"downloads", "speed", "ALTER TABLE downloads ADD COLUMN speed INTEGER NOT NULL DEFAULT 0"},
	{"downloads", "connections", "ALTER TABLE downloads ADD COLUMN connections INTEGER NOT NULL DEFAULT 0"},
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	for _, c := range columnAdds {
		has, err := hasColumn(db, c.table, c.column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := db.Exec(c.ddl); err != nil {
			return fmt.Errorf("add column %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid, notnull, pk int
			name, ctype      string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Registry caches opened databases by absolute path so multiple packages
// (the download registry, the engine's resume store, the settings profile)
// can share one connection per process without an explicit init order.
var (
	registryMu sync.Mutex
	registry   = map[string]*sql.DB{}
)

// Shared returns the shared *sql.DB for path, opening and migrating it on
// first use.
func Shared(path string) (*sql.DB, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if db, ok := registry[path]; ok {
		return db, nil
	}
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	registry[path] = db
	return db, nil
}

// CloseAll closes every database opened through Shared. Used by tests to
// reset state between runs.
func CloseAll() {
	registryMu.Lock()
	defer registryMu.Unlock()
	for path, db := range registry {
		db.Close()
		delete(registry, path)
	}
}

// ForgetPath closes and evicts the cached connection for path, if any, so
// a later Shared(path) reopens (and re-migrates) it from scratch.
func ForgetPath(path string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if db, ok := registry[path]; ok {
		db.Close()
		delete(registry, path)
	}
}
