package sqlite

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                 TEXT PRIMARY KEY,
	project_name       TEXT NOT NULL DEFAULT '',
	project_path       TEXT NOT NULL DEFAULT '',
	repository_id      TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	started_at         INTEGER NOT NULL,
	last_activity_at   INTEGER NOT NULL,
	ended_at           INTEGER,
	auto_created       INTEGER NOT NULL DEFAULT 0,
	tags               TEXT NOT NULL DEFAULT '[]',
	activity_count     INTEGER NOT NULL DEFAULT 0,
	memory_count       INTEGER NOT NULL DEFAULT 0,
	total_work_seconds INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity_at);
CREATE INDEX IF NOT EXISTS idx_sessions_project_path ON sessions(project_path);

CREATE TABLE IF NOT EXISTS memory_items (
	id         TEXT PRIMARY KEY,
	session_id TEXT,
	content    TEXT NOT NULL DEFAULT '',
	importance INTEGER NOT NULL DEFAULT 0,
	work_type  TEXT NOT NULL,
	completion TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_items_session ON memory_items(session_id);

CREATE TABLE IF NOT EXISTS session_backups (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	payload    BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_backups_session
	ON session_backups(session_id, created_at);
`

// prepareConn applies the standard pragmas and bootstraps the schema.
// Runs once per pooled connection on first use; the schema statements
// are idempotent.
func prepareConn(conn *sqlite.Conn) error {
	// WAL mode: concurrent readers, single writer, no reader blocking.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("bootstrapping schema: %w", err)
	}
	return nil
}
