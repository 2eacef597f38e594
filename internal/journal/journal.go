// Package journal provides the SQLite-backed sync journal: a durable,
// queryable history of sync sessions, terminal change transitions, and
// resolved conflicts. The journal is an observability sidecar; the
// authoritative queue and snapshots live in the local store. Journal
// write failures are reported to the caller but must never fail a sync.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Journal wraps the sqlite database holding sync history.
type Journal struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// Open opens (or creates) the journal database under dataDir.
// The database is opened with WAL mode and foreign keys enabled.
func Open(dataDir string) (*Journal, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "journal.db")

	// modernc.org/sqlite is pure Go, no CGO
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// initSchema creates the journal tables if they don't exist.
func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_sessions (
		id TEXT PRIMARY KEY,
		success INTEGER NOT NULL,
		changes_pushed INTEGER NOT NULL,
		changes_pulled INTEGER NOT NULL,
		changes_failed INTEGER NOT NULL,
		conflicts_detected INTEGER NOT NULL,
		conflicts_resolved INTEGER NOT NULL,
		bytes_pushed INTEGER NOT NULL,
		bytes_pulled INTEGER NOT NULL,
		errors TEXT,
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS change_log (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL,
		last_error TEXT,
		version INTEGER NOT NULL,
		priority INTEGER NOT NULL,
		device_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		synced_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_change_log_entity ON change_log(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_change_log_status ON change_log(status);

	CREATE TABLE IF NOT EXISTS conflict_log (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		local_version INTEGER NOT NULL,
		server_version INTEGER NOT NULL,
		local_modified_at INTEGER NOT NULL,
		server_modified_at INTEGER NOT NULL,
		local_modified_by TEXT,
		server_modified_by TEXT,
		resolution_strategy TEXT,
		detected_at INTEGER NOT NULL,
		resolved_at INTEGER,
		resolved_by TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_conflict_log_entity ON conflict_log(entity_type, entity_id);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return nil
}

// prepareStmt gets or creates a prepared statement from cache.
func (j *Journal) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := j.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}
	stmt, err := j.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	actual, loaded := j.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached statements and the database.
func (j *Journal) Close() error {
	j.stmtCache.Range(func(_, value interface{}) bool {
		value.(*sql.Stmt).Close()
		return true
	})
	return j.db.Close()
}
