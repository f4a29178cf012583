// Package store provides the embedded relational store (§6): a single
// SQLite database inside a collection's dot-directory holding the version
// graph and the background job queue. Grounded in the teacher's
// internal/mcp.MCPToolStore (sql.Open with a WAL DSN, an idempotent
// CREATE TABLE IF NOT EXISTS initializer) generalized into a linear,
// versioned migration sequence.
package store

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"skillmeat/internal/logging"
)

// Store wraps the embedded database connection shared by the version
// graph and job queue.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// migration is one step in the linear schema history. Steps run in Version
// order and must be idempotent re-runs of CREATE TABLE/INDEX IF NOT EXISTS
// statements, never destructive ALTERs, so the sequence stays safe to
// re-apply against an already-migrated database.
type migration struct {
	Version int
	SQL     string
}

// CurrentSchemaVersion is the highest schema version this binary
// understands. Open refuses to proceed against a database whose
// schema_version exceeds this, per spec.md §6.
const CurrentSchemaVersion = 1

var migrations = []migration{
	{
		Version: 1,
		SQL: `
CREATE TABLE IF NOT EXISTS schema_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	schema_version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS version_records (
	artifact_id   TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	parent_hash   TEXT NOT NULL DEFAULT '',
	change_origin TEXT NOT NULL,
	created_at    DATETIME NOT NULL,
	lineage       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (artifact_id, content_hash)
);
CREATE INDEX IF NOT EXISTS idx_version_records_artifact
	ON version_records(artifact_id, created_at DESC);

CREATE TABLE IF NOT EXISTS memberships (
	composite_id TEXT NOT NULL,
	child_id     TEXT NOT NULL,
	relationship TEXT NOT NULL,
	pinned_hash  TEXT NOT NULL DEFAULT '',
	position     INTEGER,
	PRIMARY KEY (composite_id, child_id)
);
CREATE INDEX IF NOT EXISTS idx_memberships_child ON memberships(child_id);

CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	verb        TEXT NOT NULL,
	arguments   TEXT NOT NULL,
	status      TEXT NOT NULL,
	progress    TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`,
	},
}

// Open opens (creating if absent) the SQLite database at path in WAL mode
// and brings its schema up to CurrentSchemaVersion.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver: serialize writers through one conn

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		schema_version INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_meta: %w", err)
	}

	current := 0
	row := s.db.QueryRow(`SELECT schema_version FROM schema_meta WHERE id = 1`)
	if err := row.Scan(&current); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read schema_version: %w", err)
	}

	if current > CurrentSchemaVersion {
		return fmt.Errorf("database schema_version %d is newer than this binary understands (%d)", current, CurrentSchemaVersion)
	}

	sorted := make([]migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for _, m := range sorted {
		if m.Version <= current {
			continue
		}
		if _, err := s.db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_meta (id, schema_version) VALUES (1, ?)
			 ON CONFLICT(id) DO UPDATE SET schema_version = excluded.schema_version`,
			m.Version,
		); err != nil {
			return fmt.Errorf("record schema_version %d: %w", m.Version, err)
		}
		logging.Store("applied migration %d", m.Version)
	}
	return nil
}

// DB returns the underlying *sql.DB for package-internal collaborators
// (versiongraph, jobqueue) that need direct query access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
