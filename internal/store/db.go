package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// schema is applied with CREATE TABLE IF NOT EXISTS on every Open, so
// restarts against an existing database file are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS events (
	rowid       INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id    TEXT NOT NULL UNIQUE,
	recorded_at TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	payload     BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id         TEXT PRIMARY KEY,
	pid                INTEGER NOT NULL,
	pid_start_time     TEXT NOT NULL DEFAULT '',
	project_path       TEXT NOT NULL,
	cwd                TEXT NOT NULL,
	state              TEXT NOT NULL,
	last_event_at      TEXT NOT NULL,
	last_transition_at TEXT NOT NULL,
	working_on         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tombstones (
	session_id TEXT PRIMARY KEY,
	ended_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS shells (
	pid             INTEGER NOT NULL,
	pid_start_time  TEXT NOT NULL DEFAULT '',
	cwd             TEXT NOT NULL,
	tty             TEXT NOT NULL,
	parent_app      TEXT NOT NULL DEFAULT '',
	tmux_session    TEXT NOT NULL DEFAULT '',
	tmux_client_tty TEXT NOT NULL DEFAULT '',
	recorded_at     TEXT NOT NULL,
	PRIMARY KEY (pid, pid_start_time)
);

CREATE TABLE IF NOT EXISTS daemon_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_project_path ON sessions(project_path);
CREATE INDEX IF NOT EXISTS idx_events_recorded_at ON events(recorded_at);
`

// cursorKey is the daemon_meta row tracking replay progress: the rowid of
// the last event already folded into the materialized tables (§4.B).
const cursorKey = "last_applied_event_rowid"

// Store owns the database connections backing the daemon. Mutations are
// serialized through a single connection and an in-process mutex —
// belt-and-suspenders alongside SetMaxOpenConns(1) — while reads use a
// separate, pooled, read-only connection so get_* RPCs never block behind
// the single-writer mutator (§4.B, §4.D).
type Store struct {
	path string

	fileLock *flock.Flock // process-level guard against a second Open of the same file

	mu      sync.Mutex // serializes all mutating transactions
	writeDB *sql.DB    // SetMaxOpenConns(1); only the mutator ever writes
	readDB  *sql.DB    // pooled, read-only snapshot reads
}

// Open creates (if needed) and migrates the SQLite database at path, in
// WAL mode, and returns a Store ready for both mutation and reads.
//
// Open additionally takes an exclusive flock on path+".lock" before
// touching the database file. WAL mode already serializes SQLite writers
// correctly within well-behaved clients, but the flock is belt-and-
// suspenders against an accidental second capd process opening the same
// file outside of WAL recovery — the same TOCTOU concern the daemon's
// own single-instance lock guards against, applied one layer down at the
// file itself.
func Open(path string) (*Store, error) {
	fileLock := flock.New(path + ".lock")
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking database file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("database file %s is already locked by another process", path)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)

	writeDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		fileLock.Unlock()
		return nil, fmt.Errorf("open write connection: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		writeDB.Close()
		fileLock.Unlock()
		return nil, fmt.Errorf("open read connection: %w", err)
	}
	readDB.SetMaxOpenConns(4)

	if _, err := writeDB.Exec(schema); err != nil {
		writeDB.Close()
		readDB.Close()
		fileLock.Unlock()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{path: path, fileLock: fileLock, writeDB: writeDB, readDB: readDB}, nil
}

// Close releases both underlying connections and the file lock.
func (s *Store) Close() error {
	werr := s.writeDB.Close()
	rerr := s.readDB.Close()
	s.fileLock.Unlock()
	if werr != nil {
		return werr
	}
	return rerr
}

// Path returns the database file path the Store was opened against.
func (s *Store) Path() string { return s.path }

// Cursor returns the rowid of the last event folded into the materialized
// tables, or 0 if the daemon has never applied an event.
func (s *Store) Cursor() (int64, error) {
	var v string
	err := s.readDB.QueryRow(`SELECT value FROM daemon_meta WHERE key = ?`, cursorKey).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var rowid int64
	if _, err := fmt.Sscanf(v, "%d", &rowid); err != nil {
		return 0, err
	}
	return rowid, nil
}
