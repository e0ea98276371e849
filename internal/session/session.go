// Package session implements §4.14 Session Persistence: a WAL-mode
// SQLite-backed store of ScanSession documents, one row per session
// identifier, safe for concurrent decode across different sessions.
package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver with database/sql

	"github.com/shubham/salvage/internal/model"
)

const ddl = `
CREATE TABLE IF NOT EXISTS scan_sessions (
    id                  TEXT PRIMARY KEY,
    timestamp_utc       TEXT NOT NULL,
    target_identity     TEXT NOT NULL,
    declared_capacity   INTEGER NOT NULL,
    last_scanned_offset INTEGER NOT NULL,
    discovered_files    TEXT NOT NULL DEFAULT '[]'
);
`

// Store is a single-writer-per-session-identifier document store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the
// schema. WAL mode lets concurrent readers proceed without blocking the
// single writer that checkpoints in-progress scans.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session: open %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewID generates a session identifier.
func NewID() string {
	return uuid.New().String()
}

// Save upserts session as a single document keyed by session.ID.
func (s *Store) Save(sess model.ScanSession) error {
	files, err := json.Marshal(sess.DiscoveredFiles)
	if err != nil {
		return fmt.Errorf("session: marshal discovered files: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO scan_sessions (id, timestamp_utc, target_identity, declared_capacity, last_scanned_offset, discovered_files)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp_utc = excluded.timestamp_utc,
			target_identity = excluded.target_identity,
			declared_capacity = excluded.declared_capacity,
			last_scanned_offset = excluded.last_scanned_offset,
			discovered_files = excluded.discovered_files
	`, sess.ID, sess.TimestampUTC, sess.TargetIdentity, sess.DeclaredCapacity, sess.LastScannedOffset, string(files))
	if err != nil {
		return fmt.Errorf("session: save %q: %w", sess.ID, err)
	}
	return nil
}

// Load reads back the session document for id.
func (s *Store) Load(id string) (model.ScanSession, error) {
	var sess model.ScanSession
	var filesJSON string

	row := s.db.QueryRow(`
		SELECT id, timestamp_utc, target_identity, declared_capacity, last_scanned_offset, discovered_files
		FROM scan_sessions WHERE id = ?
	`, id)
	if err := row.Scan(&sess.ID, &sess.TimestampUTC, &sess.TargetIdentity, &sess.DeclaredCapacity, &sess.LastScannedOffset, &filesJSON); err != nil {
		return model.ScanSession{}, fmt.Errorf("session: load %q: %w", id, err)
	}

	if err := json.Unmarshal([]byte(filesJSON), &sess.DiscoveredFiles); err != nil {
		return model.ScanSession{}, fmt.Errorf("session: decode discovered files for %q: %w", id, err)
	}
	return sess, nil
}

// NowUTC returns the current instant formatted per §6 (ISO-8601 UTC).
// Callers that need deterministic tests should construct the timestamp
// themselves and avoid this helper.
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
