// Package snapshot manages the SQLite database that persists entity state
// snapshots across process restarts.
//
// The sync engine itself is in-memory; this store is the collaborator that
// reseeds it on startup and records the latest baseline after each sync.
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/haidar-ali/staterelay/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    entity_type   TEXT    NOT NULL,
    entity_id     TEXT    NOT NULL,
    version       INTEGER NOT NULL,
    last_modified TEXT    NOT NULL DEFAULT '',
    checksum      TEXT    NOT NULL DEFAULT '',
    data          BLOB    NOT NULL,
    PRIMARY KEY (entity_type, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_entity_type ON snapshots (entity_type);
`

// Store is the SQLite-backed snapshot repository.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the snapshot database:
// ~/.local/share/staterelay/state.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "staterelay", "state.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Save inserts or replaces the snapshot for the state's (type, id) pair.
func (s *Store) Save(ctx context.Context, state *model.State) error {
	const q = `
		INSERT INTO snapshots
		    (entity_type, entity_id, version, last_modified, checksum, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
		    version       = excluded.version,
		    last_modified = excluded.last_modified,
		    checksum      = excluded.checksum,
		    data          = excluded.data`

	_, err := s.db.ExecContext(ctx, q,
		state.Type,
		state.ID,
		state.Version,
		formatTime(state.LastModified),
		state.Checksum,
		[]byte(state.Data),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot %s: %w", state.Key(), err)
	}
	return nil
}

// Load returns the snapshot for the given (type, id) pair,
// or (nil, nil) if no such snapshot exists.
func (s *Store) Load(ctx context.Context, entityType, entityID string) (*model.State, error) {
	const q = `
		SELECT entity_type, entity_id, version, last_modified, checksum, data
		FROM snapshots WHERE entity_type = ? AND entity_id = ?`
	row := s.db.QueryRowContext(ctx, q, entityType, entityID)
	return scanState(row)
}

// LoadAll returns every stored snapshot, optionally restricted to one entity
// type. Used at startup to reseed the engine's baselines.
func (s *Store) LoadAll(ctx context.Context, entityType string) ([]*model.State, error) {
	q := `
		SELECT entity_type, entity_id, version, last_modified, checksum, data
		FROM snapshots`
	var args []any
	if entityType != "" {
		q += ` WHERE entity_type = ?`
		args = append(args, entityType)
	}
	q += ` ORDER BY entity_type, entity_id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []*model.State
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// Delete removes the snapshot for the given (type, id) pair.
func (s *Store) Delete(ctx context.Context, entityType, entityID string) error {
	const q = `DELETE FROM snapshots WHERE entity_type = ? AND entity_id = ?`
	if _, err := s.db.ExecContext(ctx, q, entityType, entityID); err != nil {
		return fmt.Errorf("deleting snapshot %s:%s: %w", entityType, entityID, err)
	}
	return nil
}

// IsEmpty reports whether the snapshots table has no rows.
// Used by the first-run bootstrap to detect a fresh install.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking if store is empty: %w", err)
	}
	return count == 0, nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanState can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanState(s scanner) (*model.State, error) {
	var state model.State
	var modified string
	var data []byte

	err := s.Scan(
		&state.Type,
		&state.ID,
		&state.Version,
		&modified,
		&state.Checksum,
		&data,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning snapshot row: %w", err)
	}

	state.LastModified, _ = parseTime(modified)
	state.Data = data

	return &state, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
