package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

// storeVersion is bumped whenever the envelope's JSON shape changes
// incompatibly.
const storeVersion = 1

// envelope is the single logical record persisted for the whole registry:
// one version tag plus the full model set, per spec §4.F.
type envelope struct {
	Version int     `json:"version"`
	Models  []Model `json:"models"`
}

// SQLiteStore persists Registry state to a local SQLite file using
// modernc.org/sqlite's pure-Go driver, with a ".bak" side-file written
// before every save so a crash mid-write never leaves both copies corrupt.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: opening sqlite store: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS registry_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		payload TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: creating schema: %w", err)
	}
	return &SQLiteStore{path: path, db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save writes a ".bak" side-file copy of the current database before
// upserting the new snapshot, so an interrupted write never destroys the
// last-known-good state.
func (s *SQLiteStore) Save(models []Model) error {
	if err := s.backup(); err != nil {
		// A failed backup is not fatal to the save itself; the prior save's
		// bak file (if any) remains on disk as the fallback.
		_ = err
	}

	payload, err := json.Marshal(envelope{Version: storeVersion, Models: models})
	if err != nil {
		return fmt.Errorf("registry: marshaling state: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO registry_state (id, version, payload, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version, payload = excluded.payload, updated_at = excluded.updated_at`,
		storeVersion, string(payload), time.Now())
	if err != nil {
		return fmt.Errorf("registry: saving state: %w", err)
	}
	return nil
}

// Load reads the last saved snapshot. A missing row returns an empty,
// non-error result (a fresh registry). A corrupt payload returns an error;
// the caller logs it and starts empty rather than failing startup, per
// spec §4.F.
func (s *SQLiteStore) Load() ([]Model, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM registry_state WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: reading state: %w", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("registry: corrupt state payload: %w", err)
	}
	if env.Version != storeVersion {
		return nil, fmt.Errorf("registry: unsupported state version %d (want %d)", env.Version, storeVersion)
	}
	return env.Models, nil
}

// backup copies the current database file to path+".bak", best-effort.
func (s *SQLiteStore) backup() error {
	if s.path == "" || s.path == ":memory:" {
		return nil
	}
	src, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(s.path + ".bak")
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
