// Package store persists generated transcripts as versioned artifacts and
// tracks which are still pending audio synthesis.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/papercast-labs/papercast-core/internal/config"
	"github.com/papercast-labs/papercast-core/internal/transcript"
	_ "modernc.org/sqlite"
)

// StorageError wraps persistence I/O failures. Callers treat it as
// non-retryable within the same attempt.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("transcript store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrNotFound is returned when a handle resolves to no stored transcript.
var ErrNotFound = errors.New("transcript not found")

// ErrNoPending is returned when a source has no unarchived transcript.
var ErrNoPending = errors.New("no pending transcript")

// Handle identifies one stored transcript version.
type Handle struct {
	ID       string
	SourceID string
	Version  int
}

// Store wraps a SQLite-backed transcript archive.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store, creating the data directory and schema as
// needed.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StorageError{Op: "open", Err: fmt.Errorf("create data dir: %w", err)}
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Err: err}
	}

	s := &Store{db: db, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, &StorageError{Op: "init schema", Err: err}
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("transcript store vacuum failed", slog.String("error", err.Error()))
		}
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transcripts (
    id TEXT PRIMARY KEY,
    source_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    payload BLOB NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP NOT NULL,
    archived_at TIMESTAMP,
    UNIQUE(source_id, version)
);
CREATE INDEX IF NOT EXISTS idx_transcripts_status ON transcripts(status, source_id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save persists a transcript as a new version for its source. An earlier
// pending version is never overwritten; reruns get a fresh version number.
func (s *Store) Save(ctx context.Context, t *transcript.Transcript) (Handle, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return Handle{}, &StorageError{Op: "save", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Handle{}, &StorageError{Op: "save", Err: err}
	}
	defer tx.Rollback()

	var version int
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM transcripts WHERE source_id = ?`, t.SourceID)
	if err := row.Scan(&version); err != nil {
		return Handle{}, &StorageError{Op: "save", Err: err}
	}

	h := Handle{ID: uuid.NewString(), SourceID: t.SourceID, Version: version}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO transcripts(id, source_id, version, payload, status, created_at)
		 VALUES(?, ?, ?, ?, 'pending', ?)`,
		h.ID, h.SourceID, h.Version, payload, s.clock().UTC())
	if err != nil {
		return Handle{}, &StorageError{Op: "save", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return Handle{}, &StorageError{Op: "save", Err: err}
	}

	s.log.Info("transcript saved",
		slog.String("source_id", h.SourceID),
		slog.Int("version", h.Version))
	return h, nil
}

// Load retrieves a stored transcript by handle.
func (s *Store) Load(ctx context.Context, h Handle) (*transcript.Transcript, error) {
	var payload []byte
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM transcripts WHERE id = ?`, h.ID)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "load", Err: err}
	}
	var t transcript.Transcript
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, &StorageError{Op: "load", Err: err}
	}
	return &t, nil
}

// LoadPending returns the newest unarchived transcript for a source, used to
// resume an interrupted run without regenerating.
func (s *Store) LoadPending(ctx context.Context, sourceID string) (Handle, *transcript.Transcript, error) {
	var (
		h       Handle
		payload []byte
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_id, version, payload FROM transcripts
		 WHERE source_id = ? AND status = 'pending'
		 ORDER BY version DESC LIMIT 1`, sourceID)
	if err := row.Scan(&h.ID, &h.SourceID, &h.Version, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Handle{}, nil, ErrNoPending
		}
		return Handle{}, nil, &StorageError{Op: "load pending", Err: err}
	}
	var t transcript.Transcript
	if err := json.Unmarshal(payload, &t); err != nil {
		return Handle{}, nil, &StorageError{Op: "load pending", Err: err}
	}
	return h, &t, nil
}

// ListPending returns handles of all transcripts still awaiting synthesis,
// newest version first per source.
func (s *Store) ListPending(ctx context.Context) ([]Handle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, version FROM transcripts
		 WHERE status = 'pending' ORDER BY source_id, version DESC`)
	if err != nil {
		return nil, &StorageError{Op: "list pending", Err: err}
	}
	defer rows.Close()

	var handles []Handle
	for rows.Next() {
		var h Handle
		if err := rows.Scan(&h.ID, &h.SourceID, &h.Version); err != nil {
			return nil, &StorageError{Op: "list pending", Err: err}
		}
		handles = append(handles, h)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list pending", Err: err}
	}
	return handles, nil
}

// Archive marks the consumed transcript as archived and supersedes any older
// pending versions of the same source, so a rerun never reprocesses
// completed work and a source ends up with a single archived artifact.
func (s *Store) Archive(ctx context.Context, h Handle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "archive", Err: err}
	}
	defer tx.Rollback()

	now := s.clock().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE transcripts SET status = 'archived', archived_at = ? WHERE id = ? AND status = 'pending'`,
		now, h.ID)
	if err != nil {
		return &StorageError{Op: "archive", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Op: "archive", Err: err}
	}
	if affected == 0 {
		return ErrNotFound
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE transcripts SET status = 'superseded', archived_at = ? WHERE source_id = ? AND status = 'pending'`,
		now, h.SourceID)
	if err != nil {
		return &StorageError{Op: "archive", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "archive", Err: err}
	}
	s.log.Info("transcript archived",
		slog.String("source_id", h.SourceID),
		slog.Int("version", h.Version))
	return nil
}
