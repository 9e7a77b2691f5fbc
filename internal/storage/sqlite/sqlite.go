package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amaydixit11/shortbin/internal/core"
	"github.com/amaydixit11/shortbin/internal/storage"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore implements storage.Store on one SQLite connection
type SQLiteStore struct {
	db    *sql.DB
	clock core.Clock
}

// Option configures a SQLiteStore
type Option func(*SQLiteStore)

// WithClock overrides the clock used for view and creation timestamps
func WithClock(c core.Clock) Option {
	return func(s *SQLiteStore) {
		s.clock = c
	}
}

// New opens (or creates) the catalog at the given path.
// If path is ":memory:", creates an in-memory database
func New(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, &storage.Error{Op: "open", Err: fmt.Errorf("failed to open database: %w", err)}
	}
	// Exactly one connection. An in-memory database also only exists
	// for the lifetime of its connection, so it must never be recycled.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	clock := core.NewClock()
	store := &SQLiteStore{db: db, clock: clock}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, &storage.Error{Op: "open", Err: fmt.Errorf("failed to initialize schema: %w", err)}
	}

	if mc, ok := store.clock.(*core.MonotonicClock); ok {
		latest, err := store.latestTimestamp()
		if err != nil {
			db.Close()
			return nil, &storage.Error{Op: "open", Err: err}
		}
		mc.Observe(latest)
	}

	return store, nil
}

// initSchema creates the file table if it doesn't exist.
// Not transactional against concurrent openers; one process owns the file.
func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS file (
			code TEXT NOT NULL PRIMARY KEY,
			hash TEXT NOT NULL,
			views INTEGER NOT NULL DEFAULT 0,
			last_viewed INTEGER NOT NULL,
			content_type TEXT NOT NULL,
			file_extension TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_file_hash ON file(hash);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Lookup resolves a code to its blob reference
func (s *SQLiteStore) Lookup(code string) (core.FileRef, bool, error) {
	var ref core.FileRef
	err := s.db.QueryRow(`
		SELECT hash, content_type, file_extension
		FROM file
		WHERE code = ?
	`, code).Scan(&ref.ContentHash, &ref.ContentType, &ref.FileExtension)

	if errors.Is(err, sql.ErrNoRows) {
		return core.FileRef{}, false, nil
	}
	if err != nil {
		return core.FileRef{}, false, &storage.Error{Op: "lookup", Code: code, Err: fmt.Errorf("failed to query file: %w", err)}
	}
	return ref, true, nil
}

// RecordView bumps the view counter of an existing code
func (s *SQLiteStore) RecordView(code string) error {
	_, err := s.db.Exec(`
		UPDATE file
		SET views = views + 1, last_viewed = MAX(last_viewed, ?)
		WHERE code = ?
	`, s.clock.Now().UnixMilli(), code)
	if err != nil {
		return &storage.Error{Op: "record_view", Code: code, Err: fmt.Errorf("failed to update views: %w", err)}
	}
	return nil
}

// Insert adds a new catalog row.
// An existing code yields storage.ErrDuplicateCode and the row is untouched.
func (s *SQLiteStore) Insert(code, contentHash, contentType, fileExtension string) error {
	now := s.clock.Now().UnixMilli()
	_, err := s.db.Exec(`
		INSERT INTO file (code, hash, views, last_viewed, content_type, file_extension, created_at)
		VALUES (?, ?, 0, ?, ?, ?, ?)
	`, code, contentHash, now, contentType, fileExtension, now)
	if err != nil {
		if isConstraintViolation(err) {
			return &storage.Error{Op: "insert", Code: code, Err: storage.ErrDuplicateCode}
		}
		return &storage.Error{Op: "insert", Code: code, Err: fmt.Errorf("failed to insert file: %w", err)}
	}
	return nil
}

// Stat returns the full row for a code
func (s *SQLiteStore) Stat(code string) (core.Entry, bool, error) {
	var entry core.Entry
	var lastViewed, created int64

	err := s.db.QueryRow(`
		SELECT code, hash, content_type, file_extension, views, last_viewed, created_at
		FROM file
		WHERE code = ?
	`, code).Scan(&entry.Code, &entry.ContentHash, &entry.ContentType,
		&entry.FileExtension, &entry.Views, &lastViewed, &created)

	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, false, nil
	}
	if err != nil {
		return core.Entry{}, false, &storage.Error{Op: "stat", Code: code, Err: fmt.Errorf("failed to query file: %w", err)}
	}

	entry.LastViewedAt = time.UnixMilli(lastViewed).UTC()
	entry.CreatedAt = time.UnixMilli(created).UTC()
	return entry, true, nil
}

// latestTimestamp returns the newest timestamp written so far
func (s *SQLiteStore) latestTimestamp() (time.Time, error) {
	var latest sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(MAX(last_viewed), MAX(created_at)) FROM file").Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest timestamp: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(latest.Int64).UTC(), nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// dsn appends the driver parameters to path, which may already be a
// file: URI with its own query string
func dsn(path string) string {
	const params = "_busy_timeout=5000"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
