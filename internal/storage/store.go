package storage

import (
	"errors"

	"github.com/amaydixit11/shortbin/internal/core"
)

// Store defines the blocking catalog API.
// Implementations hold a single connection and are NOT safe for
// concurrent use; callers serialize access (see internal/actor).
type Store interface {
	// Lookup resolves a code. The bool is false when no entry exists,
	// which is not an error.
	Lookup(code string) (core.FileRef, bool, error)

	// RecordView increments the view counter and stamps the view time.
	// Silently does nothing if the code does not exist.
	RecordView(code string) error

	// Insert adds a new entry.
	// Fails with ErrDuplicateCode if the code is taken
	Insert(code, contentHash, contentType, fileExtension string) error

	// Stat returns the full catalog row for a code
	Stat(code string) (core.Entry, bool, error)

	// Close releases the connection
	Close() error
}

// ErrDuplicateCode is wrapped by insert failures caused by an existing code.
// Callers should generate a fresh code and try again.
var ErrDuplicateCode = errors.New("code already exists")

// Error is returned for every catalog I/O, query or constraint failure
type Error struct {
	Op   string // lookup, record_view, insert, stat, open
	Code string // the short code involved, if any
	Err  error
}

func (e *Error) Error() string {
	if e.Code == "" {
		return "catalog " + e.Op + ": " + e.Err.Error()
	}
	return "catalog " + e.Op + " " + e.Code + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsDuplicate reports whether err is an insert collision
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateCode)
}
