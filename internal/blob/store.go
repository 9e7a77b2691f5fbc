// Package blob provides content-addressed storage for uploaded files.
//
// Blobs are named by the lowercase hex BLAKE3 digest of their bytes and
// live at <dir>/<first two hex chars>/<digest>.
package blob

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// HashLen is the length of a hex encoded digest
const HashLen = 64

var (
	// ErrTooLarge is returned when an upload exceeds the store's limit
	ErrTooLarge = errors.New("blob exceeds size limit")

	// ErrInvalidHash is returned for names that are not a hex digest
	ErrInvalidHash = errors.New("invalid blob hash")

	// ErrNotFound is returned when no blob has the given hash
	ErrNotFound = errors.New("blob not found")
)

// Store provides content-addressed blob storage
type Store struct {
	dir      string
	maxBytes int64
}

// NewStore creates a new blob store under dataDir/blobs.
// maxBytes limits a single blob; zero means unlimited.
func NewStore(dataDir string, maxBytes int64) (*Store, error) {
	blobDir := filepath.Join(dataDir, "blobs")
	if err := os.MkdirAll(blobDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	return &Store{dir: blobDir, maxBytes: maxBytes}, nil
}

// Dir returns the root directory of the store
func (s *Store) Dir() string {
	return s.dir
}

// Put streams r into the store and returns its hash and size.
// Storing the same bytes twice is a no-op.
func (s *Store) Put(r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(s.dir, "upload-*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hasher := blake3.New()
	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}

	size, err := io.Copy(io.MultiWriter(tmp, hasher), src)
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("failed to write blob: %w", err)
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		tmp.Close()
		return "", 0, ErrTooLarge
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("failed to sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close blob: %w", err)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	if err := s.ensureSubdir(hash); err != nil {
		return "", 0, err
	}

	path := s.blobPath(hash)
	// Check if already exists (content-addressed = idempotent)
	if _, err := os.Stat(path); err == nil {
		return hash, size, nil
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return "", 0, fmt.Errorf("failed to finalize blob: %w", err)
	}
	return hash, size, nil
}

// Path returns where the blob with the given hash lives
func (s *Store) Path(hash string) (string, error) {
	if !ValidHash(hash) {
		return "", ErrInvalidHash
	}
	return s.blobPath(hash), nil
}

// Has checks if a blob exists
func (s *Store) Has(hash string) bool {
	if !ValidHash(hash) {
		return false
	}
	_, err := os.Stat(s.blobPath(hash))
	return err == nil
}

// Size returns the size of a blob
func (s *Store) Size(hash string) (int64, error) {
	path, err := s.Path(hash)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Verify re-hashes a stored blob and reports whether it still matches its name
func (s *Store) Verify(hash string) error {
	path, err := s.Path(hash)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return fmt.Errorf("failed to read blob: %w", err)
	}
	actual := hex.EncodeToString(hasher.Sum(nil))
	if actual != hash {
		return fmt.Errorf("blob integrity check failed: expected %s, got %s", hash, actual)
	}
	return nil
}

// ValidHash reports whether h is a lowercase hex digest
func ValidHash(h string) bool {
	if len(h) != HashLen {
		return false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// HashBytes returns the digest Put would assign to data
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *Store) blobPath(hash string) string {
	// Use first 2 chars as subdirectory for better filesystem performance
	return filepath.Join(s.dir, hash[:2], hash)
}

func (s *Store) ensureSubdir(hash string) error {
	if err := os.MkdirAll(filepath.Join(s.dir, hash[:2]), 0700); err != nil {
		return fmt.Errorf("failed to create blob subdirectory: %w", err)
	}
	return nil
}
