// Package auth guards uploads with a shared bearer token.
//
// Only an Argon2id hash of the token is kept in configuration. An empty
// hash leaves uploads open.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	KeySize  = 32
	SaltSize = 16

	scheme = "argon2id"
)

// Argon2id parameters (OWASP recommendations)
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 2
)

var (
	ErrMalformedHash = errors.New("malformed token hash")
	ErrUnauthorized  = errors.New("missing or invalid upload token")
)

// HashToken derives an encoded Argon2id hash for token.
// Format: argon2id$<salt base64>$<key base64>
func HashToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("token must not be empty")
	}
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := deriveKey(token, salt)
	return strings.Join([]string{
		scheme,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	}, "$"), nil
}

func deriveKey(token string, salt []byte) []byte {
	return argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, KeySize)
}

// Verifier checks bearer tokens against a configured hash
type Verifier struct {
	salt []byte
	key  []byte
}

// NewVerifier parses an encoded hash. An empty string yields a verifier
// that accepts every request.
func NewVerifier(encoded string) (*Verifier, error) {
	if encoded == "" {
		return &Verifier{}, nil
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != scheme {
		return nil, ErrMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(key) != KeySize {
		return nil, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	return &Verifier{salt: salt, key: key}, nil
}

// Open reports whether no token is required
func (v *Verifier) Open() bool {
	return v == nil || v.key == nil
}

// Verify checks token in constant time
func (v *Verifier) Verify(token string) bool {
	if v.Open() {
		return true
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare(deriveKey(token, v.salt), v.key) == 1
}

// Authorize checks the request's Authorization header
func (v *Verifier) Authorize(r *http.Request) error {
	if v.Open() {
		return nil
	}
	token, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok || !v.Verify(token) {
		return ErrUnauthorized
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
