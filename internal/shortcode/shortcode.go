// Package shortcode generates the short public codes files are fetched by.
package shortcode

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	DefaultLength = 6
	MinLength     = 4
	MaxLength     = 32
)

// bytes at or above this value would bias the alphabet
const rejectAbove = 256 - 256%len(Alphabet)

// Generator produces random base62 codes
type Generator struct {
	Length int
}

// New returns a fresh random code
func (g Generator) New() (string, error) {
	n := g.Length
	if n <= 0 {
		n = DefaultLength
	}
	if n < MinLength || n > MaxLength {
		return "", fmt.Errorf("code length %d out of range [%d, %d]", n, MinLength, MaxLength)
	}

	code := make([]byte, 0, n)
	for len(code) < n {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("failed to read randomness: %w", err)
		}
		for i, b := range id {
			// version and variant bits are fixed in a v4 uuid
			if i == 6 || i == 8 {
				continue
			}
			if int(b) >= rejectAbove {
				continue
			}
			code = append(code, Alphabet[int(b)%len(Alphabet)])
			if len(code) == n {
				break
			}
		}
	}
	return string(code), nil
}

// Valid reports whether code could have been produced by a Generator
func Valid(code string) bool {
	if len(code) < MinLength || len(code) > MaxLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		default:
			return false
		}
	}
	return true
}
