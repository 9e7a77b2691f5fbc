package auth

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	encoded, err := HashToken("s3cret")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "argon2id$") {
		t.Errorf("unexpected encoding: %s", encoded)
	}

	v, err := NewVerifier(encoded)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if v.Open() {
		t.Error("verifier with a hash should not be open")
	}
	if !v.Verify("s3cret") {
		t.Error("correct token rejected")
	}
	if v.Verify("wrong") {
		t.Error("wrong token accepted")
	}
	if v.Verify("") {
		t.Error("empty token accepted")
	}
}

func TestHashesAreSalted(t *testing.T) {
	a, _ := HashToken("same")
	b, _ := HashToken("same")
	if a == b {
		t.Error("two hashes of the same token should differ")
	}
}

func TestEmptyHashIsOpen(t *testing.T) {
	v, err := NewVerifier("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Open() || !v.Verify("anything") {
		t.Error("empty hash should accept every token")
	}
	if err := v.Authorize(httptest.NewRequest("POST", "/upload", nil)); err != nil {
		t.Errorf("open verifier rejected request: %v", err)
	}
}

func TestMalformedHashes(t *testing.T) {
	cases := []string{
		"plain",
		"bcrypt$abc$def",
		"argon2id$!!!$AAAA",
		"argon2id$c2FsdA$c2hvcnQ",
	}
	for _, c := range cases {
		if _, err := NewVerifier(c); !errors.Is(err, ErrMalformedHash) {
			t.Errorf("NewVerifier(%q): expected ErrMalformedHash, got %v", c, err)
		}
	}
}

func TestAuthorize(t *testing.T) {
	encoded, _ := HashToken("tok")
	v, _ := NewVerifier(encoded)

	tests := []struct {
		name   string
		header string
		ok     bool
	}{
		{"missing", "", false},
		{"wrong scheme", "Basic tok", false},
		{"wrong token", "Bearer nope", false},
		{"valid", "Bearer tok", true},
		{"lowercase scheme", "bearer tok", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/upload", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			err := v.Authorize(r)
			if tt.ok && err != nil {
				t.Errorf("expected success, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrUnauthorized) {
				t.Errorf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}
