package share

import (
	"bytes"
	"strings"
	"testing"
)

func TestURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "http://localhost:8080/f/abc123"},
		{"https://s.example.com/", "https://s.example.com/f/abc123"},
	}
	for _, tt := range tests {
		got := Link{BaseURL: tt.base, Code: "abc123"}.URL()
		if got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestQR(t *testing.T) {
	l := Link{BaseURL: "http://localhost:8080", Code: "abc123"}

	png, err := l.QR(0)
	if err != nil {
		t.Fatalf("qr failed: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("expected PNG output")
	}

	if _, err := l.QR(MinQRSize - 1); err == nil {
		t.Error("expected size error")
	}
	if _, err := l.QR(MaxQRSize + 1); err == nil {
		t.Error("expected size error")
	}
}

func TestQRString(t *testing.T) {
	s, err := Link{BaseURL: "http://x", Code: "abcd"}.QRString()
	if err != nil {
		t.Fatalf("qr string failed: %v", err)
	}
	if len(strings.Split(s, "\n")) < 5 {
		t.Errorf("expected multi-line art, got %q", s)
	}
}
