package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Errorf("unexpected listen: %s", cfg.Listen)
	}
	if cfg.URL() != "http://127.0.0.1:8080" {
		t.Errorf("unexpected url: %s", cfg.URL())
	}
}

func TestLoadFileEmptyPath(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Upload.MaxCodeAttempts != 5 {
		t.Errorf("expected default attempts, got %d", cfg.Upload.MaxCodeAttempts)
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shortbin.yaml")
	data := `
listen: 0.0.0.0:9000
public_url: https://s.example.com/
log:
  level: debug
stream:
  workers: 8
upload:
  code_length: 8
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("listen not applied: %s", cfg.Listen)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("log merge wrong: %+v", cfg.Log)
	}
	if cfg.Stream.Workers != 8 || cfg.Stream.ChunkSize != 2<<20 {
		t.Errorf("stream merge wrong: %+v", cfg.Stream)
	}
	if cfg.Upload.CodeLength != 8 || cfg.Upload.MaxCodeAttempts != 5 {
		t.Errorf("upload merge wrong: %+v", cfg.Upload)
	}
	if cfg.URL() != "https://s.example.com" {
		t.Errorf("unexpected url: %s", cfg.URL())
	}
}

func TestWebhooks(t *testing.T) {
	cfg, err := Parse([]byte(`
webhooks:
  - url: https://hooks.example.com/shortbin
    events: [inserted]
    secret: k
    timeout: 5s
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(cfg.Webhooks) != 1 {
		t.Fatalf("expected 1 webhook, got %d", len(cfg.Webhooks))
	}
	wh := cfg.Webhooks[0]
	if wh.Timeout != 5*time.Second || wh.Events[0] != "inserted" || wh.Secret != "k" {
		t.Errorf("unexpected webhook %+v", wh)
	}
	if wh.Retries() != DefaultWebhookRetries {
		t.Errorf("absent max_retries should default to %d, got %d", DefaultWebhookRetries, wh.Retries())
	}

	for _, bad := range []string{
		"webhooks:\n  - events: [inserted]\n",
		"webhooks:\n  - url: https://x\n    events: [deleted]\n",
		"webhooks:\n  - url: https://x\n    timeout: soon\n",
	} {
		if _, err := Parse([]byte(bad)); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestWebhookRetries(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int
	}{
		{"absent", "webhooks:\n  - url: https://x\n", DefaultWebhookRetries},
		{"explicit zero", "webhooks:\n  - url: https://x\n    max_retries: 0\n", 0},
		{"explicit", "webhooks:\n  - url: https://x\n    max_retries: 7\n", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.data))
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if got := cfg.Webhooks[0].Retries(); got != tt.want {
				t.Errorf("expected %d retries, got %d", tt.want, got)
			}
		})
	}
}

func TestSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown key", "colour: blue\n"},
		{"wrong type", "stream:\n  workers: many\n"},
		{"below minimum", "catalog:\n  queue_size: 0\n"},
		{"bad enum", "log:\n  format: xml\n"},
		{"bad url", "public_url: ftp://x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(verr.Problems) == 0 {
				t.Error("expected at least one problem")
			}
		})
	}
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse([]byte("# nothing here\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Listen != Default().Listen {
		t.Error("empty document should keep defaults")
	}
}

func TestParseMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("listen: [unclosed")); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidateAfterOverrides(t *testing.T) {
	cfg := Default()
	cfg.Stream.Workers = 0
	cfg.Catalog.QueueSize = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "stream.workers") || !strings.Contains(err.Error(), "catalog.queue_size") {
		t.Errorf("expected both problems reported, got %v", err)
	}
}
