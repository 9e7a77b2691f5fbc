// Package config loads shortbin server configuration.
//
// Configuration comes from an optional YAML file that is validated
// against an embedded JSON Schema before it is merged over the defaults.
// Command line flags are applied on top by the caller.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

// Config is the complete server configuration
type Config struct {
	// Listen is the TCP address the HTTP server binds.
	Listen string `yaml:"listen" json:"listen"`

	// DataDir holds files.db and the blobs directory.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// StaticDir is served under /static/. Empty disables it.
	StaticDir string `yaml:"static_dir" json:"static_dir"`

	// PublicURL prefixes share links. Defaults to http://<listen>.
	PublicURL string `yaml:"public_url" json:"public_url"`

	Log     LogConfig     `yaml:"log" json:"log"`
	Catalog CatalogConfig `yaml:"catalog" json:"catalog"`
	Stream  StreamConfig  `yaml:"stream" json:"stream"`
	Upload  UploadConfig  `yaml:"upload" json:"upload"`

	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// CatalogConfig configures the catalog actor
type CatalogConfig struct {
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// StreamConfig configures file streaming
type StreamConfig struct {
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	Workers   int `yaml:"workers" json:"workers"`
}

// UploadConfig configures uploads
type UploadConfig struct {
	MaxBytes        int64  `yaml:"max_bytes" json:"max_bytes"`
	CodeLength      int    `yaml:"code_length" json:"code_length"`
	MaxCodeAttempts int    `yaml:"max_code_attempts" json:"max_code_attempts"`
	TokenHash       string `yaml:"token_hash" json:"token_hash"`
}

// WebhookConfig configures one catalog event webhook
type WebhookConfig struct {
	URL        string            `yaml:"url" json:"url"`
	Events     []string          `yaml:"events" json:"events"`
	Headers    map[string]string `yaml:"headers" json:"headers"`
	Secret     string            `yaml:"secret" json:"secret"`
	MaxRetries *int              `yaml:"max_retries" json:"max_retries"`
	Timeout    time.Duration     `yaml:"timeout" json:"timeout"`
}

// DefaultWebhookRetries applies when max_retries is absent
const DefaultWebhookRetries = 3

// Retries returns the configured retry count. An explicit 0 disables retries.
func (w WebhookConfig) Retries() int {
	if w.MaxRetries == nil {
		return DefaultWebhookRetries
	}
	return *w.MaxRetries
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		DataDir:   ".",
		StaticDir: "./static",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Catalog: CatalogConfig{QueueSize: 64},
		Stream: StreamConfig{
			ChunkSize: 2 << 20,
			Workers:   4,
		},
		Upload: UploadConfig{
			MaxBytes:        100 << 20,
			CodeLength:      6,
			MaxCodeAttempts: 5,
		},
	}
}

// ValidationError lists every schema violation in a config file
type ValidationError struct {
	Path     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Path, strings.Join(e.Problems, "; "))
}

// LoadFile loads configuration from path, merging it over Default.
// An empty path returns the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.merge(path, data); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse merges YAML data over Default
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.merge("<inline>", data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) merge(path string, data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if doc == nil {
		// empty file
		return nil
	}
	if err := validate(path, doc); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return nil
}

func validate(path string, doc any) error {
	// yaml.v3 decodes mappings as map[string]any, which json can encode
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to convert config %s: %w", path, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to validate config %s: %w", path, err)
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{Path: path}
	for _, e := range result.Errors() {
		verr.Problems = append(verr.Problems, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return verr
}

// Validate checks values that flags may have overridden after loading
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen must not be empty"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	if c.Catalog.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("catalog.queue_size must be positive, got %d", c.Catalog.QueueSize))
	}
	if c.Stream.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("stream.chunk_size must be positive, got %d", c.Stream.ChunkSize))
	}
	if c.Stream.Workers < 1 {
		errs = append(errs, fmt.Errorf("stream.workers must be positive, got %d", c.Stream.Workers))
	}
	if c.Upload.MaxCodeAttempts < 1 {
		errs = append(errs, fmt.Errorf("upload.max_code_attempts must be positive, got %d", c.Upload.MaxCodeAttempts))
	}
	return errors.Join(errs...)
}

// URL returns the public base URL without a trailing slash
func (c *Config) URL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	return "http://" + c.Listen
}
