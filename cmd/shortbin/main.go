package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/amaydixit11/shortbin/internal/auth"
	"github.com/amaydixit11/shortbin/internal/blob"
	"github.com/amaydixit11/shortbin/internal/config"
	"github.com/amaydixit11/shortbin/internal/engine"
	"github.com/amaydixit11/shortbin/internal/hooks"
	"github.com/amaydixit11/shortbin/internal/logging"
	"github.com/amaydixit11/shortbin/internal/share"
	"github.com/amaydixit11/shortbin/internal/stream"
	"github.com/amaydixit11/shortbin/pkg/api"
)

const catalogFile = "files.db"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = cmdServe(args)
	case "hash-token":
		err = cmdHashToken(args)
	case "info":
		err = cmdInfo(args)
	case "qr":
		err = cmdQR(args)
	case "verify":
		err = cmdVerify(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`shortbin - file hosting behind short codes

Usage: shortbin <command> [options]

Commands:
  serve        Start the HTTP server
  hash-token   Hash an upload token for upload.token_hash
  info <code>  Show the catalog entry for a code
  qr <code>    Print the share link of a code as a QR code
  verify <code> Re-hash the stored file behind a code
  help         Show this help

Common options:
  --config <file>   YAML configuration file
  --data <dir>      Data directory (files.db and blobs/)

Examples:
  shortbin serve --config /etc/shortbin.yaml
  shortbin serve --listen 0.0.0.0:8080 --data /var/lib/shortbin
  shortbin hash-token
  shortbin info Ab3xY9 --data /var/lib/shortbin`)
}

// commonFlags are accepted by every command that reads configuration
type commonFlags struct {
	configPath string
	dataDir    string
	listen     string
	publicURL  string
	staticDir  string
	logLevel   string
	logFormat  string
}

func newFlagSet(name string) (*pflag.FlagSet, *commonFlags) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	cf := &commonFlags{}
	fs.StringVar(&cf.configPath, "config", os.Getenv("SHORTBIN_CONFIG"), "YAML configuration file")
	fs.StringVar(&cf.dataDir, "data", "", "data directory")
	fs.StringVar(&cf.listen, "listen", "", "listen address")
	fs.StringVar(&cf.publicURL, "public-url", "", "public base URL for share links")
	fs.StringVar(&cf.staticDir, "static", "", "directory served under /static/")
	fs.StringVar(&cf.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&cf.logFormat, "log-format", "", "log format (console, json)")
	return fs, cf
}

// load reads the config file then applies flags that were set explicitly
func (cf *commonFlags) load(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.LoadFile(cf.configPath)
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		flag string
		dst  *string
		val  string
	}{
		{"data", &cfg.DataDir, cf.dataDir},
		{"listen", &cfg.Listen, cf.listen},
		{"public-url", &cfg.PublicURL, cf.publicURL},
		{"static", &cfg.StaticDir, cf.staticDir},
		{"log-level", &cfg.Log.Level, cf.logLevel},
		{"log-format", &cfg.Log.Format, cf.logFormat},
	}
	for _, o := range overrides {
		if fs.Changed(o.flag) {
			*o.dst = o.val
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openCatalog(cfg *config.Config, logger *zerolog.Logger) (*engine.Catalog, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return engine.Open(filepath.Join(cfg.DataDir, catalogFile), engine.Options{
		QueueSize: cfg.Catalog.QueueSize,
		Logger:    logger,
	})
}

func cmdServe(args []string) error {
	fs, cf := newFlagSet("serve")
	workers := fs.Int("workers", 0, "stream worker count (overrides stream.workers)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := cf.load(fs)
	if err != nil {
		return err
	}
	if fs.Changed("workers") {
		cfg.Stream.Workers = *workers
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(cfg.Upload.TokenHash)
	if err != nil {
		return fmt.Errorf("upload.token_hash: %w", err)
	}

	catalog, err := openCatalog(cfg, &logger)
	if err != nil {
		return err
	}
	defer catalog.Close()

	blobs, err := blob.NewStore(cfg.DataDir, cfg.Upload.MaxBytes)
	if err != nil {
		return err
	}
	pool := stream.NewPool(stream.Options{
		ChunkSize: cfg.Stream.ChunkSize,
		Workers:   cfg.Stream.Workers,
		Logger:    &logger,
	})

	srv := api.New(catalog, blobs, pool, api.Options{
		PublicURL:       cfg.URL(),
		StaticDir:       cfg.StaticDir,
		CodeLength:      cfg.Upload.CodeLength,
		MaxCodeAttempts: cfg.Upload.MaxCodeAttempts,
		MaxUploadBytes:  cfg.Upload.MaxBytes,
		Verifier:        verifier,
		Logger:          &logger,
	})

	dispatcher, err := hooks.NewDispatcher(webhooks(cfg), hooks.Options{Logger: &logger})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hooksDone := make(chan struct{})
	go func() {
		defer close(hooksDone)
		dispatcher.Run(ctx, catalog.Events())
	}()
	defer func() {
		stop()
		<-hooksDone
	}()

	logger.Info().
		Str("listen", cfg.Listen).
		Str("data", cfg.DataDir).
		Str("public_url", cfg.URL()).
		Bool("uploads_open", verifier.Open()).
		Int("webhooks", len(cfg.Webhooks)).
		Msg("shortbin starting")

	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info().Msg("shortbin stopped")
	return nil
}

func webhooks(cfg *config.Config) []hooks.Webhook {
	out := make([]hooks.Webhook, 0, len(cfg.Webhooks))
	for _, w := range cfg.Webhooks {
		events := make([]engine.EventType, len(w.Events))
		for i, e := range w.Events {
			events[i] = engine.EventType(e)
		}
		out = append(out, hooks.Webhook{
			URL:        w.URL,
			Events:     events,
			Headers:    w.Headers,
			Secret:     w.Secret,
			MaxRetries: w.Retries(),
			Timeout:    w.Timeout,
		})
	}
	return out
}

func cmdHashToken(args []string) error {
	fs := pflag.NewFlagSet("hash-token", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprint(os.Stderr, "Enter upload token: ")
	tok1, err := readPassword()
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	fmt.Fprint(os.Stderr, "\nConfirm upload token: ")
	tok2, err := readPassword()
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	fmt.Fprintln(os.Stderr)

	if string(tok1) != string(tok2) {
		return errors.New("tokens do not match")
	}

	hash, err := auth.HashToken(string(tok1))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func readPassword() ([]byte, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		// Fallback for non-interactive
		var password string
		fmt.Scanln(&password)
		return []byte(password), nil
	}
	return term.ReadPassword(fd)
}

// withEntry opens the catalog read side for commands taking a single code
func withEntry(name string, args []string, fn func(cfg *config.Config, catalog *engine.Catalog, code string) error) error {
	fs, cf := newFlagSet(name)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: shortbin %s <code> [options]", name)
	}
	cfg, err := cf.load(fs)
	if err != nil {
		return err
	}

	catalog, err := openCatalog(cfg, nil)
	if err != nil {
		return err
	}
	defer catalog.Close()

	return fn(cfg, catalog, fs.Arg(0))
}

func cmdInfo(args []string) error {
	return withEntry("info", args, func(cfg *config.Config, catalog *engine.Catalog, code string) error {
		entry, found, err := catalog.Stat(context.Background(), code)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no entry for code %q", code)
		}
		data, err := json.MarshalIndent(entry, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	})
}

func cmdQR(args []string) error {
	return withEntry("qr", args, func(cfg *config.Config, catalog *engine.Catalog, code string) error {
		_, found, err := catalog.Lookup(context.Background(), code)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no entry for code %q", code)
		}

		link := share.Link{BaseURL: cfg.URL(), Code: code}
		qr, err := link.QRString()
		if err != nil {
			return err
		}
		fmt.Println(qr)
		fmt.Println(link.URL())
		return nil
	})
}

func cmdVerify(args []string) error {
	return withEntry("verify", args, func(cfg *config.Config, catalog *engine.Catalog, code string) error {
		ref, found, err := catalog.Lookup(context.Background(), code)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no entry for code %q", code)
		}

		blobs, err := blob.NewStore(cfg.DataDir, 0)
		if err != nil {
			return err
		}
		if err := blobs.Verify(ref.ContentHash); err != nil {
			return err
		}
		fmt.Printf("%s: %s ok\n", code, ref.ContentHash)
		return nil
	})
}
