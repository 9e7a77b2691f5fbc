// Package api provides the shortbin HTTP API.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amaydixit11/shortbin/internal/auth"
	"github.com/amaydixit11/shortbin/internal/blob"
	"github.com/amaydixit11/shortbin/internal/core"
	"github.com/amaydixit11/shortbin/internal/engine"
	"github.com/amaydixit11/shortbin/internal/logging"
	"github.com/amaydixit11/shortbin/internal/shortcode"
	"github.com/amaydixit11/shortbin/internal/stream"
)

// Catalog is the asynchronous catalog the server reads and writes
type Catalog interface {
	Lookup(ctx context.Context, code string) (core.FileRef, bool, error)
	RecordView(ctx context.Context, code string) error
	Insert(ctx context.Context, code, contentHash, contentType, fileExtension string) error
	Stat(ctx context.Context, code string) (core.Entry, bool, error)
	Events() *engine.EventBus
}

// Options configures a Server
type Options struct {
	// PublicURL prefixes the links returned by uploads.
	PublicURL string

	// StaticDir is served under /static/. Empty disables it.
	StaticDir string

	CodeLength      int
	MaxCodeAttempts int

	// MaxUploadBytes bounds the request body. Zero means unlimited.
	MaxUploadBytes int64

	// Verifier guards uploads. Nil leaves them open.
	Verifier *auth.Verifier

	Logger *zerolog.Logger
}

// Server is the HTTP API server
type Server struct {
	catalog  Catalog
	blobs    *blob.Store
	pool     *stream.Pool
	codes    shortcode.Generator
	opts     Options
	log      zerolog.Logger
	mux      *http.ServeMux
	now      func() time.Time
	attempts int
}

// New creates a new API server
func New(catalog Catalog, blobs *blob.Store, pool *stream.Pool, opts Options) *Server {
	attempts := opts.MaxCodeAttempts
	if attempts <= 0 {
		attempts = 5
	}
	s := &Server{
		catalog:  catalog,
		blobs:    blobs,
		pool:     pool,
		codes:    shortcode.Generator{Length: opts.CodeLength},
		opts:     opts,
		log:      logging.OrNop(opts.Logger),
		mux:      http.NewServeMux(),
		now:      time.Now,
		attempts: attempts,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	// GET patterns also match HEAD
	s.mux.HandleFunc("GET /f/{code}", s.handleFetch)
	s.mux.HandleFunc("GET /info/{code}", s.handleInfo)
	s.mux.HandleFunc("GET /qr/{code}", s.handleQR)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	if s.opts.StaticDir != "" {
		s.mux.HandleFunc("GET /static/{path...}", s.handleStatic)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS headers
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", reqID)

	log := s.log.With().Str("request_id", reqID).Logger()
	r = r.WithContext(log.WithContext(r.Context()))

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := s.now()
	s.mux.ServeHTTP(rec, r)

	log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rec.status).
		Int64("bytes", rec.written).
		Dur("elapsed", s.now().Sub(start)).
		Msg("request")
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.written += int64(n)
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
