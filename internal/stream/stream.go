package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"os"
	"sync"

	"github.com/amaydixit11/shortbin/internal/promise"
)

var (
	// ErrPending is returned by Poll while an open or read is in flight
	ErrPending = errors.New("stream: operation in flight")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("stream: closed")
)

// OpenError reports a failure to open the file behind a stream
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return "failed to open " + e.Path + ": " + e.Err.Error()
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// ReadError reports a failure while reading a chunk
type ReadError struct {
	Path   string
	Offset int64
	Err    error
}

func (e *ReadError) Error() string {
	return "failed to read " + e.Path + ": " + e.Err.Error()
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Stream is a pull-based sequence of byte chunks.
// Next returns io.EOF after the last chunk. A Stream is consumed by one
// goroutine at a time.
type Stream interface {
	// Next blocks until the next chunk, the end, an error, or ctx is done.
	Next(ctx context.Context) ([]byte, error)

	// Poll advances by at most one step without blocking
	Poll() ([]byte, error)

	// Close releases the underlying file, if any
	Close() error
}

type state int

const (
	stateOpening state = iota
	stateReading
	stateExhausted
)

// FileStream streams one file in fixed-size chunks
type FileStream struct {
	pool *Pool
	path string

	mu      sync.Mutex
	state   state
	file    *os.File
	offset  int64
	opening *promise.Promise[*os.File]
	reading *promise.Promise[[]byte]
	err     error
	closed  bool
}

// Poll performs at most one state transition. It returns ErrPending when
// the caller should wait and poll again, a chunk, io.EOF at the end, or
// an *OpenError / *ReadError, after which the stream is exhausted.
func (s *FileStream) Poll() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	switch s.state {
	case stateOpening:
		return s.pollOpen()
	case stateReading:
		return s.pollRead()
	default:
		return nil, s.terminal()
	}
}

func (s *FileStream) pollOpen() ([]byte, error) {
	if s.opening == nil {
		s.opening = promise.New[*os.File]()
		pr := s.opening
		path := s.path
		s.pool.submit(func() {
			pr.Resolve(os.Open(path))
		})
		return nil, ErrPending
	}

	f, ready, err := s.opening.TryAwait()
	if !ready {
		return nil, ErrPending
	}
	s.opening = nil
	if err != nil {
		s.pool.log.Debug().Str("path", s.path).Err(err).Msg("open failed")
		s.finish(&OpenError{Path: s.path, Err: err})
		return nil, s.terminal()
	}

	s.file = f
	s.state = stateReading
	s.scheduleRead()
	return nil, ErrPending
}

func (s *FileStream) pollRead() ([]byte, error) {
	if s.reading == nil {
		s.scheduleRead()
		return nil, ErrPending
	}

	chunk, ready, err := s.reading.TryAwait()
	if !ready {
		return nil, ErrPending
	}
	s.reading = nil

	if err != nil {
		s.finish(&ReadError{Path: s.path, Offset: s.offset, Err: err})
		return nil, s.terminal()
	}
	if len(chunk) == 0 {
		s.finish(io.EOF)
		return nil, s.terminal()
	}

	s.offset += int64(len(chunk))
	// Re-arm so the next read overlaps with the caller using this chunk
	s.scheduleRead()
	return chunk, nil
}

func (s *FileStream) scheduleRead() {
	s.reading = promise.New[[]byte]()
	pr := s.reading
	f := s.file
	size := s.pool.chunkSize
	s.pool.submit(func() {
		buf := make([]byte, size)
		n, err := io.ReadFull(f, buf)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = nil
		}
		pr.Resolve(buf[:n], err)
	})
}

// finish moves to the exhausted state and releases the file.
// err is handed out once; afterwards the stream only reports io.EOF.
func (s *FileStream) finish(err error) {
	s.state = stateExhausted
	s.err = err
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}

func (s *FileStream) terminal() error {
	err := s.err
	s.err = io.EOF
	if err == nil {
		return io.EOF
	}
	return err
}

// Next waits for the next chunk
func (s *FileStream) Next(ctx context.Context) ([]byte, error) {
	for {
		chunk, err := s.Poll()
		if !errors.Is(err, ErrPending) {
			return chunk, err
		}

		select {
		case <-s.wake():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// wake returns a channel closed when the in-flight operation finishes
func (s *FileStream) wake() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.opening != nil:
		return s.opening.Done()
	case s.reading != nil:
		return s.reading.Done()
	default:
		ch := make(chan struct{})
		close(ch)
		return ch
	}
}

// Close releases the file. An in-flight open or read is allowed to finish
// first so the handle is never leaked.
func (s *FileStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	opening, reading := s.opening, s.reading
	s.mu.Unlock()

	if opening != nil {
		<-opening.Done()
		if f, _, err := opening.TryAwait(); err == nil && f != nil {
			f.Close()
		}
	}
	if reading != nil {
		<-reading.Done()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateExhausted
	s.opening, s.reading = nil, nil
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// Path returns the file the stream reads
func (s *FileStream) Path() string {
	return s.path
}

// emptyStream yields one zero-length chunk, then ends
type emptyStream struct {
	mu   sync.Mutex
	sent bool
}

// Empty returns a stream with a single empty chunk. It never touches the
// filesystem.
func Empty() Stream {
	return &emptyStream{}
}

func (e *emptyStream) Poll() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sent {
		return nil, io.EOF
	}
	e.sent = true
	return []byte{}, nil
}

func (e *emptyStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.Poll()
}

func (e *emptyStream) Close() error {
	return nil
}

// All ranges over the chunks of s. Iteration stops after the first error,
// which is yielded; io.EOF is not.
func All(ctx context.Context, s Stream) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			chunk, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

type flusher interface {
	Flush()
}

// Copy writes every chunk of s to w, flushing after each chunk when w
// supports it, and returns the number of bytes written.
func Copy(ctx context.Context, w io.Writer, s Stream) (int64, error) {
	var written int64
	f, canFlush := w.(flusher)
	for chunk, err := range All(ctx, s) {
		if err != nil {
			return written, err
		}
		if len(chunk) == 0 {
			continue
		}
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
		if canFlush {
			f.Flush()
		}
	}
	return written, nil
}
