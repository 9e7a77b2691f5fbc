package stream

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("failed to generate data: %v", err)
	}
	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path, data
}

func collect(t *testing.T, s Stream) ([]int, []byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var lengths []int
	var buf bytes.Buffer
	for {
		chunk, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return lengths, buf.Bytes(), nil
		}
		if err != nil {
			return lengths, buf.Bytes(), err
		}
		lengths = append(lengths, len(chunk))
		buf.Write(chunk)
	}
}

func TestChunkLengthsForFiveMillionBytes(t *testing.T) {
	const size = 5000000
	path, data := writeTestFile(t, size)
	pool := NewPool(Options{})

	info, err := pool.Stat(context.Background(), path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	s := pool.Open(path)
	defer s.Close()

	lengths, got, err := collect(t, s)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	want := []int{2097152, 2097152, 805696}
	if len(lengths) != len(want) {
		t.Fatalf("expected chunk lengths %v, got %v", want, lengths)
	}
	for i := range want {
		if lengths[i] != want[i] {
			t.Errorf("chunk %d: expected %d bytes, got %d", i, want[i], lengths[i])
		}
	}

	var sum int64
	for _, n := range lengths {
		sum += int64(n)
	}
	if sum != info.Size() {
		t.Errorf("sum of chunks %d != stat size %d", sum, info.Size())
	}
	if !bytes.Equal(got, data) {
		t.Error("streamed bytes differ from file contents")
	}
}

func TestChunkBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		chunkSize int
		want      []int
	}{
		{name: "empty file", size: 0, chunkSize: 4, want: nil},
		{name: "smaller than chunk", size: 3, chunkSize: 4, want: []int{3}},
		{name: "exact chunk", size: 4, chunkSize: 4, want: []int{4}},
		{name: "exact multiple", size: 12, chunkSize: 4, want: []int{4, 4, 4}},
		{name: "remainder", size: 10, chunkSize: 4, want: []int{4, 4, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, data := writeTestFile(t, tt.size)
			pool := NewPool(Options{ChunkSize: tt.chunkSize, Workers: 2})
			s := pool.Open(path)
			defer s.Close()

			lengths, got, err := collect(t, s)
			if err != nil {
				t.Fatalf("stream failed: %v", err)
			}
			if len(lengths) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, lengths)
			}
			for i := range tt.want {
				if lengths[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, lengths)
					break
				}
			}
			if !bytes.Equal(got, data) {
				t.Error("content mismatch")
			}
		})
	}
}

func TestOpenMissingFile(t *testing.T) {
	pool := NewPool(Options{})
	s := pool.Open(filepath.Join(t.TempDir(), "nope"))
	defer s.Close()

	_, err := s.Next(context.Background())
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected OpenError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped ErrNotExist, got %v", err)
	}

	// The error is yielded once, then the stream is over
	if _, err := s.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after error, got %v", err)
	}
}

func TestReadErrorIsTerminal(t *testing.T) {
	// Opening a directory succeeds; reading it fails
	pool := NewPool(Options{})
	s := pool.Open(t.TempDir())
	defer s.Close()

	_, err := s.Next(context.Background())
	var readErr *ReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("expected ReadError, got %v", err)
	}
	if readErr.Offset != 0 {
		t.Errorf("expected offset 0, got %d", readErr.Offset)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after error, got %v", err)
	}
}

func TestPollIsNonBlocking(t *testing.T) {
	path, _ := writeTestFile(t, 10)
	pool := NewPool(Options{ChunkSize: 4})
	s := pool.Open(path)
	defer s.Close()

	// The first poll only schedules the open
	if _, err := s.Poll(); !errors.Is(err, ErrPending) {
		t.Fatalf("expected ErrPending on first poll, got %v", err)
	}

	var lengths []int
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		chunk, err := s.Poll()
		if errors.Is(err, ErrPending) {
			<-s.wake()
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		lengths = append(lengths, len(chunk))
	}

	if len(lengths) != 3 || lengths[2] != 2 {
		t.Errorf("expected [4 4 2], got %v", lengths)
	}
}

func TestNextHonorsContext(t *testing.T) {
	path, _ := writeTestFile(t, 10)
	pool := NewPool(Options{Workers: 1, ChunkSize: 4})

	// Occupy the only worker so the open cannot start
	release := make(chan struct{})
	started := make(chan struct{})
	pool.submit(func() {
		close(started)
		<-release
	})
	<-started

	s := pool.Open(path)
	defer s.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := s.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestCloseMidStream(t *testing.T) {
	path, _ := writeTestFile(t, 100)
	pool := NewPool(Options{ChunkSize: 10})
	s := pool.Open(path)

	if _, err := s.Next(context.Background()); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestCloseBeforeOpenCompletes(t *testing.T) {
	path, _ := writeTestFile(t, 10)
	pool := NewPool(Options{})
	s := pool.Open(path)

	s.Poll() // schedules the open
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.file != nil {
		t.Error("file handle left open")
	}
}

func TestEmptyStream(t *testing.T) {
	s := Empty()
	defer s.Close()

	chunk, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunk == nil || len(chunk) != 0 {
		t.Errorf("expected one zero-length chunk, got %v", chunk)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.Next(context.Background()); !errors.Is(err, io.EOF) {
			t.Errorf("expected io.EOF, got %v", err)
		}
	}
}

func TestAll(t *testing.T) {
	path, data := writeTestFile(t, 25)
	pool := NewPool(Options{ChunkSize: 10})
	s := pool.Open(path)
	defer s.Close()

	var got []byte
	count := 0
	for chunk, err := range All(context.Background(), s) {
		if err != nil {
			t.Fatalf("iteration error: %v", err)
		}
		got = append(got, chunk...)
		count++
	}
	if count != 3 {
		t.Errorf("expected 3 chunks, got %d", count)
	}
	if !bytes.Equal(got, data) {
		t.Error("content mismatch")
	}
}

type flushRecorder struct {
	bytes.Buffer
	flushes int
}

func (f *flushRecorder) Flush() { f.flushes++ }

func TestCopy(t *testing.T) {
	path, data := writeTestFile(t, 25)
	pool := NewPool(Options{ChunkSize: 10})
	s := pool.Open(path)
	defer s.Close()

	var w flushRecorder
	n, err := Copy(context.Background(), &w, s)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if n != 25 {
		t.Errorf("expected 25 bytes, got %d", n)
	}
	if !bytes.Equal(w.Bytes(), data) {
		t.Error("content mismatch")
	}
	if w.flushes != 3 {
		t.Errorf("expected 3 flushes, got %d", w.flushes)
	}
}

func TestCopyEmpty(t *testing.T) {
	var w bytes.Buffer
	n, err := Copy(context.Background(), &w, Empty())
	if err != nil || n != 0 || w.Len() != 0 {
		t.Errorf("expected empty copy, got n=%d err=%v", n, err)
	}
}

func TestPoolStats(t *testing.T) {
	path, _ := writeTestFile(t, 10)
	pool := NewPool(Options{ChunkSize: 4})
	s := pool.Open(path)
	collect(t, s)
	s.Close()

	_, total := pool.Stats()
	// one open plus four reads (4, 4, 2, then the empty read)
	if total != 5 {
		t.Errorf("expected 5 operations, got %d", total)
	}
}
