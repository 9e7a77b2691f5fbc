package stream

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/amaydixit11/shortbin/internal/promise"
	"github.com/rs/zerolog"
)

// DefaultChunkSize is the size of every chunk but the last (2 MiB)
const DefaultChunkSize = 2 << 20

// Options configures a Pool
type Options struct {
	// ChunkSize is the read size per chunk. Default: DefaultChunkSize
	ChunkSize int

	// Workers bounds the number of blocking file operations in flight.
	// Default: max(runtime.NumCPU(), 4)
	Workers int

	// Logger (optional)
	Logger *zerolog.Logger
}

// Pool runs blocking file operations on a bounded number of goroutines
type Pool struct {
	sem       chan struct{}
	chunkSize int
	log       zerolog.Logger

	active atomic.Int64
	total  atomic.Int64
}

// NewPool creates a worker pool for file streams
func NewPool(opts Options) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers < 4 {
			workers = 4
		}
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Pool{
		sem:       make(chan struct{}, workers),
		chunkSize: chunkSize,
		log:       logger.With().Str("component", "stream").Logger(),
	}
}

// ChunkSize returns the configured chunk size
func (p *Pool) ChunkSize() int {
	return p.chunkSize
}

// Stats returns the number of operations running now and in total
func (p *Pool) Stats() (active, total int64) {
	return p.active.Load(), p.total.Load()
}

// Open returns a stream over the file at path. Nothing touches the
// filesystem until the first Next or Poll.
func (p *Pool) Open(path string) *FileStream {
	return &FileStream{pool: p, path: path}
}

// Stat runs os.Stat on a worker. Callers use it to learn the size a
// stream will produce before opening it.
func (p *Pool) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	pr := promise.New[fs.FileInfo]()
	p.submit(func() {
		pr.Resolve(os.Stat(path))
	})
	info, err := pr.Await(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return info, nil
}

// submit schedules fn without blocking the caller.
// fn waits for a free slot on its own goroutine.
func (p *Pool) submit(fn func()) {
	go func() {
		p.sem <- struct{}{}
		p.active.Add(1)
		p.total.Add(1)
		defer func() {
			p.active.Add(-1)
			<-p.sem
		}()
		fn()
	}()
}
