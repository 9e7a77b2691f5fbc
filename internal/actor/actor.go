// Package actor runs commands against a resource that must only ever be
// touched by one thread.
//
// An Actor takes ownership of the resource when it is created and hands
// it to a single goroutine locked to its own OS thread. Callers never see
// the resource again; they Submit commands, which the actor executes one
// at a time in submission order. Results travel back through whatever
// the command closes over, typically a promise.Promise.
package actor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ErrClosed is returned by Submit once the actor no longer accepts commands
var ErrClosed = errors.New("actor: closed")

// DefaultQueueSize is the submission buffer used when Options.QueueSize is zero
const DefaultQueueSize = 64

// Command is one unit of work for the actor.
type Command[R any] struct {
	// Name identifies the command in logs
	Name string

	// Run executes against the owned resource on the actor thread.
	// It is responsible for delivering its own result.
	Run func(resource R)

	// Fail is called if Run panics, so the submitter is never left
	// waiting. Optional.
	Fail func(err error)
}

// PanicError carries a value recovered from a panicking command
type PanicError struct {
	Command string
	Value   any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("actor: command %s panicked: %v", e.Command, e.Value)
}

// Options configures an Actor
type Options struct {
	// QueueSize is the number of commands that can wait for execution.
	// Default: DefaultQueueSize
	QueueSize int

	// Logger for actor lifecycle events (optional)
	Logger *zerolog.Logger
}

// Actor owns a resource of type R and serializes all access to it
type Actor[R any] struct {
	queue    chan Command[R]
	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
	closeErr error
	resource R
	log      zerolog.Logger

	processed atomic.Uint64
	panics    atomic.Uint64
}

// New starts the actor thread and moves resource into it.
// If R implements io.Closer, the resource is closed when the actor stops.
func New[R any](resource R, opts Options) *Actor[R] {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	a := &Actor[R]{
		queue:    make(chan Command[R], size),
		done:     make(chan struct{}),
		resource: resource,
		log:      logger.With().Str("component", "actor").Logger(),
	}
	go a.loop()
	return a
}

// Submit enqueues a command. It blocks only while the queue is full.
// Commands from one goroutine execute in the order they were submitted.
func (a *Actor[R]) Submit(ctx context.Context, cmd Command[R]) error {
	if cmd.Run == nil {
		return fmt.Errorf("actor: command %s has no Run func", cmd.Name)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	select {
	case a.queue <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting commands, waits for the queued ones to finish and
// releases the resource. Safe to call more than once.
func (a *Actor[R]) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	<-a.done
	return a.closeErr
}

// Done is closed after the actor thread has exited
func (a *Actor[R]) Done() <-chan struct{} {
	return a.done
}

// Processed returns how many commands have been executed
func (a *Actor[R]) Processed() uint64 {
	return a.processed.Load()
}

// Pending returns how many commands are waiting in the queue
func (a *Actor[R]) Pending() int {
	return len(a.queue)
}

func (a *Actor[R]) loop() {
	// The goroutine never unlocks, so the thread is discarded with it
	runtime.LockOSThread()
	defer close(a.done)

	a.log.Debug().Int("queue_size", cap(a.queue)).Msg("actor started")

	for cmd := range a.queue {
		a.execute(cmd)
	}

	if closer, ok := any(a.resource).(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.closeErr = fmt.Errorf("failed to close resource: %w", err)
			a.log.Error().Err(err).Msg("resource close failed")
		}
	}

	a.log.Debug().
		Uint64("processed", a.processed.Load()).
		Uint64("panics", a.panics.Load()).
		Msg("actor stopped")
}

func (a *Actor[R]) execute(cmd Command[R]) {
	defer a.processed.Add(1)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		a.panics.Add(1)
		a.log.Error().Str("command", cmd.Name).Interface("panic", r).Msg("command panicked")
		if cmd.Fail != nil {
			cmd.Fail(&PanicError{Command: cmd.Name, Value: r})
		}
	}()

	cmd.Run(a.resource)
}
