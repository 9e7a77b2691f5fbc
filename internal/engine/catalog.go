package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amaydixit11/shortbin/internal/actor"
	"github.com/amaydixit11/shortbin/internal/core"
	"github.com/amaydixit11/shortbin/internal/promise"
	"github.com/amaydixit11/shortbin/internal/storage"
	"github.com/amaydixit11/shortbin/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

// ErrChannelClosed is returned when a command cannot be handed to the
// catalog thread because it has stopped. Every later call fails the same
// way until a new Catalog is created.
var ErrChannelClosed = fmt.Errorf("catalog unreachable: %w", actor.ErrClosed)

// Options configures a Catalog
type Options struct {
	// QueueSize is the number of commands that may wait for the catalog thread
	QueueSize int

	// Logger (optional)
	Logger *zerolog.Logger

	// Clock for catalog timestamps; only used by Open
	Clock core.Clock
}

// Catalog is the asynchronous front of a storage.Store.
// The store is owned by a dedicated actor thread; every method copies its
// arguments, submits a command and waits for the result. Commands issued
// through one Catalog run in strict FIFO order.
type Catalog struct {
	actor  *actor.Actor[storage.Store]
	events *EventBus
	log    zerolog.Logger
}

// lookupResult carries both halves of an optional result through a promise
type lookupResult[T any] struct {
	value T
	found bool
}

// NewCatalog moves store into a new actor thread.
// The caller must not use store afterwards.
func NewCatalog(store storage.Store, opts Options) *Catalog {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "catalog").Logger()

	return &Catalog{
		actor: actor.New(store, actor.Options{
			QueueSize: opts.QueueSize,
			Logger:    &logger,
		}),
		events: NewEventBus(),
		log:    logger,
	}
}

// Open opens the SQLite catalog at path and wraps it in a Catalog
func Open(path string, opts Options) (*Catalog, error) {
	var sqliteOpts []sqlite.Option
	if opts.Clock != nil {
		sqliteOpts = append(sqliteOpts, sqlite.WithClock(opts.Clock))
	}

	store, err := sqlite.New(path, sqliteOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	return NewCatalog(store, opts), nil
}

// Lookup resolves code. found is false when the code was never inserted.
func (c *Catalog) Lookup(ctx context.Context, code string) (ref core.FileRef, found bool, err error) {
	code = strings.Clone(code)
	res, err := call(ctx, c, "lookup", func(s storage.Store) (lookupResult[core.FileRef], error) {
		ref, ok, err := s.Lookup(code)
		return lookupResult[core.FileRef]{value: ref, found: ok}, err
	})
	return res.value, res.found, err
}

// RecordView counts one view of code. A missing code is not an error.
func (c *Catalog) RecordView(ctx context.Context, code string) error {
	code = strings.Clone(code)
	_, err := call(ctx, c, "record_view", func(s storage.Store) (struct{}, error) {
		if err := s.RecordView(code); err != nil {
			return struct{}{}, err
		}
		c.events.Publish(Event{Type: EventViewed, Code: code, Timestamp: time.Now()})
		return struct{}{}, nil
	})
	return err
}

// Insert adds a new entry. A taken code fails with an error matching
// storage.ErrDuplicateCode; no retry happens here.
func (c *Catalog) Insert(ctx context.Context, code, contentHash, contentType, fileExtension string) error {
	code = strings.Clone(code)
	contentHash = strings.Clone(contentHash)
	contentType = strings.Clone(contentType)
	fileExtension = strings.Clone(fileExtension)

	_, err := call(ctx, c, "insert", func(s storage.Store) (struct{}, error) {
		if err := s.Insert(code, contentHash, contentType, fileExtension); err != nil {
			return struct{}{}, err
		}
		c.events.Publish(Event{
			Type:        EventInserted,
			Code:        code,
			ContentHash: contentHash,
			ContentType: contentType,
			Timestamp:   time.Now(),
		})
		return struct{}{}, nil
	})
	return err
}

// Stat returns the full catalog entry for code
func (c *Catalog) Stat(ctx context.Context, code string) (core.Entry, bool, error) {
	code = strings.Clone(code)
	res, err := call(ctx, c, "stat", func(s storage.Store) (lookupResult[core.Entry], error) {
		entry, ok, err := s.Stat(code)
		return lookupResult[core.Entry]{value: entry, found: ok}, err
	})
	return res.value, res.found, err
}

// Events returns the bus catalog changes are published on
func (c *Catalog) Events() *EventBus {
	return c.events
}

// Pending returns the number of commands waiting for the catalog thread
func (c *Catalog) Pending() int {
	return c.actor.Pending()
}

// Close waits for queued commands, then closes the store
func (c *Catalog) Close() error {
	err := c.actor.Close()
	c.events.Close()
	return err
}

// call runs fn on the catalog thread and waits for its result.
// If ctx ends while waiting, the command still runs; its result is dropped.
func call[T any](ctx context.Context, c *Catalog, name string, fn func(storage.Store) (T, error)) (T, error) {
	p := promise.New[T]()

	err := c.actor.Submit(ctx, actor.Command[storage.Store]{
		Name: name,
		Run: func(s storage.Store) {
			p.Resolve(fn(s))
		},
		Fail: func(err error) {
			p.Fail(err)
		},
	})
	if err != nil {
		var zero T
		if errors.Is(err, actor.ErrClosed) {
			return zero, fmt.Errorf("failed to submit %s: %w", name, ErrChannelClosed)
		}
		return zero, fmt.Errorf("failed to submit %s: %w", name, err)
	}

	v, err := p.Await(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		c.log.Debug().Str("command", name).Err(err).Msg("caller abandoned catalog command")
	}
	return v, err
}
