// Package stream serves files as a lazily pulled sequence of chunks.
//
// Opening and reading a file are blocking operations. A FileStream never
// performs them on the caller's goroutine: each one is handed to a Pool,
// a bounded set of workers, and its result comes back through a
// promise.Promise. The consumer pulls with Next (blocking, context aware)
// or Poll (non-blocking, returns ErrPending while an operation is in
// flight).
//
// A FileStream moves through three states:
//
//	opening -> reading (repeated) -> exhausted
//
// and is not restartable. Every chunk except the last is exactly
// ChunkSize bytes; the lengths add up to the file's size at open time.
//
// Empty returns a stream that yields a single zero-length chunk without
// touching the filesystem, for responses that need a body-shaped value
// with no content.
package stream
