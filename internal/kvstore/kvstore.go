// Package kvstore provides a durable single-slot string store with snapshot
// streaming. A slot holds one value; every committed write replaces the whole
// value atomically and is pushed to all watchers.
package kvstore

import "context"

// Slot is a named single-value store. Implementations must deliver the current
// value to a new watcher immediately, then push one snapshot after every
// successful Write, including writes made through other handles of the same
// slot.
type Slot interface {
	// Read returns the current value, or the slot's default when unset.
	Read(ctx context.Context) (string, error)

	// Write commits a full replacement value in one transaction.
	Write(ctx context.Context, value string) error

	// Watch returns a stream of value snapshots. The channel is closed when
	// ctx is cancelled or the underlying store is closed. Watchers observe
	// the latest value; intermediate values may be conflated under load.
	Watch(ctx context.Context) <-chan string
}
