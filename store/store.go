// Package store provides the backing stores that object-graph contexts flush
// their pending changes to. Every store exposes the same small key-value
// surface and applies a ChangeSet atomically: either all of its writes and
// deletes become visible or none do.
package store

import "context"

// Store translates between external storage and the flat key-value namespace
// used by contexts. Implementations perform I/O on each call without caching
// and must be safe for concurrent use.
type Store interface {
	// List returns all keys currently held by the store.
	List(ctx context.Context) ([]string, error)
	// Load retrieves entries for the specified keys. A missing key fails the
	// whole call with ErrKeyNotFound.
	Load(ctx context.Context, keys ...string) ([]Entry, error)
	// Commit applies every write and delete in cs as one unit.
	Commit(ctx context.Context, cs ChangeSet) error
	// Close releases connections or handles owned by the store.
	Close() error
}
