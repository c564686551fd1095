// Package cache provides generic, thread-safe caches used as advisory layers
// in front of authoritative stores. A cache miss only adds latency; cache
// failures are never surfaced to callers of the primary read/write path.
package cache

import (
	"github.com/c360/metagraph/errors"
)

// Cache is the generic cache interface. Implementations are safe for
// concurrent use and always collect statistics.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found.
	Get(key string) (V, bool)

	// Set stores a value. Returns true if a new entry was created,
	// false if an existing entry was updated.
	Set(key string, value V) (bool, error)

	// Delete removes an entry. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries.
	Clear() error

	// Size returns the current number of entries.
	Size() int

	// Stats returns cache statistics.
	Stats() *Statistics

	// Close releases any resources held by the cache.
	Close() error
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapValidation(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
