// Package kv defines the minimal key/value contract the chainstate store is
// built on, plus two implementations: an in-memory one for tests and the
// compacting private view, and a LevelDB-backed one for the real on-disk
// chainstate.
package kv

import "errors"

// ErrClosed is returned by any operation on a closed Database.
var ErrClosed = errors.New("closed")

// ErrNotFound is returned by Get when the key doesn't exist.
var ErrNotFound = errors.New("not found")

// Iterator walks a range of keys in ascending lexicographic order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

// Database is a sorted byte-string key/value store. Keys are iterated in
// ascending lexicographic order, which is what lets the chainstate store
// get canonical OutPoint ordering for free from key encoding.
type Database interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error

	// NewIteratorWithPrefix returns an Iterator over all keys sharing the
	// given prefix, in ascending order.
	NewIteratorWithPrefix(prefix []byte) Iterator

	// Len reports how many keys currently exist under prefix. O(n) for the
	// in-memory implementation; O(n) for LevelDB too, since it has no
	// maintained key count — callers needing GetSize should prefer a
	// cached counter over calling this on a hot path.
	Len(prefix []byte) (int, error)

	Close() error
}
