package kv

import (
	"slices"
	"sort"
	"strings"
	"sync"
)

var _ Database = (*MemDB)(nil)

// MemDB is an ephemeral, goroutine-safe key/value store. It backs the
// compaction builder's private overlay view and stands in for a real
// on-disk store in tests.
type MemDB struct {
	lock sync.RWMutex
	data map[string][]byte
}

// NewMem returns an empty MemDB.
func NewMem() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (db *MemDB) Has(key []byte) (bool, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()
	if db.data == nil {
		return false, ErrClosed
	}
	_, ok := db.data[string(key)]
	return ok, nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()
	if db.data == nil {
		return nil, ErrClosed
	}
	v, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (db *MemDB) Put(key, value []byte) error {
	db.lock.Lock()
	defer db.lock.Unlock()
	if db.data == nil {
		return ErrClosed
	}
	db.data[string(key)] = slices.Clone(value)
	return nil
}

func (db *MemDB) Delete(key []byte) error {
	db.lock.Lock()
	defer db.lock.Unlock()
	if db.data == nil {
		return ErrClosed
	}
	delete(db.data, string(key))
	return nil
}

func (db *MemDB) Len(prefix []byte) (int, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()
	if db.data == nil {
		return 0, ErrClosed
	}
	n := 0
	p := string(prefix)
	for k := range db.data {
		if strings.HasPrefix(k, p) {
			n++
		}
	}
	return n, nil
}

func (db *MemDB) Close() error {
	db.lock.Lock()
	defer db.lock.Unlock()
	if db.data == nil {
		return ErrClosed
	}
	db.data = nil
	return nil
}

// Copy returns an independent MemDB with the same contents as db, so the
// copy can be mutated without touching db.
func Copy(db *MemDB) *MemDB {
	db.lock.RLock()
	defer db.lock.RUnlock()
	out := NewMem()
	for k, v := range db.data {
		out.data[k] = slices.Clone(v)
	}
	return out
}

func (db *MemDB) NewIteratorWithPrefix(prefix []byte) Iterator {
	db.lock.RLock()
	defer db.lock.RUnlock()

	p := string(prefix)
	keys := make([]string, 0, len(db.data))
	for k := range db.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	return &memIterator{db: db, keys: keys, pos: -1}
}

type memIterator struct {
	db   *MemDB
	keys []string
	pos  int
}

func (it *memIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *memIterator) Key() []byte {
	return []byte(it.keys[it.pos])
}

func (it *memIterator) Value() []byte {
	it.db.lock.RLock()
	defer it.db.lock.RUnlock()
	return slices.Clone(it.db.data[it.keys[it.pos]])
}

func (it *memIterator) Error() error { return nil }
func (it *memIterator) Release()     {}
