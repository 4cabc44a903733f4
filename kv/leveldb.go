package kv

import (
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var _ Database = (*LevelDB)(nil)

// LevelDB is the on-disk Database backing the live chainstate store.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (creating if necessary) a LevelDB-backed Database at
// path, reserving cacheBytes of block cache — the same cache-sizing knob
// the node exposes as compaction_coindbcache.
func OpenLevelDB(path string, cacheBytes int) (*LevelDB, error) {
	opts := &opt.Options{
		BlockCacheCapacity: cacheBytes,
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) Len(prefix []byte) (int, error) {
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}

func (l *LevelDB) NewIteratorWithPrefix(prefix []byte) Iterator {
	return &levelIterator{it: l.db.NewIterator(util.BytesPrefix(prefix), nil)}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelIterator struct {
	it iterator.Iterator
}

func (it *levelIterator) Next() bool    { return it.it.Next() }
func (it *levelIterator) Key() []byte   { return cloneBytes(it.it.Key()) }
func (it *levelIterator) Value() []byte { return cloneBytes(it.it.Value()) }
func (it *levelIterator) Error() error  { return it.it.Error() }
func (it *levelIterator) Release()      { it.it.Release() }

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// IsCorrupted reports whether err indicates LevelDB detected on-disk
// corruption, matching the node's "do not silently keep serving from a
// corrupted chainstate" policy.
func IsCorrupted(err error) bool {
	return strings.Contains(err.Error(), "corrupt") || errors.IsCorrupted(err)
}
