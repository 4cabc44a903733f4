// Package chainstate implements the UTXO key/value store the compaction
// engine rewinds, snapshots, and reloads. Spec-wise this is the
// out-of-scope "ChainStateStore" collaborator (AddCoin, GetBestBlock,
// SetBestBlock, Flush, GetSize) — this package gives it a concrete,
// swappable implementation so the snapshot builder and loader are
// testable end to end.
package chainstate

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/coinutxo"
	"github.com/coinprune/coinprune/kv"
)

var (
	// ErrCoinExists is returned by AddCoin when overwrite is false and the
	// OutPoint is already present.
	ErrCoinExists  = errors.New("coin already exists")
	errNoBestBlock = errors.New("no best block set")
)

var (
	coinPrefix   = []byte{0x01}
	bestBlockKey = []byte{0x00, 'b'}
)

// Store is the UTXO set: OutPoint -> Coin, plus the tip pointer the store
// is consistent with.
type Store interface {
	GetCoin(op coinutxo.OutPoint) (coinutxo.Coin, bool, error)
	AddCoin(op coinutxo.OutPoint, coin coinutxo.Coin, overwrite bool) error
	DeleteCoin(op coinutxo.OutPoint) error

	GetBestBlock() (chainhash.Hash, error)
	SetBestBlock(hash chainhash.Hash) error

	// GetSize returns the number of coins currently stored.
	GetSize() (int, error)

	// Iterate walks every coin in canonical OutPoint order, stopping early
	// if fn returns false or a non-nil error.
	Iterate(fn func(coinutxo.OutPoint, coinutxo.Coin) (bool, error)) error

	// Flush persists any buffered writes. A no-op for backends without
	// write buffering.
	Flush() error

	Close() error
}

// kvStore implements Store on top of an arbitrary kv.Database. Because
// kv.Database iterates keys in ascending lexicographic order and OutPoints
// are encoded as fixed-width big-endian-equivalent byte strings, iteration
// order over coinKey(op) is exactly the canonical OutPoint order the
// snapshot builder requires — no separate sort step needed.
type kvStore struct {
	db kv.Database
}

// New wraps db as a Store.
func New(db kv.Database) Store {
	return &kvStore{db: db}
}

func coinKey(op coinutxo.OutPoint) []byte {
	key := make([]byte, 0, len(coinPrefix)+chainhash.Size+4)
	key = append(key, coinPrefix...)
	key = append(key, op.Hash[:]...)
	key = append(key, byte(op.Index>>24), byte(op.Index>>16), byte(op.Index>>8), byte(op.Index))
	return key
}

func decodeCoinKey(key []byte) (coinutxo.OutPoint, error) {
	if len(key) != len(coinPrefix)+chainhash.Size+4 {
		return coinutxo.OutPoint{}, fmt.Errorf("malformed coin key of length %d", len(key))
	}
	body := key[len(coinPrefix):]
	var op coinutxo.OutPoint
	copy(op.Hash[:], body[:chainhash.Size])
	idx := body[chainhash.Size:]
	op.Index = uint32(idx[0])<<24 | uint32(idx[1])<<16 | uint32(idx[2])<<8 | uint32(idx[3])
	return op, nil
}

func (s *kvStore) GetCoin(op coinutxo.OutPoint) (coinutxo.Coin, bool, error) {
	raw, err := s.db.Get(coinKey(op))
	if errors.Is(err, kv.ErrNotFound) {
		return coinutxo.Coin{}, false, nil
	}
	if err != nil {
		return coinutxo.Coin{}, false, err
	}
	coin, err := coinutxo.DecodeCoin(bytes.NewReader(raw))
	if err != nil {
		return coinutxo.Coin{}, false, fmt.Errorf("decoding stored coin: %w", err)
	}
	return coin, true, nil
}

func (s *kvStore) AddCoin(op coinutxo.OutPoint, coin coinutxo.Coin, overwrite bool) error {
	if !overwrite {
		has, err := s.db.Has(coinKey(op))
		if err != nil {
			return err
		}
		if has {
			return fmt.Errorf("%w: %s", ErrCoinExists, op.Hash)
		}
	}
	var buf bytes.Buffer
	if err := coin.Encode(&buf); err != nil {
		return err
	}
	return s.db.Put(coinKey(op), buf.Bytes())
}

func (s *kvStore) DeleteCoin(op coinutxo.OutPoint) error {
	return s.db.Delete(coinKey(op))
}

func (s *kvStore) GetBestBlock() (chainhash.Hash, error) {
	raw, err := s.db.Get(bestBlockKey)
	if errors.Is(err, kv.ErrNotFound) {
		return chainhash.Hash{}, errNoBestBlock
	}
	if err != nil {
		return chainhash.Hash{}, err
	}
	return chainhash.FromBytes(raw)
}

func (s *kvStore) SetBestBlock(hash chainhash.Hash) error {
	return s.db.Put(bestBlockKey, hash.Bytes())
}

func (s *kvStore) GetSize() (int, error) {
	return s.db.Len(coinPrefix)
}

func (s *kvStore) Iterate(fn func(coinutxo.OutPoint, coinutxo.Coin) (bool, error)) error {
	it := s.db.NewIteratorWithPrefix(coinPrefix)
	defer it.Release()

	for it.Next() {
		op, err := decodeCoinKey(it.Key())
		if err != nil {
			return err
		}
		coin, err := coinutxo.DecodeCoin(bytes.NewReader(it.Value()))
		if err != nil {
			return fmt.Errorf("decoding coin at %s: %w", op.Hash, err)
		}
		cont, err := fn(op, coin)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return it.Error()
}

func (s *kvStore) Flush() error {
	return nil
}

func (s *kvStore) Close() error {
	return s.db.Close()
}
