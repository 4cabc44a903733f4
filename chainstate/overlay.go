package chainstate

import (
	"sort"

	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/coinutxo"
	"github.com/coinprune/coinprune/kv"
)

// NewOverlay returns a private Store layered on top of base: reads fall
// through to base when not shadowed locally, and all writes land in an
// in-memory MemDB that base never sees. The snapshot builder rewinds this
// overlay to the target height so readers of the canonical chainstate are
// never affected.
func NewOverlay(base Store) Store {
	return &overlayStore{
		base:       base,
		local:      New(kv.NewMem()),
		tombstones: make(map[coinutxo.OutPoint]struct{}),
	}
}

type overlayStore struct {
	base       Store
	local      Store
	bestBlock  *chainhash.Hash
	tombstones map[coinutxo.OutPoint]struct{}
}

func (o *overlayStore) GetCoin(op coinutxo.OutPoint) (coinutxo.Coin, bool, error) {
	if coin, ok, err := o.local.GetCoin(op); err != nil {
		return coinutxo.Coin{}, false, err
	} else if ok {
		return coin, true, nil
	}
	if _, tombstoned := o.tombstones[op]; tombstoned {
		return coinutxo.Coin{}, false, nil
	}
	return o.base.GetCoin(op)
}

func (o *overlayStore) AddCoin(op coinutxo.OutPoint, coin coinutxo.Coin, overwrite bool) error {
	if !overwrite {
		if _, ok, err := o.GetCoin(op); err != nil {
			return err
		} else if ok {
			return ErrCoinExists
		}
	}
	delete(o.tombstones, op)
	return o.local.AddCoin(op, coin, true)
}

func (o *overlayStore) DeleteCoin(op coinutxo.OutPoint) error {
	if err := o.local.DeleteCoin(op); err != nil {
		return err
	}
	o.tombstones[op] = struct{}{}
	return nil
}

func (o *overlayStore) GetBestBlock() (chainhash.Hash, error) {
	if o.bestBlock != nil {
		return *o.bestBlock, nil
	}
	return o.base.GetBestBlock()
}

func (o *overlayStore) SetBestBlock(hash chainhash.Hash) error {
	o.bestBlock = &hash
	return nil
}

func (o *overlayStore) GetSize() (int, error) {
	baseSize, err := o.base.GetSize()
	if err != nil {
		return 0, err
	}
	localSize, err := o.local.GetSize()
	if err != nil {
		return 0, err
	}
	overlapping := 0
	if err := o.local.Iterate(func(op coinutxo.OutPoint, _ coinutxo.Coin) (bool, error) {
		if _, ok, err := o.base.GetCoin(op); err == nil && ok {
			overlapping++
		}
		return true, nil
	}); err != nil {
		return 0, err
	}
	hidden := 0
	for op := range o.tombstones {
		if _, ok, err := o.base.GetCoin(op); err != nil {
			return 0, err
		} else if ok {
			hidden++
		}
	}
	return baseSize + localSize - overlapping - hidden, nil
}

// Iterate merges the local overlay with the base store in canonical
// OutPoint order, preferring the overlay's version of any OutPoint present
// in both, and skipping tombstoned OutPoints from the base.
func (o *overlayStore) Iterate(fn func(coinutxo.OutPoint, coinutxo.Coin) (bool, error)) error {
	merged := make(map[coinutxo.OutPoint]coinutxo.Coin)

	if err := o.base.Iterate(func(op coinutxo.OutPoint, c coinutxo.Coin) (bool, error) {
		if _, tombstoned := o.tombstones[op]; !tombstoned {
			merged[op] = c
		}
		return true, nil
	}); err != nil {
		return err
	}
	if err := o.local.Iterate(func(op coinutxo.OutPoint, c coinutxo.Coin) (bool, error) {
		merged[op] = c
		return true, nil
	}); err != nil {
		return err
	}

	ordered := make([]coinutxo.OutPoint, 0, len(merged))
	for op := range merged {
		ordered = append(ordered, op)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })

	for _, op := range ordered {
		cont, err := fn(op, merged[op])
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (o *overlayStore) Flush() error { return nil }
func (o *overlayStore) Close() error { return nil }
