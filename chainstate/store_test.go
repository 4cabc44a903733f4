package chainstate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/coinutxo"
	"github.com/coinprune/coinprune/kv"
)

// runStoreSuite exercises the Store contract against any backend, the way
// the node's generic database test suite runs against every kv.Database
// implementation.
func runStoreSuite(t *testing.T, newStore func() Store) {
	t.Run("AddAndGetCoin", func(t *testing.T) {
		require := require.New(t)
		s := newStore()
		op := coinutxo.OutPoint{Hash: chainhash.HashBytes([]byte("tx1")), Index: 0}
		coin := coinutxo.Coin{Amount: 100, Script: []byte{1, 2, 3}, IsCoinbase: true, Height: 5}

		require.NoError(s.AddCoin(op, coin, false))
		got, ok, err := s.GetCoin(op)
		require.NoError(err)
		require.True(ok)
		require.Equal(coin, got)
	})

	t.Run("AddCoinRejectsDuplicateWithoutOverwrite", func(t *testing.T) {
		require := require.New(t)
		s := newStore()
		op := coinutxo.OutPoint{Hash: chainhash.HashBytes([]byte("tx2")), Index: 1}
		coin := coinutxo.Coin{Amount: 1}

		require.NoError(s.AddCoin(op, coin, false))
		err := s.AddCoin(op, coin, false)
		require.ErrorIs(err, ErrCoinExists)
		require.NoError(s.AddCoin(op, coin, true))
	})

	t.Run("DeleteCoin", func(t *testing.T) {
		require := require.New(t)
		s := newStore()
		op := coinutxo.OutPoint{Hash: chainhash.HashBytes([]byte("tx3")), Index: 0}
		require.NoError(s.AddCoin(op, coinutxo.Coin{Amount: 1}, false))
		require.NoError(s.DeleteCoin(op))
		_, ok, err := s.GetCoin(op)
		require.NoError(err)
		require.False(ok)
	})

	t.Run("BestBlockRoundTrip", func(t *testing.T) {
		require := require.New(t)
		s := newStore()
		_, err := s.GetBestBlock()
		require.Error(err)

		h := chainhash.HashBytes([]byte("block-2"))
		require.NoError(s.SetBestBlock(h))
		got, err := s.GetBestBlock()
		require.NoError(err)
		require.Equal(h, got)
	})

	t.Run("IterateIsCanonicallyOrdered", func(t *testing.T) {
		require := require.New(t)
		s := newStore()
		ops := []coinutxo.OutPoint{
			{Hash: chainhash.HashBytes([]byte("b")), Index: 0},
			{Hash: chainhash.HashBytes([]byte("a")), Index: 1},
			{Hash: chainhash.HashBytes([]byte("a")), Index: 0},
		}
		for _, op := range ops {
			require.NoError(s.AddCoin(op, coinutxo.Coin{Amount: 1}, false))
		}

		var seen []coinutxo.OutPoint
		require.NoError(s.Iterate(func(op coinutxo.OutPoint, _ coinutxo.Coin) (bool, error) {
			seen = append(seen, op)
			return true, nil
		}))

		require.Len(seen, 3)
		for i := 1; i < len(seen); i++ {
			require.True(seen[i-1].Less(seen[i]))
		}
	})

	t.Run("GetSize", func(t *testing.T) {
		require := require.New(t)
		s := newStore()
		n, err := s.GetSize()
		require.NoError(err)
		require.Equal(0, n)

		require.NoError(s.AddCoin(coinutxo.OutPoint{Index: 0}, coinutxo.Coin{}, false))
		n, err = s.GetSize()
		require.NoError(err)
		require.Equal(1, n)
	})
}

func TestMemStore(t *testing.T) {
	runStoreSuite(t, func() Store { return New(kv.NewMem()) })
}

func TestLevelDBStore(t *testing.T) {
	runStoreSuite(t, func() Store {
		dir := t.TempDir()
		db, err := kv.OpenLevelDB(filepath.Join(dir, "chainstate"), 0)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		return New(db)
	})
}

func TestOverlayShadowsBaseWrites(t *testing.T) {
	require := require.New(t)

	base := New(kv.NewMem())
	baseOp := coinutxo.OutPoint{Hash: chainhash.HashBytes([]byte("base")), Index: 0}
	require.NoError(base.AddCoin(baseOp, coinutxo.Coin{Amount: 7}, false))

	overlay := NewOverlay(base)

	// overlay sees base's coins
	got, ok, err := overlay.GetCoin(baseOp)
	require.NoError(err)
	require.True(ok)
	require.Equal(uint64(7), got.Amount)

	// deleting through the overlay doesn't touch base
	require.NoError(overlay.DeleteCoin(baseOp))
	_, ok, err = overlay.GetCoin(baseOp)
	require.NoError(err)
	require.False(ok)

	_, ok, err = base.GetCoin(baseOp)
	require.NoError(err)
	require.True(ok)

	// adding through the overlay doesn't touch base
	newOp := coinutxo.OutPoint{Hash: chainhash.HashBytes([]byte("new")), Index: 0}
	require.NoError(overlay.AddCoin(newOp, coinutxo.Coin{Amount: 3}, false))
	_, ok, err = base.GetCoin(newOp)
	require.NoError(err)
	require.False(ok)
}
