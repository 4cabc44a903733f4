package compaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/chainstate"
	"github.com/coinprune/coinprune/coinutxo"
	"github.com/coinprune/coinprune/kv"
)

type fakeChain struct {
	tip    coinutxo.BlockHeight
	blocks map[coinutxo.BlockHeight]*Block
}

func (c *fakeChain) TipHeight() coinutxo.BlockHeight { return c.tip }

func (c *fakeChain) BlockAt(height coinutxo.BlockHeight) (*Block, bool, error) {
	b, ok := c.blocks[height]
	return b, ok, nil
}

func hashOfByte(b byte) (h chainhash.Hash) {
	h[0] = b
	return h
}

// populatedStore fills a fresh in-memory chainstate with n coins whose
// OutPoint hashes sort in insertion order, so callers can reason about
// chunk boundaries without worrying about canonical reordering.
func populatedStore(t *testing.T, n int) chainstate.Store {
	t.Helper()
	store := chainstate.New(kv.NewMem())
	for i := 0; i < n; i++ {
		op := coinutxo.OutPoint{Hash: hashOfByte(byte(i + 1)), Index: 0}
		coin := coinutxo.Coin{Amount: uint64(i+1) * 1000, Height: 1}
		require.NoError(t, store.AddCoin(op, coin, false))
	}
	return store
}

func chainAtHeight(height coinutxo.BlockHeight) *fakeChain {
	return &fakeChain{
		tip:    height,
		blocks: map[coinutxo.BlockHeight]*Block{height: {Height: height, Hash: hashOfByte(0xFF)}},
	}
}

func TestBuilderBuildIsDeterministic(t *testing.T) {
	require := require.New(t)

	store := populatedStore(t, 20)
	chain := chainAtHeight(5)

	b1 := &Builder{Base: store, Chain: chain, Rewinder: &Rewinder{}, StateDir: t.TempDir(), MaxChunkSize: 200}
	s1, err := b1.Build(context.Background(), 5)
	require.NoError(err)

	b2 := &Builder{Base: store, Chain: chain, Rewinder: &Rewinder{}, StateDir: t.TempDir(), MaxChunkSize: 200}
	s2, err := b2.Build(context.Background(), 5)
	require.NoError(err)

	require.Equal(s1.StateHash, s2.StateHash)
	require.Equal(s1.ChunkHashes(), s2.ChunkHashes())
	require.Len(s1.Chunks, len(s2.Chunks))
	for i := range s1.Chunks {
		require.Equal(s1.Chunks[i].NumUTXOs, s2.Chunks[i].NumUTXOs)
	}
}

func TestBuilderBuildSplitsAtChunkBoundary(t *testing.T) {
	require := require.New(t)

	store := populatedStore(t, 5)
	chain := chainAtHeight(1)

	// Empty-script coins encode to 14 bytes; OutPointEncodedSize is 36, so
	// each entry is 50 bytes. A 112-byte ceiling (12-byte header + 2
	// entries) fits exactly two entries before the third forces a flush.
	b := &Builder{Base: store, Chain: chain, Rewinder: &Rewinder{}, StateDir: t.TempDir(), MaxChunkSize: 112}
	s, err := b.Build(context.Background(), 1)
	require.NoError(err)

	require.Len(s.Chunks, 3)
	require.Equal([]int{2, 2, 1}, []int{s.Chunks[0].NumUTXOs, s.Chunks[1].NumUTXOs, s.Chunks[2].NumUTXOs})

	total := 0
	for _, c := range s.Chunks {
		total += c.NumUTXOs
	}
	require.Equal(5, total)
}

func TestBuilderBuildHeightZeroEmptyStoreProducesNoChunks(t *testing.T) {
	require := require.New(t)

	store := chainstate.New(kv.NewMem())
	chain := chainAtHeight(0)

	b := &Builder{Base: store, Chain: chain, Rewinder: &Rewinder{}, StateDir: t.TempDir()}
	s, err := b.Build(context.Background(), 0)
	require.NoError(err)

	require.Empty(s.Chunks)
	require.Equal(coinutxo.BlockHeight(0), s.Height)
	require.NotZero(s.StateHash)
}

func TestBuilderBuildRejectsMissingAnchorBlock(t *testing.T) {
	require := require.New(t)

	store := chainstate.New(kv.NewMem())
	chain := &fakeChain{tip: 5, blocks: map[coinutxo.BlockHeight]*Block{}}

	b := &Builder{Base: store, Chain: chain, Rewinder: &Rewinder{}, StateDir: t.TempDir()}
	_, err := b.Build(context.Background(), 5)
	require.Error(err)
}
