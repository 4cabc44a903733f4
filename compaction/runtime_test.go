package compaction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/coinutxo"
)

type fakePruner struct {
	calledWith coinutxo.BlockHeight
	called     bool
}

func (p *fakePruner) PruneBlocksUpTo(height coinutxo.BlockHeight) error {
	p.called = true
	p.calledWith = height
	return nil
}

type fakeShutdown struct {
	called bool
	reason string
}

func (s *fakeShutdown) StartShutdown(reason string) {
	s.called = true
	s.reason = reason
}

func blockWithTag(t *testing.T, height coinutxo.BlockHeight, hash chainhash.Hash) *Block {
	t.Helper()
	return &Block{
		Height:         height,
		CoinbaseScript: Embed(nil, hash),
	}
}

func TestRuntimeHandleNewBlockNoTagIsNoop(t *testing.T) {
	require := require.New(t)

	rt := &Runtime{Tracker: NewTracker(1)}
	rt.HandleNewBlock(&Block{Height: 1})

	require.False(rt.SyncComplete())
	require.Nil(rt.Prev())
}

func TestRuntimeHandleNewBlockWaitsForConfirmations(t *testing.T) {
	require := require.New(t)

	rt := &Runtime{Tracker: NewTracker(3)}
	hash := chainhash.HashBytes([]byte("state"))

	rt.HandleNewBlock(blockWithTag(t, 1, hash))
	rt.HandleNewBlock(blockWithTag(t, 2, hash))

	require.False(rt.SyncComplete())
	require.Equal(2, rt.Tracker.Count(hash))
}

func TestRuntimeHandleNewBlockPromotesOnConfirmation(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	metaPath := filepath.Join(dir, "0000000001.state")
	require.NoError(os.WriteFile(metaPath, []byte("meta"), 0o644))

	hash := chainhash.HashBytes([]byte("state"))
	current := &State{Height: 1, FileName: metaPath, StateHash: hash}

	pruner := &fakePruner{}
	rt := &Runtime{
		Tracker:      NewTracker(1),
		Pruner:       pruner,
		PruneEnabled: true,
	}
	rt.SetSlot(SlotCurrent, current)

	rt.HandleNewBlock(blockWithTag(t, 1, hash))

	require.True(rt.SyncComplete())
	require.True(current.IsConfirmed())
	require.Same(current, rt.Prev())
	require.Nil(rt.Current())
	require.FileExists(metaPath, "the newly promoted state keeps its files; only a superseded prev's are deleted")
	require.True(pruner.called, "promotion prunes blocks up to the newly promoted prev's height")
}

func TestRuntimeHandleNewBlockDeletesSupersededPrev(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	oldMeta := filepath.Join(dir, "0000000001.state")
	require.NoError(os.WriteFile(oldMeta, []byte("old"), 0o644))
	newMeta := filepath.Join(dir, "0000000002.state")
	require.NoError(os.WriteFile(newMeta, []byte("new"), 0o644))

	oldPrev := &State{Height: 1, FileName: oldMeta}
	hash := chainhash.HashBytes([]byte("state-2"))
	current := &State{Height: 2, FileName: newMeta, StateHash: hash}

	rt := &Runtime{Tracker: NewTracker(1)}
	rt.SetSlot(SlotCurrent, current)
	rt.mu.Lock()
	rt.prev = oldPrev
	rt.mu.Unlock()

	rt.HandleNewBlock(blockWithTag(t, 2, hash))

	require.NoFileExists(oldMeta)
	require.FileExists(newMeta)
	require.Same(current, rt.Prev())
}

func TestRuntimeHandleNewBlockRepeatConfirmingTagIsNoop(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	metaPath := filepath.Join(dir, "0000000001.state")
	require.NoError(os.WriteFile(metaPath, []byte("meta"), 0o644))

	hash := chainhash.HashBytes([]byte("state"))
	confirmed := &State{Height: 1, FileName: metaPath, StateHash: hash}

	pruner := &fakePruner{}
	rt := &Runtime{Tracker: NewTracker(1), Pruner: pruner, PruneEnabled: true}
	rt.SetSlot(SlotCurrent, confirmed)

	rt.HandleNewBlock(blockWithTag(t, 1, hash))
	require.Same(confirmed, rt.Prev())
	pruner.called = false

	// A later block still carrying the same, already-promoted tag must
	// not rotate or delete anything a second time: current is already
	// nil, so there's nothing tentative left to promote.
	rt.HandleNewBlock(blockWithTag(t, 2, hash))

	require.Same(confirmed, rt.Prev(), "an already-promoted state must not be rotated again")
	require.FileExists(metaPath, "a repeat confirming block must not delete the already-promoted state's files")
	require.False(pruner.called, "a no-op confirming block must not re-trigger pruning")
}

func TestRuntimeBootstrapFallsBackToInitialHeight(t *testing.T) {
	require := require.New(t)

	rt := &Runtime{Tracker: NewTracker(1), InitialStateHeight: 42}
	chain := chainAtHeight(5)

	height, hash, ok := rt.Bootstrap(chain)
	require.False(ok)
	require.Equal(coinutxo.BlockHeight(42), height)
	require.Zero(hash)
}

func TestRuntimeBootstrapFindsConfirmedTagInActiveChain(t *testing.T) {
	require := require.New(t)

	hash := chainhash.HashBytes([]byte("state"))
	chain := &fakeChain{
		tip: 3,
		blocks: map[coinutxo.BlockHeight]*Block{
			1: {Height: 1, CoinbaseScript: Embed(nil, hash)},
			2: {Height: 2},
			3: {Height: 3},
		},
	}

	rt := &Runtime{Tracker: NewTracker(1), InitialStateHeight: 42}
	height, got, ok := rt.Bootstrap(chain)
	require.True(ok)
	require.Equal(coinutxo.BlockHeight(1), height)
	require.Equal(hash, got)
}

func TestRuntimeHandleNewBlockDivergenceRequestsShutdown(t *testing.T) {
	require := require.New(t)

	localHash := chainhash.HashBytes([]byte("local"))
	confirmedHash := chainhash.HashBytes([]byte("confirmed"))
	current := &State{Height: 1, StateHash: localHash}

	shutdown := &fakeShutdown{}
	rt := &Runtime{Tracker: NewTracker(1), Shutdown: shutdown}
	rt.SetSlot(SlotCurrent, current)

	rt.HandleNewBlock(blockWithTag(t, 1, confirmedHash))

	require.True(shutdown.called)
	require.False(rt.SyncComplete())
	require.Same(current, rt.Current(), "a diverging confirmation must not rotate the unverified state in")
}
