package rpcapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/chainstate"
	"github.com/coinprune/coinprune/coinutxo"
	"github.com/coinprune/coinprune/compaction"
	"github.com/coinprune/coinprune/kv"
	"github.com/coinprune/coinprune/netio"
)

type fakeChain struct {
	tip    coinutxo.BlockHeight
	blocks map[coinutxo.BlockHeight]*compaction.Block
}

func (c *fakeChain) TipHeight() coinutxo.BlockHeight { return c.tip }

func (c *fakeChain) BlockAt(h coinutxo.BlockHeight) (*compaction.Block, bool, error) {
	b, ok := c.blocks[h]
	return b, ok, nil
}

type emptyBus struct{}

func (emptyBus) ForEachPeer(func(netio.Peer))             {}
func (emptyBus) Broadcast(any)                            {}
func (emptyBus) Send(netio.PeerID, any)                   {}
func (emptyBus) PeerByID(netio.PeerID) (netio.Peer, bool) { return nil, false }

func buildTestState(t *testing.T) *compaction.State {
	t.Helper()
	require := require.New(t)

	base := chainstate.New(kv.NewMem())
	op := coinutxo.OutPoint{Index: 0}
	op.Hash[0] = 0x01
	require.NoError(base.AddCoin(op, coinutxo.Coin{Amount: 50, Script: []byte("script"), Height: 1}, false))

	chain := &fakeChain{
		tip:    1,
		blocks: map[coinutxo.BlockHeight]*compaction.Block{1: {Height: 1, Hash: hashByte(0xAA)}},
	}
	builder := &compaction.Builder{
		Base:     base,
		Chain:    chain,
		Rewinder: &compaction.Rewinder{},
		StateDir: t.TempDir(),
	}
	state, err := builder.Build(context.Background(), 1)
	require.NoError(err)
	return state
}

func hashByte(b byte) (h [32]byte) {
	h[0] = b
	return h
}

func newTestService(chain compaction.ActiveChain) *Service {
	runtime := &compaction.Runtime{Tracker: compaction.NewTracker(1)}
	coord := compaction.NewCoordinator(emptyBus{}, nil, runtime, nil, nil)
	return &Service{
		Runtime:     runtime,
		Coordinator: coord,
		Chain:       chain,
	}
}

func TestCreateStateSchedulesBuildAtTipWhenMaxHeightZero(t *testing.T) {
	require := require.New(t)

	svc := newTestService(&fakeChain{tip: 42})
	var reply StatusReply
	require.NoError(svc.CreateState(nil, &CreateStateArgs{MaxHeight: 0}, &reply))

	require.Equal(compaction.StateWanted, svc.Coordinator.State())
	require.Contains(reply.Status, "height 42")
}

func TestCreateStateRejectedWhileLoading(t *testing.T) {
	require := require.New(t)

	svc := newTestService(&fakeChain{tip: 42})
	svc.loading.Store(true)

	var reply StatusReply
	require.NoError(svc.CreateState(nil, &CreateStateArgs{MaxHeight: 5}, &reply))
	require.Contains(reply.Status, "aborting")
	require.Equal(compaction.StateIdle, svc.Coordinator.State())
}

func TestLoadStateAppliesAndInstallsStore(t *testing.T) {
	require := require.New(t)

	state := buildTestState(t)
	svc := newTestService(&fakeChain{})

	var installed chainstate.Store
	svc.InstallStore = func(s chainstate.Store) { installed = s }
	svc.Loader = &compaction.Loader{
		OpenFreshStore: func(path string, cacheBytes int) (chainstate.Store, error) {
			return chainstate.New(kv.NewMem()), nil
		},
	}

	var reply StatusReply
	require.NoError(svc.LoadState(nil, &LoadStateArgs{File: state.FileName}, &reply))

	require.Contains(reply.Status, "applied state")
	require.NotNil(installed)

	got, ok, err := installed.GetCoin(coinutxo.OutPoint{Index: 0, Hash: hashByte(0x01)})
	require.NoError(err)
	require.True(ok)
	require.EqualValues(50, got.Amount)
}

func TestReadyToServeFalseBeforeSyncComplete(t *testing.T) {
	require := require.New(t)

	svc := newTestService(&fakeChain{tip: 1000})
	var reply ReadyToServeReply
	require.NoError(svc.ReadyToServe(nil, nil, &reply))
	require.False(reply.Ready)
}

func TestReadyToServeRespectsTailBlocks(t *testing.T) {
	require := require.New(t)

	hash := chainhash.HashBytes([]byte("state"))
	svc := newTestService(&fakeChain{tip: 105})
	svc.TailBlocks = 10
	svc.Runtime.SetSlot(compaction.SlotCurrent, &compaction.State{Height: 100, StateHash: hash})
	svc.Runtime.HandleNewBlock(&compaction.Block{Height: 100, CoinbaseScript: compaction.Embed(nil, hash)})

	var reply ReadyToServeReply
	require.NoError(svc.ReadyToServe(nil, nil, &reply))
	require.False(reply.Ready, "tip 105 is only 5 past prev's height, short of tailBlocks=10")

	svc.Chain = &fakeChain{tip: 111}
	require.NoError(svc.ReadyToServe(nil, nil, &reply))
	require.True(reply.Ready)
}

func TestOverloadPrevStateRejectsWhenNoPrev(t *testing.T) {
	require := require.New(t)

	svc := newTestService(&fakeChain{})
	var reply StatusReply
	require.NoError(svc.OverloadPrevState(nil, nil, &reply))
	require.Contains(reply.Status, "no previous confirmed state")
}

func TestOverloadPrevStateRejectedWhileInProgress(t *testing.T) {
	require := require.New(t)

	svc := newTestService(&fakeChain{})
	svc.overloading.Store(true)

	var reply StatusReply
	require.NoError(svc.OverloadPrevState(nil, nil, &reply))
	require.Contains(reply.Status, "aborting")
}
