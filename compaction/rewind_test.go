package compaction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coinprune/coinprune/chainstate"
	"github.com/coinprune/coinprune/coinutxo"
	"github.com/coinprune/coinprune/kv"
)

var errBlockNotFound = errors.New("block not found")

type fakeBlockReader struct {
	blocks map[coinutxo.BlockHeight]*Block
}

func (r *fakeBlockReader) ReadBlock(height coinutxo.BlockHeight) (*Block, error) {
	b, ok := r.blocks[height]
	if !ok {
		return nil, errBlockNotFound
	}
	return b, nil
}

func blockReaderUpTo(tip coinutxo.BlockHeight) *fakeBlockReader {
	blocks := make(map[coinutxo.BlockHeight]*Block, tip)
	for h := coinutxo.BlockHeight(1); h <= tip; h++ {
		blocks[h] = &Block{Height: h}
	}
	return &fakeBlockReader{blocks: blocks}
}

type fakeDisconnector struct {
	results map[coinutxo.BlockHeight]DisconnectResult
	calls   []coinutxo.BlockHeight
}

func (d *fakeDisconnector) DisconnectBlock(block *Block, view chainstate.Store) (DisconnectResult, error) {
	d.calls = append(d.calls, block.Height)
	if r, ok := d.results[block.Height]; ok {
		return r, nil
	}
	return DisconnectOk, nil
}

func TestRewindAndForgetDisconnectsDownToTarget(t *testing.T) {
	require := require.New(t)

	view := chainstate.New(kv.NewMem())
	disc := &fakeDisconnector{results: map[coinutxo.BlockHeight]DisconnectResult{}}
	r := &Rewinder{Blocks: blockReaderUpTo(5), Disconnector: disc}

	corrupt, err := r.RewindAndForget(context.Background(), view, 5, 2)
	require.NoError(err)
	require.False(corrupt)
	require.Equal([]coinutxo.BlockHeight{5, 4, 3}, disc.calls)
}

func TestRewindTreatsUncleanAsNonFatal(t *testing.T) {
	require := require.New(t)

	view := chainstate.New(kv.NewMem())
	disc := &fakeDisconnector{results: map[coinutxo.BlockHeight]DisconnectResult{4: DisconnectUnclean}}
	r := &Rewinder{Blocks: blockReaderUpTo(5), Disconnector: disc}

	corrupt, err := r.RewindAndForget(context.Background(), view, 5, 2)
	require.NoError(err)
	require.False(corrupt, "an unclean disconnect is a warning, not a corrupting failure")
	require.Equal([]coinutxo.BlockHeight{5, 4, 3}, disc.calls)
}

func TestRewindMarksCorruptOnFailedDisconnectButKeepsWalking(t *testing.T) {
	require := require.New(t)

	view := chainstate.New(kv.NewMem())
	disc := &fakeDisconnector{results: map[coinutxo.BlockHeight]DisconnectResult{4: DisconnectFailed}}
	r := &Rewinder{Blocks: blockReaderUpTo(5), Disconnector: disc}

	corrupt, err := r.RewindAndForget(context.Background(), view, 5, 2)
	require.NoError(err)
	require.True(corrupt)
	require.Equal([]coinutxo.BlockHeight{5, 4, 3}, disc.calls, "a failed disconnect still lets rewinding finish the walk")
}

func TestRewindAndRememberReturnsDescendingHeights(t *testing.T) {
	require := require.New(t)

	view := chainstate.New(kv.NewMem())
	disc := &fakeDisconnector{results: map[coinutxo.BlockHeight]DisconnectResult{}}
	r := &Rewinder{Blocks: blockReaderUpTo(5), Disconnector: disc}

	undone, corrupt, err := r.RewindAndRemember(context.Background(), view, 5, 2)
	require.NoError(err)
	require.False(corrupt)
	require.Equal([]coinutxo.BlockHeight{5, 4, 3}, undone)
}

func TestRewindBelowTargetErrors(t *testing.T) {
	require := require.New(t)

	view := chainstate.New(kv.NewMem())
	r := &Rewinder{Blocks: blockReaderUpTo(1), Disconnector: &fakeDisconnector{}}

	_, err := r.RewindAndForget(context.Background(), view, 1, 5)
	require.ErrorIs(err, ErrRewindBelowTarget)
}
