package compaction

import (
	"context"
	"fmt"

	"github.com/coinprune/coinprune/chainstate"
	"github.com/coinprune/coinprune/coinutxo"
	"github.com/coinprune/coinprune/internal/logging"
)

// Rewinder drives DisconnectBlock from a chain's tip down to a target
// height on a view, one block at a time. It never touches the canonical
// chainstate directly — callers pass it whatever view they want rewound,
// typically a chainstate.NewOverlay over the live store.
type Rewinder struct {
	Blocks       BlockReader
	Disconnector Disconnector
	Log          logging.Logger
}

// ErrRewindBelowTarget is returned when the view's tip is already below
// the requested target height.
var ErrRewindBelowTarget = fmt.Errorf("view tip is below rewind target")

// rewind walks from tipHeight down to target+1, disconnecting each block
// against view. remember, if non-nil, is appended with each disconnected
// block's height (in descending order) so a caller can redo them later.
// An Unclean disconnect is a non-fatal warning; a Failed disconnect is
// logged and rewinding continues, but the caller must treat the resulting
// view as corrupt.
func (r *Rewinder) rewind(ctx context.Context, view chainstate.Store, tipHeight, target coinutxo.BlockHeight, remember *[]coinutxo.BlockHeight) (corrupt bool, err error) {
	if tipHeight < target {
		return false, fmt.Errorf("%w: tip=%d target=%d", ErrRewindBelowTarget, tipHeight, target)
	}

	for h := tipHeight; h > target; h-- {
		if err := ctx.Err(); err != nil {
			return corrupt, err
		}

		block, err := r.Blocks.ReadBlock(h)
		if err != nil {
			return corrupt, fmt.Errorf("reading block %d to disconnect: %w", h, err)
		}

		result, err := r.Disconnector.DisconnectBlock(block, view)
		if err != nil {
			r.log().Error("disconnect block failed", logErrField(err), logHeightField(h))
		}

		switch result {
		case DisconnectOk:
			// nothing to note
		case DisconnectUnclean:
			r.log().Warn("block disconnected uncleanly", logHeightField(h))
		case DisconnectFailed:
			r.log().Error("block disconnect failed", logHeightField(h))
			corrupt = true
		}

		if remember != nil {
			*remember = append(*remember, h)
		}
	}
	return corrupt, nil
}

// RewindAndRemember rewinds view to target and returns the heights of
// every block it disconnected, in descending (tip-first) order, so the
// caller can redo them later.
func (r *Rewinder) RewindAndRemember(ctx context.Context, view chainstate.Store, tipHeight, target coinutxo.BlockHeight) ([]coinutxo.BlockHeight, bool, error) {
	var undone []coinutxo.BlockHeight
	corrupt, err := r.rewind(ctx, view, tipHeight, target, &undone)
	return undone, corrupt, err
}

// RewindAndForget rewinds view to target, discarding the list of
// disconnected blocks, for callers that only need the resulting view and
// the corrupt flag. The snapshot builder calls RewindAndRemember instead,
// only to log how many blocks it undid.
func (r *Rewinder) RewindAndForget(ctx context.Context, view chainstate.Store, tipHeight, target coinutxo.BlockHeight) (bool, error) {
	return r.rewind(ctx, view, tipHeight, target, nil)
}

func (r *Rewinder) log() logging.Logger {
	if r.Log == nil {
		return logging.NewNoOp()
	}
	return r.Log
}
