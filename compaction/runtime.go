package compaction

import (
	"sync"

	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/coinutxo"
	"github.com/coinprune/coinprune/internal/logging"
)

// BlockPruner prunes the node's on-disk blocks, keeping everything from
// height upward so future confirmations on not-yet-superseded states can
// still be collected.
type BlockPruner interface {
	PruneBlocksUpTo(height coinutxo.BlockHeight) error
}

// ShutdownRequester requests an orderly node shutdown. Used when this
// engine observes a trust-boundary error it cannot recover from on its
// own (state-hash divergence, non-empty UTXO set at join).
type ShutdownRequester interface {
	StartShutdown(reason string)
}

// Runtime is the single owned struct holding the state lifecycle's
// current/prev/downloaded slots, replacing scattered file-scope globals.
// Every mutation of its State slots happens under mu, matching the single
// chainstate_lock guarantee the rest of the engine relies on.
type Runtime struct {
	Tracker      *Tracker
	Coordinator  *Coordinator
	Pruner       BlockPruner
	PruneEnabled bool
	Shutdown     ShutdownRequester
	Log          logging.Logger
	Metrics      *Metrics

	InitialStateHeight coinutxo.BlockHeight

	mu           sync.Mutex
	current      *State
	prev         *State
	downloaded   *State
	syncComplete bool
}

var _ SlotResolver = (*Runtime)(nil)

func (r *Runtime) log() logging.Logger {
	if r.Log == nil {
		return logging.NewNoOp()
	}
	return r.Log
}

// Slot implements SlotResolver.
func (r *Runtime) Slot(slot TargetSlot) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch slot {
	case SlotCurrent:
		return r.current
	case SlotDownloaded:
		return r.downloaded
	case SlotPrev:
		return r.prev
	default:
		return nil
	}
}

// SetSlot implements SlotResolver.
func (r *Runtime) SetSlot(slot TargetSlot, s *State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch slot {
	case SlotCurrent:
		r.current = s
	case SlotDownloaded:
		r.downloaded = s
	case SlotPrev:
		r.prev = s
	}
}

// Current returns the tentative state being confirmed, if any.
func (r *Runtime) Current() *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Prev returns the last confirmed state, if any.
func (r *Runtime) Prev() *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prev
}

// Downloaded returns the peer-provided state staged for application, if
// any.
func (r *Runtime) Downloaded() *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.downloaded
}

// SetDownloaded stages a peer-provided state for application.
func (r *Runtime) SetDownloaded(s *State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloaded = s
}

// SyncComplete reports whether at least one confirmed state has ever been
// reached.
func (r *Runtime) SyncComplete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncComplete
}

// DiscardPrev force-clears the previously confirmed state's handle without
// waiting for supersession by a newer confirmed state, returning whatever
// was held so the caller can remove its on-disk files. Used by the
// operator-triggered "overload" lever, distinct from the normal rotation
// HandleNewBlock performs.
func (r *Runtime) DiscardPrev() *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.prev
	r.prev = nil
	return old
}

// Bootstrap resolves which confirmed state this runtime should resume
// from at startup: it walks chain from the tip looking for a confirmation
// tag that has already crossed the required threshold, falling back to
// InitialStateHeight (ok=false) when the active chain carries none.
func (r *Runtime) Bootstrap(chain ActiveChain) (coinutxo.BlockHeight, chainhash.Hash, bool) {
	return r.Tracker.LastConfirmedInActiveChain(chain, r.InitialStateHeight)
}

// HandleNewBlock implements the per-block hook: scan for a confirmation
// tag, record it, and — once a state reaches the required confirmation
// count — rotate current into prev, delete the superseded prev's files,
// and schedule the next build.
func (r *Runtime) HandleNewBlock(block *Block) {
	hash, found := Scan(block)
	if !found {
		return
	}
	r.Tracker.Record(hash)

	if !r.Tracker.IsConfirmed(hash) {
		return
	}

	r.mu.Lock()
	current := r.current
	r.mu.Unlock()

	if current != nil && current.StateHash != hash {
		r.log().Error(ErrStateDivergence.Error(),
			logHashField("confirmed", hash), logHashField("local", current.StateHash))
		if r.Shutdown != nil {
			r.Shutdown.StartShutdown(ErrStateDivergence.Error())
		}
		return
	}

	if current == nil {
		// Either this state was already promoted by an earlier block
		// carrying the same tag, or the hash belongs to a state this
		// runtime never built. Either way there is nothing tentative to
		// rotate, so re-running the promotion here would re-delete an
		// already-superseded prev's files and re-schedule a build for no
		// reason.
		return
	}

	r.mu.Lock()
	oldPrev := r.prev
	current.MarkConfirmed()
	r.prev = current
	r.current = nil
	r.syncComplete = true
	r.mu.Unlock()

	if oldPrev != nil {
		if err := oldPrev.DeleteFiles(); err != nil {
			r.log().Error("deleting superseded state files", logErrField(err))
		}
	}

	if r.Metrics != nil {
		r.Metrics.StatesPromoted.Inc()
	}

	if r.Coordinator != nil {
		r.Coordinator.SetWantToBuild(block.Height, SlotCurrent, SlotPrev, false)
	}

	if r.PruneEnabled && r.Pruner != nil {
		prevHeight := coinutxo.BlockHeight(0)
		if p := r.Prev(); p != nil {
			prevHeight = p.Height
		}
		if err := r.Pruner.PruneBlocksUpTo(prevHeight); err != nil {
			r.log().Error("pruning blocks", logErrField(err))
		}
	}
}
