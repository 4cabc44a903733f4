// Package compaction implements the UTXO-set snapshot engine: rewinding a
// consistent view to a target height, chunking and hashing it
// deterministically, reloading a downloaded snapshot into a live
// chainstate, and tracking coinbase-embedded confirmations that promote a
// snapshot from tentative to confirmed.
package compaction

import (
	"errors"
	"fmt"

	"github.com/coinprune/coinprune/chainstate"
)

// Defaults mirror the node's compiled-in constants so a fresh Config
// reproduces the original fixed behavior.
const (
	DefaultInitialStateHeight    = 10000
	DefaultRequiredConfirmations = 10
	DefaultMaxChunkSize          = 1_000_000 // 1 MB (10^6 bytes), legacy block size
	DefaultMaxDownloadsPerPeer   = 16
	DefaultRequiredStateOffers   = 8
)

var (
	ErrConcurrentApply    = errors.New("aborting: a state load is already in progress")
	ErrUTXONonEmptyAtJoin = errors.New("chainstate is not empty; refusing compaction join")
	ErrStateDivergence    = errors.New("confirmed state hash diverges from local state")
	ErrChunkCountMismatch = errors.New("state metafile chunk count does not match chunk files on disk")
	ErrStateHashMismatch  = errors.New("computed state hash does not match recorded state hash")
	ErrChunkHashMismatch  = errors.New("chunk content hash does not match its descriptor")
	ErrStateCorrupt       = errors.New("state build observed a failed block disconnect and was discarded")
	ErrNoTargetSlot       = errors.New("no target slot configured for scheduled build")
)

// CheckJoinPrecondition verifies that store is empty before a node begins
// state acquisition under -compaction. A non-empty UTXO set at this point
// means the node already has chain data that downloading and applying a
// peer's snapshot would silently clobber, so the caller must refuse to
// proceed rather than acquire over it.
func CheckJoinPrecondition(store chainstate.Store) error {
	size, err := store.GetSize()
	if err != nil {
		return fmt.Errorf("checking chainstate size at join: %w", err)
	}
	if size > 0 {
		return fmt.Errorf("%w: %d coins already present", ErrUTXONonEmptyAtJoin, size)
	}
	return nil
}
