package compaction

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/coinprune/coinprune/chainstate"
	"github.com/coinprune/coinprune/internal/logging"
)

// Loader materializes a downloaded or locally built State into a live
// chainstate, swapping out whatever store is currently backing it. Only
// one apply may run at a time on a given Loader: a concurrent call on the
// same Loader is rejected with ErrConcurrentApply rather than racing the
// swap. The guard is per Loader value; separate Loaders do not see each
// other's applies.
type Loader struct {
	// OpenFreshStore returns a brand-new, empty Store backed by the given
	// database path with the requested cache size — the node's
	// compaction_coindbcache knob.
	OpenFreshStore func(path string, cacheBytes int) (chainstate.Store, error)
	DBPath         string
	CacheBytes     int

	Log     logging.Logger
	Metrics *Metrics

	loading atomic.Bool
}

// IsLoading reports whether an apply is currently in progress.
func (l *Loader) IsLoading() bool {
	return l.loading.Load()
}

func (l *Loader) log() logging.Logger {
	if l.Log == nil {
		return logging.NewNoOp()
	}
	return l.Log
}

// Apply swaps in a fresh empty chainstate store, sets its best-block,
// replays s's chunks into it in offset order, and returns the new store
// for the caller to install as the active chainstate.
//
// An error at any step aborts with no partial mutation visible to other
// callers beyond the already-swapped (and now abandoned) store — callers
// must treat a failed Apply as requiring full resynchronization, not
// retry-in-place.
func (l *Loader) Apply(ctx context.Context, s *State) (chainstate.Store, error) {
	if !l.loading.CompareAndSwap(false, true) {
		return nil, ErrConcurrentApply
	}
	defer l.loading.Store(false)

	fresh, err := l.OpenFreshStore(l.DBPath, l.CacheBytes)
	if err != nil {
		l.recordFailure()
		return nil, fmt.Errorf("opening fresh chainstate store: %w", err)
	}

	if err := fresh.SetBestBlock(s.LatestBlockHash); err != nil {
		l.recordFailure()
		return nil, fmt.Errorf("setting best block before load: %w", err)
	}

	for _, desc := range s.Chunks {
		if err := ctx.Err(); err != nil {
			l.recordFailure()
			return nil, err
		}

		_, _, entries, err := readChunk(desc.FileName)
		if err != nil {
			l.recordFailure()
			return nil, fmt.Errorf("reading chunk %d: %w", desc.Offset, err)
		}
		for _, e := range entries {
			if err := fresh.AddCoin(e.OutPoint, e.Coin, false); err != nil {
				l.recordFailure()
				return nil, fmt.Errorf("applying coin from chunk %d: %w", desc.Offset, err)
			}
		}

		l.log().Debug("applied chunk", logOffsetField(desc.Offset))
	}

	if err := fresh.Flush(); err != nil {
		l.recordFailure()
		return nil, fmt.Errorf("flushing chainstate after load: %w", err)
	}

	return fresh, nil
}

func (l *Loader) recordFailure() {
	if l.Metrics != nil {
		l.Metrics.ApplyFailures.Inc()
	}
}
