package acquisition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/btree"
	"golang.org/x/sync/errgroup"

	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/chainstate"
	"github.com/coinprune/coinprune/coinutxo"
	"github.com/coinprune/coinprune/compaction"
	"github.com/coinprune/coinprune/internal/logging"
	"github.com/coinprune/coinprune/netio"
	"github.com/coinprune/coinprune/wire"
)

// Applier materializes a committed State into a fresh chainstate store,
// the way compaction.Loader does.
type Applier interface {
	Apply(ctx context.Context, s *compaction.State) (chainstate.Store, error)
}

// chunkItem orders NEEDED chunks by offset so scheduling requests chunks
// in ascending, deterministic order regardless of which peer serves them.
type chunkItem struct {
	offset int
	hash   chainhash.Hash
}

func (a chunkItem) Less(than btree.Item) bool {
	return a.offset < than.(chunkItem).offset
}

// Acquisition drives the joining side of the snapshot protocol: it
// offers GETSTATE to new peers, commits to a state_hash once enough of
// them agree, schedules GETDATA requests across peers under a
// per-peer concurrency cap, verifies and persists delivered chunks, and
// hands the assembled state off to full sync once the header chain
// catches up.
type Acquisition struct {
	Bus      netio.Bus
	Applier  Applier
	Metrics  *Metrics
	Log      logging.Logger
	StateDir string

	// Store and Shutdown let Acquisition enforce that a joining node's
	// chainstate is empty before it starts requesting a peer's state.
	// Both are optional: a nil Store skips the check entirely.
	Store    chainstate.Store
	Shutdown compaction.ShutdownRequester

	MaxDownloadsPerPeer int

	// InstallStore receives the fresh chainstate store once Applier.Apply
	// succeeds. FallbackFullSync is invoked instead when the node gives up
	// on compaction and falls through to legacy full sync.
	InstallStore     func(chainstate.Store)
	FallbackFullSync func()

	offers *offerTracker

	mu              sync.Mutex
	peerStatus      map[netio.PeerID]PeerStatus
	peerInFlight    map[netio.PeerID]int
	peerAssigned    map[netio.PeerID]map[chainhash.Hash]struct{}
	committed       bool
	stateHash       chainhash.Hash
	height          coinutxo.BlockHeight
	chunkHashes     []chainhash.Hash
	chunkOffset     map[chainhash.Hash]int
	chunkStatus     map[chainhash.Hash]ChunkStatus
	needed          *btree.BTree
	assembled       *compaction.State
	headerTipHeight coinutxo.BlockHeight
	switched        bool

	joinChecked bool
	joinFailed  bool
}

// NewAcquisition returns an Acquisition with no commitment yet made.
func NewAcquisition(bus netio.Bus, requiredOffers, maxDownloadsPerPeer int, stateDir string, log logging.Logger) *Acquisition {
	if maxDownloadsPerPeer <= 0 {
		maxDownloadsPerPeer = DefaultMaxDownloadsPerPeer
	}
	return &Acquisition{
		Bus:                 bus,
		StateDir:            stateDir,
		Log:                 log,
		MaxDownloadsPerPeer: maxDownloadsPerPeer,
		offers:              newOfferTracker(requiredOffers),
		peerStatus:          make(map[netio.PeerID]PeerStatus),
		peerInFlight:        make(map[netio.PeerID]int),
		peerAssigned:        make(map[netio.PeerID]map[chainhash.Hash]struct{}),
	}
}

func (a *Acquisition) log() logging.Logger {
	if a.Log == nil {
		return logging.NewNoOp()
	}
	return a.Log
}

// OnPeerVersionAck sends GETSTATE to a newly handshaken peer and marks it
// REQUESTED, refusing to do so at all if the join precondition has failed.
func (a *Acquisition) OnPeerVersionAck(id netio.PeerID) {
	if !a.checkJoinPrecondition() {
		return
	}

	a.mu.Lock()
	a.peerStatus[id] = PeerRequested
	a.mu.Unlock()
	if err := wire.Send(a.Bus, id, wire.GetState{}); err != nil {
		a.log().Error("sending GETSTATE", logErrField(err), logPeerField(id))
	}
}

// checkJoinPrecondition verifies, the first time it's called, that Store
// is empty before acquisition starts requesting a state from peers. A
// non-empty chainstate here means this node is not actually joining from
// genesis, which state acquisition cannot safely reconcile with: the
// check fails fatally via Shutdown rather than silently proceeding.
// Reports false on every call once the check has failed once.
func (a *Acquisition) checkJoinPrecondition() bool {
	a.mu.Lock()
	if a.joinChecked {
		ok := !a.joinFailed
		a.mu.Unlock()
		return ok
	}
	a.joinChecked = true
	a.mu.Unlock()

	if a.Store == nil {
		return true
	}

	if err := compaction.CheckJoinPrecondition(a.Store); err != nil {
		a.mu.Lock()
		a.joinFailed = true
		a.mu.Unlock()

		a.log().Error(err.Error())
		if a.Shutdown != nil {
			a.Shutdown.StartShutdown(err.Error())
		}
		return false
	}
	return true
}

// OnStateOffer records a peer's STATE_OFFER and commits to a state_hash
// once the offer threshold is crossed.
func (a *Acquisition) OnStateOffer(id netio.PeerID, offer wire.StateOffer) {
	if a.Metrics != nil {
		a.Metrics.OffersReceived.Inc()
	}

	hash, height, chunkHashes, ok := a.offers.Add(id, offer.StateHash, offer.Height, offer.ChunkHashes)
	if !ok {
		return
	}
	if err := a.commit(hash, height, chunkHashes); err != nil {
		a.log().Warn(err.Error(), logPeerField(id))
	}
}

func (a *Acquisition) commit(hash chainhash.Hash, height coinutxo.BlockHeight, chunkHashes []chainhash.Hash) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.committed {
		return ErrAlreadyCommitted
	}

	a.committed = true
	a.stateHash = hash
	a.height = height
	a.chunkHashes = chunkHashes
	a.chunkOffset = make(map[chainhash.Hash]int, len(chunkHashes))
	a.chunkStatus = make(map[chainhash.Hash]ChunkStatus, len(chunkHashes))
	a.needed = btree.New(32)
	for i, h := range chunkHashes {
		a.chunkOffset[h] = i
		a.chunkStatus[h] = ChunkNeeded
		a.needed.ReplaceOrInsert(chunkItem{offset: i, hash: h})
	}
	if a.Metrics != nil {
		a.Metrics.ChunksNeeded.Set(float64(len(chunkHashes)))
	}
	return nil
}

// Committed reports the state_hash this Acquisition has committed to
// downloading, if any.
func (a *Acquisition) Committed() (chainhash.Hash, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateHash, a.committed
}

// ScheduleChunks assigns NEEDED chunks to peers with spare download
// capacity, up to MaxDownloadsPerPeer in flight per peer. It should be
// called on every main-loop tick while a download is in progress.
func (a *Acquisition) ScheduleChunks() {
	a.mu.Lock()
	if !a.committed || a.needed == nil {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	a.Bus.ForEachPeer(func(p netio.Peer) {
		id := p.ID()

		a.mu.Lock()
		capacity := a.MaxDownloadsPerPeer - a.peerInFlight[id]
		a.mu.Unlock()

		for capacity > 0 {
			a.mu.Lock()
			item := a.needed.DeleteMin()
			a.mu.Unlock()
			if item == nil {
				break
			}
			ci := item.(chunkItem)

			a.mu.Lock()
			a.chunkStatus[ci.hash] = ChunkInTransit
			a.peerInFlight[id]++
			if a.peerAssigned[id] == nil {
				a.peerAssigned[id] = make(map[chainhash.Hash]struct{})
			}
			a.peerAssigned[id][ci.hash] = struct{}{}
			a.mu.Unlock()

			if err := wire.Send(a.Bus, id, wire.GetData{ChunkHashes: []chainhash.Hash{ci.hash}}); err != nil {
				a.log().Error("sending GETDATA", logErrField(err), logPeerField(id))
			}
			capacity--
		}
	})

	a.updateGauges()
}

func (a *Acquisition) updateGauges() {
	if a.Metrics == nil {
		return
	}
	a.mu.Lock()
	var needed, inTransit, stored int
	for _, status := range a.chunkStatus {
		switch status {
		case ChunkNeeded:
			needed++
		case ChunkInTransit:
			inTransit++
		case ChunkStored:
			stored++
		}
	}
	a.mu.Unlock()
	a.Metrics.ChunksNeeded.Set(float64(needed))
	a.Metrics.ChunksInTransit.Set(float64(inTransit))
	a.Metrics.ChunksStored.Set(float64(stored))
}

// OnStateChunk handles a delivered STATE_CHUNK from peer. A chunk whose
// content hash isn't part of the committed state means the peer is
// misbehaving or confused about what was asked of it: the peer is marked
// TIMEOUT and every chunk still assigned to it is re-queued as NEEDED. A
// redelivery of a chunk that is already STORED is ignored.
func (a *Acquisition) OnStateChunk(id netio.PeerID, chunk wire.StateChunk) error {
	a.mu.Lock()
	committed := a.committed
	a.mu.Unlock()
	if !committed {
		return ErrNotCommitted
	}

	hash := chainhash.HashBytes(chunk.Bytes)

	a.mu.Lock()
	status, known := a.chunkStatus[hash]
	a.mu.Unlock()

	if !known {
		a.markPeerTimeout(id)
		if a.Metrics != nil {
			a.Metrics.ChunkMismatches.Inc()
			a.Metrics.PeersTimedOut.Inc()
		}
		return fmt.Errorf("%w: peer=%s hash=%s", ErrUnknownChunk, id, hash)
	}
	if status == ChunkStored {
		// Already have this chunk; a duplicate delivery isn't misbehavior.
		return nil
	}

	offset := a.chunkOffset[hash]
	path := compaction.ChunkPath(a.StateDir, a.height, uint32(offset))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating chunk directory: %w", err)
	}
	if err := os.WriteFile(path, chunk.Bytes, 0o644); err != nil {
		return fmt.Errorf("persisting chunk %d: %w", offset, err)
	}

	a.mu.Lock()
	a.chunkStatus[hash] = ChunkStored
	a.peerInFlight[id]--
	if a.peerInFlight[id] < 0 {
		a.peerInFlight[id] = 0
	}
	delete(a.peerAssigned[id], hash)
	a.mu.Unlock()

	if a.Metrics != nil {
		a.Metrics.ChunksReceived.Inc()
	}
	a.updateGauges()

	return a.checkComplete(context.Background())
}

func (a *Acquisition) markPeerTimeout(id netio.PeerID) {
	a.mu.Lock()
	a.peerStatus[id] = PeerTimeout
	assigned := a.peerAssigned[id]
	a.peerAssigned[id] = make(map[chainhash.Hash]struct{})
	a.peerInFlight[id] = 0
	for hash := range assigned {
		if a.chunkStatus[hash] == ChunkInTransit {
			a.chunkStatus[hash] = ChunkNeeded
			a.needed.ReplaceOrInsert(chunkItem{offset: a.chunkOffset[hash], hash: hash})
		}
	}
	a.mu.Unlock()
	a.log().Warn("peer delivered a mismatching chunk; re-queuing its in-flight chunks", logPeerField(id))
}

// checkComplete assembles and verifies the state once every chunk is
// STORED, fanning the per-chunk hash re-verification out concurrently
// since chunk files can be large and there may be hundreds of them.
func (a *Acquisition) checkComplete(ctx context.Context) error {
	a.mu.Lock()
	if !a.committed {
		a.mu.Unlock()
		return nil
	}
	for _, status := range a.chunkStatus {
		if status != ChunkStored {
			a.mu.Unlock()
			return nil
		}
	}
	height, stateHash := a.height, a.stateHash
	a.mu.Unlock()

	if err := a.verifyStoredChunks(ctx); err != nil {
		return err
	}

	state, err := compaction.LoadState(ctx, a.StateDir, height)
	if err != nil {
		return fmt.Errorf("assembling downloaded state: %w", err)
	}
	if state.StateHash != stateHash {
		return fmt.Errorf("%w: got %s want %s", ErrStateHashMismatch, state.StateHash, stateHash)
	}

	a.mu.Lock()
	a.assembled = state
	a.mu.Unlock()

	return a.maybeSwitchToFullSync(ctx)
}

// verifyStoredChunks re-hashes every persisted chunk file against its
// advertised hash before assembly, bounding concurrency so a
// many-hundred-chunk state doesn't open that many files at once.
func (a *Acquisition) verifyStoredChunks(ctx context.Context) error {
	a.mu.Lock()
	hashes := append([]chainhash.Hash(nil), a.chunkHashes...)
	height := a.height
	dir := a.StateDir
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, want := range hashes {
		i, want := i, want
		g.Go(func() error {
			path := compaction.ChunkPath(dir, height, uint32(i))
			got, err := chainhash.HashFile(gctx, path)
			if err != nil {
				return fmt.Errorf("hashing stored chunk %d: %w", i, err)
			}
			if got != want {
				return fmt.Errorf("%w: chunk %d", ErrChunkHashMismatch, i)
			}
			return nil
		})
	}
	return g.Wait()
}

// Assembled returns the downloaded state once every chunk has been
// received, re-verified, and loaded back from disk.
func (a *Acquisition) Assembled() (*compaction.State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.assembled == nil {
		return nil, ErrAssemblyIncomplete
	}
	return a.assembled, nil
}

// SetHeaderTip reports the header chain's current tip height, advancing
// the handoff to full sync once it reaches the assembled state's height.
func (a *Acquisition) SetHeaderTip(height coinutxo.BlockHeight) error {
	a.mu.Lock()
	a.headerTipHeight = height
	a.mu.Unlock()
	return a.maybeSwitchToFullSync(context.Background())
}

func (a *Acquisition) maybeSwitchToFullSync(ctx context.Context) error {
	a.mu.Lock()
	state := a.assembled
	tip := a.headerTipHeight
	switched := a.switched
	a.mu.Unlock()

	if state == nil || switched || tip < state.Height {
		return nil
	}

	a.mu.Lock()
	a.switched = true
	a.mu.Unlock()

	return a.switchToFullSync(ctx, state)
}

// switchToFullSync applies the assembled state via Applier and installs
// the resulting store, or falls through to legacy full sync when state
// is nil — a one-way decision, matching the node's switch_to_full_sync.
func (a *Acquisition) switchToFullSync(ctx context.Context, state *compaction.State) error {
	if state == nil {
		if a.FallbackFullSync != nil {
			a.FallbackFullSync()
		}
		return nil
	}
	if a.Applier == nil {
		return nil
	}
	store, err := a.Applier.Apply(ctx, state)
	if err != nil {
		return fmt.Errorf("applying assembled state: %w", err)
	}
	if a.InstallStore != nil {
		a.InstallStore(store)
	}
	return nil
}
