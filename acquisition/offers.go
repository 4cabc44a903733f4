package acquisition

import (
	"sync"

	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/coinutxo"
	"github.com/coinprune/coinprune/netio"
)

type offerInfo struct {
	height      coinutxo.BlockHeight
	chunkHashes []chainhash.Hash
	peers       map[netio.PeerID]struct{}
}

// offerTracker collects STATE_OFFER replies into offers[state_hash] ->
// set<peer> and decides when a state_hash has enough distinct offering
// peers to commit to.
type offerTracker struct {
	required int

	mu        sync.Mutex
	offers    map[chainhash.Hash]*offerInfo
	committed bool
	commit    offerInfo
	stateHash chainhash.Hash
}

func newOfferTracker(required int) *offerTracker {
	if required <= 0 {
		required = DefaultRequiredStateOffers
	}
	return &offerTracker{
		required: required,
		offers:   make(map[chainhash.Hash]*offerInfo),
	}
}

// Add records peer's offer of stateHash and returns the committed
// (stateHash, height, chunkHashes) once the offer pool has a candidate
// meeting the required threshold. It is a no-op once a commitment has
// already been made.
func (t *offerTracker) Add(peer netio.PeerID, stateHash chainhash.Hash, height coinutxo.BlockHeight, chunkHashes []chainhash.Hash) (chainhash.Hash, coinutxo.BlockHeight, []chainhash.Hash, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.committed {
		return chainhash.Hash{}, 0, nil, false
	}

	info, ok := t.offers[stateHash]
	if !ok {
		info = &offerInfo{height: height, chunkHashes: chunkHashes, peers: make(map[netio.PeerID]struct{})}
		t.offers[stateHash] = info
	}
	info.peers[peer] = struct{}{}

	// Tie-break across every candidate that now meets the threshold:
	// prefer the highest height, not merely the first one to cross it.
	// This only resolves ties among candidates that have already
	// crossed the threshold by the time this call observes them; it
	// commits on the first call in which any candidate crosses, so a
	// lower state_hash that reaches `required` offers strictly before a
	// higher one still wins the commitment.
	var bestHash chainhash.Hash
	var best *offerInfo
	for hash, candidate := range t.offers {
		if len(candidate.peers) < t.required {
			continue
		}
		if best == nil || candidate.height > best.height {
			best = candidate
			bestHash = hash
		}
	}
	if best == nil {
		return chainhash.Hash{}, 0, nil, false
	}

	t.committed = true
	t.stateHash = bestHash
	t.commit = *best
	return bestHash, best.height, best.chunkHashes, true
}

// Committed reports the commitment made by Add, if any.
func (t *offerTracker) Committed() (chainhash.Hash, coinutxo.BlockHeight, []chainhash.Hash, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.committed {
		return chainhash.Hash{}, 0, nil, false
	}
	return t.stateHash, t.commit.height, t.commit.chunkHashes, true
}
