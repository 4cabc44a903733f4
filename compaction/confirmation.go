package compaction

import (
	"bytes"
	"sync"

	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/coinutxo"
)

// ConfirmationTag is the marker miners prepend to a coinbase scriptSig to
// attest to a state hash.
const ConfirmationTag = "CoinPrune"

const confirmationSep = "/"

// maxCoinbaseScriptSize bounds the embedded script so a confirmation tag
// never grows the coinbase input past what the node allows.
const maxCoinbaseScriptSize = 100

// maxOriginalScript is how much of the pre-existing script survives
// truncation: 100 - len(tag) - 1 - 32 - 1.
const maxOriginalScript = maxCoinbaseScriptSize - len(ConfirmationTag) - 1 - chainhash.Size - 1

// Embed prepends the confirmation tag and hash to script, truncating the
// original script from the right so the result never exceeds
// maxCoinbaseScriptSize bytes.
func Embed(script []byte, hash chainhash.Hash) []byte {
	kept := script
	if len(kept) > maxOriginalScript {
		kept = kept[:maxOriginalScript]
	}

	out := make([]byte, 0, maxCoinbaseScriptSize)
	out = append(out, ConfirmationTag...)
	out = append(out, confirmationSep...)
	out = append(out, hash[:]...)
	out = append(out, confirmationSep...)
	out = append(out, kept...)
	return out
}

// Scan locates a confirmation tag in the coinbase script and returns the
// confirmed state hash, if any. The search is a plain forward substring
// search; coinbase scripts are small enough that there's no need for
// anything smarter.
func Scan(block *Block) (chainhash.Hash, bool) {
	script := block.CoinbaseScript
	tag := []byte(ConfirmationTag + confirmationSep)

	idx := bytes.Index(script, tag)
	if idx < 0 {
		return chainhash.Hash{}, false
	}

	start := idx + len(tag)
	if start+chainhash.Size > len(script) {
		return chainhash.Hash{}, false
	}

	var h chainhash.Hash
	copy(h[:], script[start:start+chainhash.Size])
	return h, true
}

// Tracker counts per-state-hash confirmations observed in mined coinbases
// and decides when a state has accumulated enough of them to be trusted.
type Tracker struct {
	RequiredConfirmations int
	Metrics               *Metrics

	mu            sync.Mutex
	confirmations map[chainhash.Hash]int
}

// NewTracker returns a Tracker requiring the given number of confirmations.
// A value <= 0 falls back to DefaultRequiredConfirmations.
func NewTracker(required int) *Tracker {
	if required <= 0 {
		required = DefaultRequiredConfirmations
	}
	return &Tracker{
		RequiredConfirmations: required,
		confirmations:         make(map[chainhash.Hash]int),
	}
}

// Record increments the confirmation counter for hash.
func (t *Tracker) Record(hash chainhash.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.confirmations[hash]++
	if t.Metrics != nil {
		t.Metrics.ConfirmationsRecorded.Inc()
	}
}

// Count returns the number of confirmations recorded for hash.
func (t *Tracker) Count(hash chainhash.Hash) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.confirmations[hash]
}

// IsConfirmed reports whether hash has reached RequiredConfirmations.
func (t *Tracker) IsConfirmed(hash chainhash.Hash) bool {
	return t.Count(hash) >= t.RequiredConfirmations
}

// Reset clears every recorded confirmation. Used before a historical
// rescan so blocks aren't double-counted against a prior in-memory state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.confirmations = make(map[chainhash.Hash]int)
}

// LastConfirmedInActiveChain walks chain from its tip downward, scanning
// and recording each block's confirmation tag, and returns the height and
// hash of the first state whose confirmation count crosses the threshold.
// If none does, it falls back to initialHeight with ok=false.
func (t *Tracker) LastConfirmedInActiveChain(chain ActiveChain, initialHeight coinutxo.BlockHeight) (coinutxo.BlockHeight, chainhash.Hash, bool) {
	tip := chain.TipHeight()
	for h := tip; ; h-- {
		block, ok, err := chain.BlockAt(h)
		if err == nil && ok {
			if hash, found := Scan(block); found {
				t.Record(hash)
				if t.IsConfirmed(hash) {
					return h, hash, true
				}
			}
		}
		if h == 0 {
			break
		}
	}
	return initialHeight, chainhash.Hash{}, false
}
