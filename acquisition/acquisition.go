// Package acquisition implements the joining side of the snapshot
// protocol: collecting state offers from connected peers, committing to
// one once enough peers agree on it, scheduling chunk downloads across
// peers with a per-peer concurrency cap, and handing the assembled state
// off to full sync once the header chain catches up.
package acquisition

import "errors"

// Defaults mirror the node's compiled-in constants.
const (
	DefaultRequiredStateOffers = 8
	DefaultMaxDownloadsPerPeer = 16
)

var (
	ErrNotCommitted       = errors.New("acquisition: no state_hash committed yet")
	ErrAlreadyCommitted   = errors.New("acquisition: already committed to a state_hash")
	ErrUnknownChunk       = errors.New("acquisition: chunk hash not part of the committed state")
	ErrChunkHashMismatch  = errors.New("acquisition: received chunk content does not match its advertised hash")
	ErrStateHashMismatch  = errors.New("acquisition: assembled state_hash does not match the committed state_hash")
	ErrAssemblyIncomplete = errors.New("acquisition: not every chunk is stored yet")
)
