// Package netio models the peer manager this engine depends on but does
// not own: per-peer send/receive pause flags, broadcast, and iteration.
// The real implementation lives in the node's networking stack; this
// package only defines the narrow interface the compaction quiescence
// coordinator and the acquisition protocol need, grounded on the shape of
// the node's peer set (add/remove/iterate/sample).
package netio

// PeerID identifies a connected peer.
type PeerID string

// Peer is the per-connection I/O control surface the quiescence
// coordinator and acquisition protocol drive.
type Peer interface {
	ID() PeerID

	// SetHaltSend/SetHaltRecv pause outbound/inbound message processing
	// for this peer. They take effect at the next message-loop tick —
	// the coordinator never preempts a peer mid-message.
	SetHaltSend(halt bool)
	SetHaltRecv(halt bool)

	// HasInFlightRequests reports whether this peer currently has any
	// outstanding block or chunk requests.
	HasInFlightRequests() bool

	// NoMoreBlocksAcked reports whether this peer has acknowledged that
	// no more blocks are in flight to it.
	NoMoreBlocksAcked() bool

	// TouchActivity bumps this peer's last-send/last-recv timestamps to
	// now, so the idle-timeout watchdog doesn't disconnect it for the
	// time it spent paused.
	TouchActivity()

	Send(msg any)
}

// Bus is the peer manager: broadcast, direct send, and iteration over
// every connected peer.
type Bus interface {
	ForEachPeer(fn func(Peer))
	Broadcast(msg any)
	Send(id PeerID, msg any)
	PeerByID(id PeerID) (Peer, bool)
}
