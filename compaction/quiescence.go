package compaction

import (
	"context"
	"sync"

	"github.com/coinprune/coinprune/coinutxo"
	"github.com/coinprune/coinprune/internal/logging"
	"github.com/coinprune/coinprune/netio"
)

// CoordinatorState is one of the explicit states of the cooperative pause
// protocol: IDLE -> WANTED -> PAUSING -> READY -> BUILDING -> IDLE.
type CoordinatorState int

const (
	StateIdle CoordinatorState = iota
	StateWanted
	StatePausing
	StateReady
	StateBuilding
)

func (s CoordinatorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWanted:
		return "wanted"
	case StatePausing:
		return "pausing"
	case StateReady:
		return "ready"
	case StateBuilding:
		return "building"
	default:
		return "unknown"
	}
}

// TargetSlot names which Runtime-owned State pointer a scheduled build
// writes into, replacing the original raw-pointer-to-pointer handoff with
// an enum the coordinator resolves under the runtime's own lock.
type TargetSlot int

const (
	SlotCurrent TargetSlot = iota
	SlotDownloaded
	SlotPrev
	SlotDiscard
)

// SlotResolver lets the coordinator read/write a Runtime's State slots
// without holding a raw pointer into runtime-owned memory.
type SlotResolver interface {
	Slot(slot TargetSlot) *State
	SetSlot(slot TargetSlot, s *State)
}

type buildRequest struct {
	height      coinutxo.BlockHeight
	target      TargetSlot
	prev        TargetSlot
	willDiscard bool
}

// Flusher flushes the chainstate cache before a build starts, so the
// coordinator can guarantee the builder sees a consistent, durable view.
type Flusher interface {
	Flush() error
}

// Coordinator implements the quiescence protocol: pause all peer I/O,
// wait for in-flight work to drain, build a state, then resume. It is the
// only component that may invoke the Builder. It takes no chainstate lock:
// its only lock is mu, which guards its own fields and is not held while
// Build runs.
type Coordinator struct {
	Bus      netio.Bus
	Builder  *Builder
	Resolver SlotResolver
	Flusher  Flusher
	Log      logging.Logger

	mu            sync.Mutex
	state         CoordinatorState
	pending       *buildRequest
	haltEffective map[netio.PeerID]bool
}

// NewCoordinator returns an idle Coordinator.
func NewCoordinator(bus netio.Bus, builder *Builder, resolver SlotResolver, flusher Flusher, log logging.Logger) *Coordinator {
	return &Coordinator{
		Bus:           bus,
		Builder:       builder,
		Resolver:      resolver,
		Flusher:       flusher,
		Log:           log,
		state:         StateIdle,
		haltEffective: make(map[netio.PeerID]bool),
	}
}

func (c *Coordinator) log() logging.Logger {
	if c.Log == nil {
		return logging.NewNoOp()
	}
	return c.Log
}

// State returns the coordinator's current state.
func (c *Coordinator) State() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetWantToBuild signals that, once the node can pause, it should build a
// state at height and store it into target (attaching prev as its
// predecessor), or discard it entirely if willDiscard is true.
func (c *Coordinator) SetWantToBuild(height coinutxo.BlockHeight, target, prev TargetSlot, willDiscard bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		// Already building or waiting on a previous request; the next
		// Tick will pick up the most recently requested height.
	}
	c.pending = &buildRequest{height: height, target: target, prev: prev, willDiscard: willDiscard}
	c.state = StateWanted
}

// WantsToBuild reports whether a build has been requested and not yet
// started.
func (c *Coordinator) WantsToBuild() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateWanted || c.state == StatePausing
}

// Tick advances the coordinator's state machine by one main-loop
// iteration. It must be called repeatedly (e.g. once per main-loop pass)
// for a requested build to ever happen.
func (c *Coordinator) Tick(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case StateWanted:
		c.pauseAllPeers()
		c.mu.Lock()
		c.state = StatePausing
		c.mu.Unlock()
		fallthrough
	case StatePausing:
		if c.allPeersHalted() {
			c.mu.Lock()
			c.state = StateReady
			c.mu.Unlock()
		}
	case StateReady:
		c.mu.Lock()
		c.state = StateBuilding
		req := c.pending
		c.mu.Unlock()
		return c.build(ctx, req)
	}
	return nil
}

func (c *Coordinator) pauseAllPeers() {
	c.Bus.ForEachPeer(func(p netio.Peer) {
		p.SetHaltSend(true)
		p.SetHaltRecv(true)
	})
}

// allPeersHalted checks, and latches, each peer's halt_recv_effective
// condition: once a peer is observed with no in-flight requests and a
// received "no more blocks" acknowledgement, it stays effective even if a
// later tick observes new in-flight activity caused by messages already
// queued before the halt took effect.
func (c *Coordinator) allPeersHalted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	allReady := true
	c.Bus.ForEachPeer(func(p netio.Peer) {
		id := p.ID()
		if !c.haltEffective[id] {
			if !p.HasInFlightRequests() && p.NoMoreBlocksAcked() {
				c.haltEffective[id] = true
			}
		}
		if !c.haltEffective[id] {
			allReady = false
		}
	})
	return allReady
}

func (c *Coordinator) build(ctx context.Context, req *buildRequest) error {
	defer c.exit()

	if req == nil {
		return nil
	}

	if c.Flusher != nil {
		if err := c.Flusher.Flush(); err != nil {
			c.log().Error("flushing chainstate before build", logErrField(err))
			return err
		}
	}

	state, err := c.Builder.Build(ctx, req.height)
	if err != nil {
		c.log().Error("scheduled state build failed", logErrField(err), logHeightField(req.height))
		return err
	}

	if req.willDiscard {
		return nil
	}

	if req.target == SlotDiscard {
		c.log().Error(ErrNoTargetSlot.Error(), logHeightField(req.height))
		return ErrNoTargetSlot
	}

	state.SetPrevious(c.Resolver.Slot(req.prev))
	c.Resolver.SetSlot(req.target, state)
	return nil
}

// exit clears every peer's halt flags, bumps their activity timestamps so
// the idle watchdog doesn't disconnect them for the pause window, and
// returns the coordinator to IDLE. A request made through SetWantToBuild
// while this build ran is kept, and the coordinator stays WANTED for it.
func (c *Coordinator) exit() {
	c.Bus.ForEachPeer(func(p netio.Peer) {
		p.SetHaltSend(false)
		p.SetHaltRecv(false)
		p.TouchActivity()
	})

	c.mu.Lock()
	c.haltEffective = make(map[netio.PeerID]bool)
	if c.state == StateBuilding {
		c.pending = nil
		c.state = StateIdle
	}
	c.mu.Unlock()
}
