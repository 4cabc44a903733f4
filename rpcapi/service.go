// Package rpcapi exposes the compaction engine's operator-facing RPC
// surface the way the node's own admin API exposes internal levers: a
// gorilla/rpc JSON-RPC service, one struct method per command, replying
// with a human-readable status string rather than an error in the normal
// case.
package rpcapi

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/rpc"
	"github.com/gorilla/rpc/json"
	"github.com/mr-tron/base58/base58"

	"github.com/coinprune/coinprune/chainstate"
	"github.com/coinprune/coinprune/coinutxo"
	"github.com/coinprune/coinprune/compaction"
	"github.com/coinprune/coinprune/compactionconfig"
	"github.com/coinprune/coinprune/internal/logging"
)

// Service implements the createstate/loadstate/readytoserve RPC handlers
// plus the supplemented overloadPrevState operator lever.
type Service struct {
	Runtime     *compaction.Runtime
	Coordinator *compaction.Coordinator
	Loader      *compaction.Loader
	Chain       compaction.ActiveChain

	// InstallStore receives the fresh chainstate.Store produced by a
	// successful loadstate call, so the caller can swap it in as the
	// node's active store.
	InstallStore func(chainstate.Store)

	// TailBlocks is how far past prev's height the tip must reach before
	// readytoserve reports true. Zero uses compactionconfig.DefaultTailBlocks.
	TailBlocks coinutxo.BlockHeight

	Log logging.Logger

	loading     atomic.Bool
	overloading atomic.Bool
}

// NewService registers Service as a JSON-RPC handler, the way the node's
// admin service registers itself under the "admin" namespace.
func NewService(svc *Service) (http.Handler, error) {
	server := rpc.NewServer()
	codec := json.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	if err := server.RegisterService(svc, "compaction"); err != nil {
		return nil, err
	}
	return server, nil
}

func (s *Service) log() logging.Logger {
	if s.Log == nil {
		return logging.NewNoOp()
	}
	return s.Log
}

func (s *Service) tailBlocks() coinutxo.BlockHeight {
	if s.TailBlocks > 0 {
		return s.TailBlocks
	}
	return coinutxo.BlockHeight(compactionconfig.DefaultTailBlocks)
}

// StatusReply is the human-readable outcome every command but
// readytoserve returns.
type StatusReply struct {
	Status string `json:"status"`
}

// CreateStateArgs are the arguments for calling CreateState.
type CreateStateArgs struct {
	MaxHeight uint32 `json:"maxHeight"`
}

// CreateState schedules a build at MaxHeight (0 meaning the active tip).
func (s *Service) CreateState(_ *http.Request, args *CreateStateArgs, reply *StatusReply) error {
	if s.loading.Load() {
		reply.Status = "aborting: a state load is already in progress"
		return nil
	}

	height := coinutxo.BlockHeight(args.MaxHeight)
	if height == 0 {
		height = s.Chain.TipHeight()
	}

	s.Coordinator.SetWantToBuild(height, compaction.SlotCurrent, compaction.SlotPrev, false)
	s.log().Info("createstate: build scheduled", logHeightField(height))

	reply.Status = fmt.Sprintf("state build scheduled at height %d", height)
	return nil
}

// LoadStateArgs are the arguments for calling LoadState.
type LoadStateArgs struct {
	File string `json:"file"`
}

// LoadState applies the named state file to the live chainstate,
// rejecting the request outright if another load is already running.
func (s *Service) LoadState(_ *http.Request, args *LoadStateArgs, reply *StatusReply) error {
	if !s.loading.CompareAndSwap(false, true) {
		reply.Status = "aborting: a state load is already in progress"
		return nil
	}
	defer s.loading.Store(false)

	dir, height, err := compaction.ParseStatePath(args.File)
	if err != nil {
		reply.Status = fmt.Sprintf("aborting: %v", err)
		return nil
	}

	ctx := context.Background()
	state, err := compaction.LoadState(ctx, dir, height)
	if err != nil {
		reply.Status = fmt.Sprintf("aborting: reading state: %v", err)
		return nil
	}

	store, err := s.Loader.Apply(ctx, state)
	if err != nil {
		reply.Status = fmt.Sprintf("aborting: applying state: %v", err)
		return nil
	}
	if s.InstallStore != nil {
		s.InstallStore(store)
	}

	s.log().Info("loadstate: applied", logHeightField(state.Height))
	reply.Status = fmt.Sprintf("applied state %s at height %d", base58.Encode(state.StateHash.Bytes()), state.Height)
	return nil
}

// ReadyToServeReply is the outcome of calling ReadyToServe.
type ReadyToServeReply struct {
	Ready bool `json:"ready"`
}

// ReadyToServe reports whether sync is complete, the tip has advanced at
// least tailBlocks past the previous confirmed state's height, and no
// overload is currently discarding that state's files out from under it.
func (s *Service) ReadyToServe(_ *http.Request, _ *struct{}, reply *ReadyToServeReply) error {
	if s.overloading.Load() || !s.Runtime.SyncComplete() {
		reply.Ready = false
		return nil
	}

	prev := s.Runtime.Prev()
	if prev == nil {
		reply.Ready = false
		return nil
	}

	reply.Ready = s.Chain.TipHeight() >= prev.Height+s.tailBlocks()
	return nil
}

// OverloadPrevState force-discards the previous confirmed state's files
// without waiting for it to be superseded by a newer confirmation — an
// operator lever for reclaiming disk space under pressure.
func (s *Service) OverloadPrevState(_ *http.Request, _ *struct{}, reply *StatusReply) error {
	if !s.overloading.CompareAndSwap(false, true) {
		reply.Status = "aborting: an overload is already in progress"
		return nil
	}
	defer s.overloading.Store(false)

	prev := s.Runtime.DiscardPrev()
	if prev == nil {
		reply.Status = "no previous confirmed state to discard"
		return nil
	}

	if err := prev.DeleteFiles(); err != nil {
		reply.Status = fmt.Sprintf("discarded state handle at height %d but failed removing its files: %v", prev.Height, err)
		return nil
	}

	s.log().Info("overloadprevstate: discarded", logHeightField(prev.Height))
	reply.Status = fmt.Sprintf("discarded previous confirmed state at height %d", prev.Height)
	return nil
}
