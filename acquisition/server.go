package acquisition

import (
	"os"
	"sync"

	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/compaction"
	"github.com/coinprune/coinprune/internal/logging"
	"github.com/coinprune/coinprune/netio"
	"github.com/coinprune/coinprune/wire"
)

// StateProvider exposes whichever confirmed state the server should
// advertise to a requesting peer.
type StateProvider interface {
	ServeState() *compaction.State
}

// ServerSession tracks the chunk a peer is currently being sent, the way
// the original server-side code tracked one in-flight chunk per peer to
// avoid streaming two chunks to the same peer concurrently.
type ServerSession struct {
	currentChunk chainhash.Hash
	sending      bool
}

// Server answers GETSTATE and GETDATA{MSG_STATE} requests from joining
// peers, one chunk at a time per peer.
type Server struct {
	Bus      netio.Bus
	Provider StateProvider
	Log      logging.Logger

	mu       sync.Mutex
	sessions map[netio.PeerID]*ServerSession
}

// NewServer returns a Server with no sessions yet tracked.
func NewServer(bus netio.Bus, provider StateProvider, log logging.Logger) *Server {
	return &Server{
		Bus:      bus,
		Provider: provider,
		Log:      log,
		sessions: make(map[netio.PeerID]*ServerSession),
	}
}

func (s *Server) log() logging.Logger {
	if s.Log == nil {
		return logging.NewNoOp()
	}
	return s.Log
}

func (s *Server) sessionFor(id netio.PeerID) *ServerSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &ServerSession{}
		s.sessions[id] = sess
	}
	return sess
}

// OnGetState answers a GETSTATE request with the provider's current
// state, if any is available to serve.
func (s *Server) OnGetState(peer netio.PeerID) {
	state := s.Provider.ServeState()
	if state == nil {
		return
	}
	offer := wire.StateOffer{
		StateHash:   state.StateHash,
		Height:      state.Height,
		ChunkHashes: state.ChunkHashes(),
	}
	if err := wire.Send(s.Bus, peer, offer); err != nil {
		s.log().Error("sending STATE_OFFER", logErrField(err), logPeerField(peer))
	}
}

// OnGetData answers a GETDATA{MSG_STATE} request by streaming the
// requested chunks to peer one at a time, refusing to start a second
// chunk while the previous one for this peer hasn't finished sending.
func (s *Server) OnGetData(peer netio.PeerID, req wire.GetData) {
	state := s.Provider.ServeState()
	if state == nil {
		return
	}

	sess := s.sessionFor(peer)
	for _, hash := range req.ChunkHashes {
		s.mu.Lock()
		busy := sess.sending
		s.mu.Unlock()
		if busy {
			s.log().Debug("dropping GETDATA chunk request while a previous chunk is still in flight",
				logPeerField(peer))
			continue
		}

		offset, ok := state.ChunkOffset(hash)
		if !ok || offset >= len(state.Chunks) {
			continue
		}
		path := state.Chunks[offset].FileName
		data, err := os.ReadFile(path)
		if err != nil {
			s.log().Warn("reading chunk file to serve", logErrField(err), logPeerField(peer))
			continue
		}

		s.mu.Lock()
		sess.currentChunk = hash
		sess.sending = true
		s.mu.Unlock()

		if err := wire.Send(s.Bus, peer, wire.StateChunk{Bytes: data}); err != nil {
			s.log().Error("sending STATE_CHUNK", logErrField(err), logPeerField(peer))
		}

		s.mu.Lock()
		sess.sending = false
		s.mu.Unlock()
	}
}
