// Package wire encodes and decodes the four messages the acquisition
// protocol adds on top of the node's existing peer-to-peer framing:
// GETSTATE, STATE_OFFER, GETDATA{MSG_STATE} and STATE_CHUNK.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/coinutxo"
)

// Op identifies which of the four acquisition messages a payload carries.
type Op byte

const (
	OpGetState Op = iota + 1
	OpStateOffer
	OpGetData
	OpStateChunk
)

func (op Op) String() string {
	switch op {
	case OpGetState:
		return "get_state"
	case OpStateOffer:
		return "state_offer"
	case OpGetData:
		return "get_data"
	case OpStateChunk:
		return "state_chunk"
	default:
		return "unknown"
	}
}

// GetState carries no payload: it is a bare request for the recipient's
// best known state.
type GetState struct{}

// StateOffer advertises a state a peer is willing to serve.
type StateOffer struct {
	StateHash   chainhash.Hash
	Height      coinutxo.BlockHeight
	ChunkHashes []chainhash.Hash
}

// GetData requests delivery of the chunks named by ChunkHashes. The node's
// existing GETDATA verb is reused with an MSG_STATE inventory type; this
// package only models the state-chunk-specific payload.
type GetData struct {
	ChunkHashes []chainhash.Hash
}

// StateChunk carries one chunk file's raw on-disk bytes.
type StateChunk struct {
	Bytes []byte
}

func writeHash(w io.Writer, h chainhash.Hash) error {
	_, err := w.Write(h[:])
	return err
}

func readHash(r io.Reader) (chainhash.Hash, error) {
	var h chainhash.Hash
	_, err := io.ReadFull(r, h[:])
	return h, err
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// EncodeStateOffer serializes a STATE_OFFER payload.
func EncodeStateOffer(m StateOffer) ([]byte, error) {
	buf := make([]byte, 0, chainhash.Size+4+4+len(m.ChunkHashes)*chainhash.Size)
	w := sliceWriter{&buf}
	if err := writeHash(w, m.StateHash); err != nil {
		return nil, err
	}
	if err := writeUint32(w, uint32(m.Height)); err != nil {
		return nil, err
	}
	if err := writeUint32(w, uint32(len(m.ChunkHashes))); err != nil {
		return nil, err
	}
	for _, h := range m.ChunkHashes {
		if err := writeHash(w, h); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// DecodeStateOffer is EncodeStateOffer's inverse.
func DecodeStateOffer(data []byte) (StateOffer, error) {
	r := &sliceReader{data: data}
	hash, err := readHash(r)
	if err != nil {
		return StateOffer{}, fmt.Errorf("reading state_hash: %w", err)
	}
	height, err := readUint32(r)
	if err != nil {
		return StateOffer{}, fmt.Errorf("reading height: %w", err)
	}
	count, err := readUint32(r)
	if err != nil {
		return StateOffer{}, fmt.Errorf("reading chunk count: %w", err)
	}
	hashes := make([]chainhash.Hash, count)
	for i := range hashes {
		h, err := readHash(r)
		if err != nil {
			return StateOffer{}, fmt.Errorf("reading chunk hash %d: %w", i, err)
		}
		hashes[i] = h
	}
	return StateOffer{StateHash: hash, Height: coinutxo.BlockHeight(height), ChunkHashes: hashes}, nil
}

// EncodeGetData serializes a GETDATA{MSG_STATE} payload.
func EncodeGetData(m GetData) ([]byte, error) {
	buf := make([]byte, 0, 4+len(m.ChunkHashes)*chainhash.Size)
	w := sliceWriter{&buf}
	if err := writeUint32(w, uint32(len(m.ChunkHashes))); err != nil {
		return nil, err
	}
	for _, h := range m.ChunkHashes {
		if err := writeHash(w, h); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// DecodeGetData is EncodeGetData's inverse.
func DecodeGetData(data []byte) (GetData, error) {
	r := &sliceReader{data: data}
	count, err := readUint32(r)
	if err != nil {
		return GetData{}, fmt.Errorf("reading chunk count: %w", err)
	}
	hashes := make([]chainhash.Hash, count)
	for i := range hashes {
		h, err := readHash(r)
		if err != nil {
			return GetData{}, fmt.Errorf("reading chunk hash %d: %w", i, err)
		}
		hashes[i] = h
	}
	return GetData{ChunkHashes: hashes}, nil
}

type sliceWriter struct{ buf *[]byte }

func (w sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

type sliceReader struct {
	data []byte
	off  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}
