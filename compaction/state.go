package compaction

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/coinutxo"
)

// StateMeta is the small record written to a state's metafile.
type StateMeta struct {
	Height          coinutxo.BlockHeight
	LatestBlockHash chainhash.Hash
	NumChunks       uint32
}

func (m StateMeta) encode(w io.Writer) error {
	if err := putUint32(w, uint32(m.Height)); err != nil {
		return err
	}
	if _, err := w.Write(m.LatestBlockHash[:]); err != nil {
		return err
	}
	return putUint32(w, m.NumChunks)
}

func decodeStateMeta(r io.Reader) (StateMeta, error) {
	var m StateMeta
	height, err := getUint32(r)
	if err != nil {
		return StateMeta{}, err
	}
	m.Height = coinutxo.BlockHeight(height)
	if _, err := io.ReadFull(r, m.LatestBlockHash[:]); err != nil {
		return StateMeta{}, err
	}
	numChunks, err := getUint32(r)
	if err != nil {
		return StateMeta{}, err
	}
	m.NumChunks = numChunks
	return m, nil
}

// ChunkDescriptor is what a State remembers about one of its chunks
// without having materialized its coins.
type ChunkDescriptor struct {
	Hash     chainhash.Hash
	Offset   uint32
	FileName string
	NumUTXOs int
}

// State is the in-memory handle to a snapshot: its metadata plus the
// descriptors of each chunk that makes it up, and optionally a link to the
// previously confirmed State it superseded.
type State struct {
	Height          coinutxo.BlockHeight
	LatestBlockHash chainhash.Hash
	FileName        string
	Chunks          []ChunkDescriptor
	StateFileHash   chainhash.Hash
	StateHash       chainhash.Hash

	confirmed bool
	prev      *State

	hashToOffset map[chainhash.Hash]int
}

// StateFileName returns the metafile name for a snapshot at height.
func StateFileName(height coinutxo.BlockHeight) string {
	return fmt.Sprintf("%010d.state", uint32(height))
}

// ChunkFileName returns the chunk file name for (height, offset).
func ChunkFileName(height coinutxo.BlockHeight, offset uint32) string {
	return fmt.Sprintf("%010d_%04d.chunk", uint32(height), offset)
}

// StatePath is the metafile's full path under dir.
func StatePath(dir string, height coinutxo.BlockHeight) string {
	return filepath.Join(dir, StateFileName(height))
}

// ChunkPath is a chunk file's full path under dir.
func ChunkPath(dir string, height coinutxo.BlockHeight, offset uint32) string {
	return filepath.Join(dir, "chunks", ChunkFileName(height, offset))
}

// IsConfirmed reports whether this State has accumulated enough
// confirmations to be relied upon.
func (s *State) IsConfirmed() bool { return s.confirmed }

// MarkConfirmed flips the State to confirmed. It never un-confirms.
func (s *State) MarkConfirmed() { s.confirmed = true }

// Previous returns the State this one superseded, or nil.
func (s *State) Previous() *State { return s.prev }

// SetPrevious attaches prev as this State's predecessor, dropping whatever
// predecessor prev itself may have held — a State's prev chain is at most
// one link long.
func (s *State) SetPrevious(prev *State) {
	if prev != nil {
		prev.prev = nil
	}
	s.prev = prev
}

// ChunkOffset looks up which offset a chunk hash corresponds to.
func (s *State) ChunkOffset(hash chainhash.Hash) (int, bool) {
	if s.hashToOffset == nil {
		s.buildIndex()
	}
	off, ok := s.hashToOffset[hash]
	return off, ok
}

func (s *State) buildIndex() {
	s.hashToOffset = make(map[chainhash.Hash]int, len(s.Chunks))
	for i, c := range s.Chunks {
		s.hashToOffset[c.Hash] = i
	}
}

// ChunkHashes returns the chunk hashes in offset order.
func (s *State) ChunkHashes() []chainhash.Hash {
	out := make([]chainhash.Hash, len(s.Chunks))
	for i, c := range s.Chunks {
		out[i] = c.Hash
	}
	return out
}

// computeStateHash folds the metafile hash and every chunk hash, in offset
// order, into the single state_hash that identifies this snapshot.
func computeStateHash(stateFileHash chainhash.Hash, chunkHashes []chainhash.Hash) chainhash.Hash {
	parts := make([][]byte, 0, len(chunkHashes)+1)
	parts = append(parts, stateFileHash.Bytes())
	for _, h := range chunkHashes {
		parts = append(parts, h.Bytes())
	}
	return chainhash.Concat(parts...)
}

// LoadState reads dir's metafile for height and builds the descriptor
// (hash, offset, file name, utxo count) of each of its chunks. Every chunk
// is decoded in full to check its header and count its entries; the
// decoded coins are not kept, and Loader.Apply reads them again at
// application time. It rejects a state whose recorded chunk count doesn't
// match the chunk files found on disk, or whose chunk headers don't match
// their height and offset. The state_hash is computed from the files on
// disk and is not compared against any expected value here.
func LoadState(ctx context.Context, dir string, height coinutxo.BlockHeight) (*State, error) {
	metaPath := StatePath(dir, height)
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("reading metafile %s: %w", metaPath, err)
	}
	meta, err := decodeStateMeta(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding metafile %s: %w", metaPath, err)
	}
	stateFileHash := chainhash.HashBytes(raw)

	chunks := make([]ChunkDescriptor, meta.NumChunks)
	for offset := uint32(0); offset < meta.NumChunks; offset++ {
		path := ChunkPath(dir, height, offset)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: missing chunk %d of %d", ErrChunkCountMismatch, offset, meta.NumChunks)
		}
		chunkHeight, gotOffset, entries, err := readChunk(path)
		if err != nil {
			return nil, fmt.Errorf("reading chunk %d: %w", offset, err)
		}
		if chunkHeight != meta.Height || gotOffset != offset {
			return nil, fmt.Errorf("%w: chunk %d has header (height=%d offset=%d)", ErrChunkCountMismatch, offset, chunkHeight, gotOffset)
		}
		hash, err := chainhash.HashFile(ctx, path)
		if err != nil {
			return nil, err
		}
		chunks[offset] = ChunkDescriptor{
			Hash:     hash,
			Offset:   offset,
			FileName: path,
			NumUTXOs: len(entries),
		}
	}

	// Confirm there isn't an (offset+1) chunk file lying around beyond what
	// the metafile claims — that would mean the metafile is stale.
	if extra := ChunkPath(dir, height, meta.NumChunks); fileExists(extra) {
		return nil, fmt.Errorf("%w: extra chunk file found beyond num_chunks=%d", ErrChunkCountMismatch, meta.NumChunks)
	}

	chunkHashes := make([]chainhash.Hash, len(chunks))
	for i, c := range chunks {
		chunkHashes[i] = c.Hash
	}
	stateHash := computeStateHash(stateFileHash, chunkHashes)

	s := &State{
		Height:          meta.Height,
		LatestBlockHash: meta.LatestBlockHash,
		FileName:        metaPath,
		Chunks:          chunks,
		StateFileHash:   stateFileHash,
		StateHash:       stateHash,
	}
	return s, nil
}

// ParseStatePath recovers (dir, height) from a metafile path produced by
// StatePath, so an operator-supplied file name is enough to locate a state
// on disk without also asking for its height.
func ParseStatePath(path string) (dir string, height coinutxo.BlockHeight, err error) {
	dir = filepath.Dir(path)
	base := filepath.Base(path)
	var h uint32
	if _, err := fmt.Sscanf(base, "%010d.state", &h); err != nil {
		return "", 0, fmt.Errorf("%s does not look like a state file name: %w", base, err)
	}
	return dir, coinutxo.BlockHeight(h), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DeleteFiles removes this State's metafile and all of its chunk files. It
// is called exactly once, when this State — previously confirmed — is
// superseded by a newer confirmed State.
func (s *State) DeleteFiles() error {
	for _, c := range s.Chunks {
		if err := os.Remove(c.FileName); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing chunk file %s: %w", c.FileName, err)
		}
	}
	if err := os.Remove(s.FileName); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing metafile %s: %w", s.FileName, err)
	}
	return nil
}
