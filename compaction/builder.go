package compaction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/chainstate"
	"github.com/coinprune/coinprune/coinutxo"
	"github.com/coinprune/coinprune/internal/logging"
)

// Builder produces a State from the live chainstate by rewinding a private
// overlay to a target height and serializing its coin set into
// size-bounded chunks.
type Builder struct {
	Base         chainstate.Store
	Chain        ActiveChain
	Rewinder     *Rewinder
	StateDir     string
	MaxChunkSize int
	Log          logging.Logger
	Metrics      *Metrics
}

func (b *Builder) maxChunkSize() int {
	if b.MaxChunkSize <= 0 {
		return DefaultMaxChunkSize
	}
	return b.MaxChunkSize
}

func (b *Builder) log() logging.Logger {
	if b.Log == nil {
		return logging.NewNoOp()
	}
	return b.Log
}

// Build rewinds a private view to height and emits the resulting State.
// Determinism contract: for identical (height, chainstate contents), two
// calls to Build produce identical chunk boundaries, chunk hashes and
// state hash.
func (b *Builder) Build(ctx context.Context, height coinutxo.BlockHeight) (*State, error) {
	if b.Metrics != nil {
		b.Metrics.BuildsStarted.Inc()
	}

	block, ok, err := b.Chain.BlockAt(height)
	if err != nil {
		return nil, fmt.Errorf("looking up block at height %d: %w", height, err)
	}
	if !ok {
		return nil, fmt.Errorf("no block at height %d to anchor state", height)
	}

	view := chainstate.NewOverlay(b.Base)
	undone, corrupt, err := b.Rewinder.RewindAndRemember(ctx, view, b.Chain.TipHeight(), height)
	if err != nil {
		return nil, fmt.Errorf("rewinding to height %d: %w", height, err)
	}
	b.log().Debug("rewound overlay for snapshot build", logCountField(len(undone)), logHeightField(height))

	chunksDir := filepath.Dir(ChunkPath(b.StateDir, height, 0))
	if err := os.MkdirAll(chunksDir, 0o755); err != nil {
		return nil, fmt.Errorf("preparing chunk directory: %w", err)
	}

	var (
		buf         []Entry
		bufSize     = chunkHeaderSize
		offset      uint32
		chunks      []ChunkDescriptor
		chunkHashes []chainhash.Hash
	)

	flush := func() error {
		path := ChunkPath(b.StateDir, height, offset)
		if err := writeChunk(path, height, offset, buf); err != nil {
			return err
		}
		hash, err := chainhash.HashFile(ctx, path)
		if err != nil {
			return err
		}
		chunks = append(chunks, ChunkDescriptor{Hash: hash, Offset: offset, FileName: path, NumUTXOs: len(buf)})
		chunkHashes = append(chunkHashes, hash)
		offset++
		buf = buf[:0]
		bufSize = chunkHeaderSize
		return nil
	}

	iterErr := view.Iterate(func(op coinutxo.OutPoint, coin coinutxo.Coin) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if coin.Height > height {
			b.log().Warn("skipping coin with height beyond snapshot target",
				logHeightField(coin.Height))
			return true, nil
		}

		entry := Entry{OutPoint: op, Coin: coin}
		entrySize := entry.EntrySize()

		if len(buf) > 0 && bufSize+entrySize > b.maxChunkSize() {
			if err := flush(); err != nil {
				return false, err
			}
		}
		buf = append(buf, entry)
		bufSize += entrySize
		return true, nil
	})
	if iterErr != nil {
		return nil, fmt.Errorf("iterating UTXO view: %w", iterErr)
	}
	if len(buf) > 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}

	meta := StateMeta{Height: height, LatestBlockHash: block.Hash, NumChunks: offset}
	metaPath := StatePath(b.StateDir, height)
	if err := writeStateMeta(metaPath, meta); err != nil {
		return nil, err
	}
	stateFileHash, err := chainhash.HashFile(ctx, metaPath)
	if err != nil {
		return nil, err
	}

	s := &State{
		Height:          height,
		LatestBlockHash: block.Hash,
		FileName:        metaPath,
		Chunks:          chunks,
		StateFileHash:   stateFileHash,
		StateHash:       computeStateHash(stateFileHash, chunkHashes),
	}

	if corrupt {
		// Files are left on disk for inspection; the deterministic naming
		// means a retry at the same height overwrites them cleanly. The
		// caller must not publish this handle.
		if b.Metrics != nil {
			b.Metrics.BuildsCorrupted.Inc()
		}
		return nil, ErrStateCorrupt
	}

	if b.Metrics != nil {
		b.Metrics.BuildsCompleted.Inc()
	}

	return s, nil
}

func writeStateMeta(path string, meta StateMeta) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating metafile %s: %w", path, err)
	}
	defer f.Close()
	if err := meta.encode(f); err != nil {
		return err
	}
	return f.Sync()
}
