package compaction

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/coinprune/coinprune/coinutxo"
)

// Entry is one (OutPoint, Coin) pair as it appears inside a chunk.
type Entry struct {
	OutPoint coinutxo.OutPoint
	Coin     coinutxo.Coin
}

// chunkHeaderSize is the fixed overhead every chunk file pays regardless of
// how many entries it holds: height(4) + offset(4) + entry count(4).
const chunkHeaderSize = 4 + 4 + 4

// EntrySize returns the number of bytes e will occupy on disk.
func (e Entry) EntrySize() int {
	return coinutxo.OutPointEncodedSize + e.Coin.EncodedSize()
}

// writeChunk writes height, offset, then the length-prefixed entries to
// path. The on-disk layout is exactly what §4.2 specifies: a small fixed
// header followed by entries in the order given — callers are responsible
// for canonical ordering.
func writeChunk(path string, height coinutxo.BlockHeight, offset uint32, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating chunk file %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := encodeChunk(w, height, offset, entries); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func encodeChunk(w io.Writer, height coinutxo.BlockHeight, offset uint32, entries []Entry) error {
	if err := putUint32(w, uint32(height)); err != nil {
		return err
	}
	if err := putUint32(w, offset); err != nil {
		return err
	}
	if err := putUint32(w, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := e.OutPoint.Encode(w); err != nil {
			return err
		}
		if err := e.Coin.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

// readChunk reads a chunk file previously written by writeChunk.
func readChunk(path string) (coinutxo.BlockHeight, uint32, []Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("opening chunk file %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	height, offset, n, err := decodeChunkHeader(r)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("reading chunk header of %s: %w", path, err)
	}

	entries := make([]Entry, 0, n)
	for i := uint32(0); i < n; i++ {
		op, err := coinutxo.DecodeOutPoint(r)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("reading entry %d of %s: %w", i, path, err)
		}
		coin, err := coinutxo.DecodeCoin(r)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("reading entry %d of %s: %w", i, path, err)
		}
		entries = append(entries, Entry{OutPoint: op, Coin: coin})
	}
	return height, offset, entries, nil
}

func decodeChunkHeader(r io.Reader) (coinutxo.BlockHeight, uint32, uint32, error) {
	height, err := getUint32(r)
	if err != nil {
		return 0, 0, 0, err
	}
	offset, err := getUint32(r)
	if err != nil {
		return 0, 0, 0, err
	}
	count, err := getUint32(r)
	if err != nil {
		return 0, 0, 0, err
	}
	return coinutxo.BlockHeight(height), offset, count, nil
}

func putUint32(w io.Writer, v uint32) error {
	buf := [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	_, err := w.Write(buf[:])
	return err
}

func getUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}
