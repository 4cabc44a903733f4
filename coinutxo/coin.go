// Package coinutxo defines the UTXO key/value pair — OutPoint and Coin —
// and their canonical binary encoding. The encoding here is the one the
// chunk codec and the chainstate store both rely on to be bit-for-bit
// stable, so any change to these functions changes every state_hash ever
// produced.
package coinutxo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/coinprune/coinprune/chainhash"
)

// BlockHeight is a block height; 0 is genesis.
type BlockHeight uint32

// MaxScriptSize bounds a single Coin's script so a corrupt length prefix
// can't trigger an unbounded allocation while decoding.
const MaxScriptSize = 1 << 20

var (
	ErrScriptTooLarge = errors.New("coin script exceeds maximum size")
)

// OutPoint identifies a transaction output: the containing transaction's
// hash and the output's index within it.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// Less implements the canonical lexicographic OutPoint ordering: compare
// transaction hash byte-for-byte, then output index.
func (o OutPoint) Less(other OutPoint) bool {
	if cmp := compareHash(o.Hash, other.Hash); cmp != 0 {
		return cmp < 0
	}
	return o.Index < other.Index
}

func compareHash(a, b chainhash.Hash) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// OutPointEncodedSize is the fixed number of bytes Encode writes: a
// 32-byte hash plus a 4-byte index.
const OutPointEncodedSize = chainhash.Size + 4

// Encode writes o in its fixed-width 36-byte form.
func (o OutPoint) Encode(w io.Writer) error {
	if _, err := w.Write(o.Hash[:]); err != nil {
		return err
	}
	return writeUint32(w, o.Index)
}

// DecodeOutPoint reads an OutPoint previously written by Encode.
func DecodeOutPoint(r io.Reader) (OutPoint, error) {
	var o OutPoint
	if _, err := io.ReadFull(r, o.Hash[:]); err != nil {
		return OutPoint{}, fmt.Errorf("reading outpoint hash: %w", err)
	}
	idx, err := readUint32(r)
	if err != nil {
		return OutPoint{}, fmt.Errorf("reading outpoint index: %w", err)
	}
	o.Index = idx
	return o, nil
}

// Coin is an unspent output: its amount, locking script, coinbase flag and
// the height at which it was created.
type Coin struct {
	Amount     uint64
	Script     []byte
	IsCoinbase bool
	Height     BlockHeight
}

// EncodedSize returns the number of bytes Encode will write for c.
func (c Coin) EncodedSize() int {
	return 8 /* amount */ + 4 /* height */ + 1 /* coinbase flag */ + compactSizeLen(uint64(len(c.Script))) + len(c.Script)
}

// Encode writes c in the node's canonical coin disk format: fixed-width
// amount/height/flag, then a CompactSize-prefixed script.
func (c Coin) Encode(w io.Writer) error {
	if err := writeUint64(w, c.Amount); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(c.Height)); err != nil {
		return err
	}
	flag := byte(0)
	if c.IsCoinbase {
		flag = 1
	}
	if _, err := w.Write([]byte{flag}); err != nil {
		return err
	}
	if err := writeCompactSize(w, uint64(len(c.Script))); err != nil {
		return err
	}
	_, err := w.Write(c.Script)
	return err
}

// DecodeCoin reads a Coin previously written by Encode.
func DecodeCoin(r io.Reader) (Coin, error) {
	var c Coin
	amount, err := readUint64(r)
	if err != nil {
		return Coin{}, fmt.Errorf("reading coin amount: %w", err)
	}
	c.Amount = amount

	height, err := readUint32(r)
	if err != nil {
		return Coin{}, fmt.Errorf("reading coin height: %w", err)
	}
	c.Height = BlockHeight(height)

	var flag [1]byte
	if _, err := io.ReadFull(r, flag[:]); err != nil {
		return Coin{}, fmt.Errorf("reading coin coinbase flag: %w", err)
	}
	c.IsCoinbase = flag[0] != 0

	scriptLen, err := readCompactSize(r)
	if err != nil {
		return Coin{}, fmt.Errorf("reading coin script length: %w", err)
	}
	if scriptLen > MaxScriptSize {
		return Coin{}, fmt.Errorf("%w: %d", ErrScriptTooLarge, scriptLen)
	}
	script := make([]byte, scriptLen)
	if _, err := io.ReadFull(r, script); err != nil {
		return Coin{}, fmt.Errorf("reading coin script: %w", err)
	}
	c.Script = script
	return c, nil
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

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// writeCompactSize writes v using Bitcoin-style variable-length framing so
// small scripts (the overwhelming majority) cost one byte of overhead.
func writeCompactSize(w io.Writer, v uint64) error {
	switch {
	case v < 0xfd:
		_, err := w.Write([]byte{byte(v)})
		return err
	case v <= 0xffff:
		buf := make([]byte, 3)
		buf[0] = 0xfd
		binary.LittleEndian.PutUint16(buf[1:], uint16(v))
		_, err := w.Write(buf)
		return err
	case v <= 0xffffffff:
		buf := make([]byte, 5)
		buf[0] = 0xfe
		binary.LittleEndian.PutUint32(buf[1:], uint32(v))
		_, err := w.Write(buf)
		return err
	default:
		buf := make([]byte, 9)
		buf[0] = 0xff
		binary.LittleEndian.PutUint64(buf[1:], v)
		_, err := w.Write(buf)
		return err
	}
}

func compactSizeLen(v uint64) int {
	switch {
	case v < 0xfd:
		return 1
	case v <= 0xffff:
		return 3
	case v <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

func readCompactSize(r io.Reader) (uint64, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, err
	}
	switch prefix[0] {
	case 0xfd:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(buf[:])), nil
	case 0xfe:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(buf[:])), nil
	case 0xff:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(buf[:]), nil
	default:
		return uint64(prefix[0]), nil
	}
}
