// Package chainhash provides the content hash used to address states and
// chunks: a streaming SHA-256 over files and byte strings, matching the
// node's generic content hash.
package chainhash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// Size is the length in bytes of a Hash.
const Size = sha256.Size

// readChunkSize bounds how much of a file is pulled into memory between
// cancellation checks.
const readChunkSize = 1 << 20 // 1 MiB

var ErrInvalidSize = errors.New("invalid hash size")

// Hash is a 256-bit content-addressable identifier.
type Hash [Size]byte

// String returns the hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns the raw 32 bytes of h.
func (h Hash) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, h[:])
	return b
}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// FromBytes copies b into a Hash, failing if b is not exactly Size bytes.
func FromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != Size {
		return h, fmt.Errorf("%w: got %d want %d", ErrInvalidSize, len(b), Size)
	}
	copy(h[:], b)
	return h, nil
}

// HashBytes computes the content hash of data.
//
// An earlier version of this helper pre-zeroed its read counter before a
// "while remaining > 0" loop, which meant the loop body never executed and
// nothing was ever hashed; this implementation just hashes the full input
// in one pass.
func HashBytes(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(sum)
}

// HashFile computes the content hash of the file at path, streaming it in
// reads no larger than readChunkSize so hashing a large state file doesn't
// require loading it into memory. It is cancellable at chunk boundaries via
// ctx.
func HashFile(ctx context.Context, path string) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hash{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return Hash{}, err
		}

		n, readErr := f.Read(buf)
		if n > 0 {
			// hash.Hash.Write never errors.
			h.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Hash{}, fmt.Errorf("reading %s: %w", path, readErr)
		}
	}

	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Concat hashes the concatenation of parts in order. Used to fold a state's
// file hash and its chunk hashes into a single state_hash.
func Concat(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
