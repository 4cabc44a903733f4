package compaction

import (
	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/chainstate"
	"github.com/coinprune/coinprune/coinutxo"
)

// Block is the minimal view of a block this package needs: enough to walk
// and disconnect the chain and to scan/embed a confirmation tag. Full
// block structure, transaction semantics and validation are the node's
// concern, not this package's.
type Block struct {
	Height         coinutxo.BlockHeight
	Hash           chainhash.Hash
	PrevHash       chainhash.Hash
	CoinbaseScript []byte
}

// DisconnectResult is the outcome of undoing one block's effect on a view.
type DisconnectResult int

const (
	DisconnectOk DisconnectResult = iota
	DisconnectUnclean
	DisconnectFailed
)

func (r DisconnectResult) String() string {
	switch r {
	case DisconnectOk:
		return "ok"
	case DisconnectUnclean:
		return "unclean"
	case DisconnectFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Disconnector undoes a block's effect on view. It is the node's block
// disconnector — assumed correct, implemented elsewhere; this package only
// depends on its interface.
type Disconnector interface {
	DisconnectBlock(block *Block, view chainstate.Store) (DisconnectResult, error)
}

// BlockReader retrieves a block by height from the node's block storage.
type BlockReader interface {
	ReadBlock(height coinutxo.BlockHeight) (*Block, error)
}

// ActiveChain exposes the minimum needed to walk the active chain from the
// tip downward: current height and the block at a given height.
type ActiveChain interface {
	TipHeight() coinutxo.BlockHeight
	BlockAt(height coinutxo.BlockHeight) (*Block, bool, error)
}
