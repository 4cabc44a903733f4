package compaction

import (
	"go.uber.org/zap"

	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/coinutxo"
)

func logErrField(err error) zap.Field {
	return zap.Error(err)
}

func logHashField(key string, h chainhash.Hash) zap.Field {
	return zap.Stringer(key, h)
}

func logHeightField(h coinutxo.BlockHeight) zap.Field {
	return zap.Uint32("height", uint32(h))
}

func logOffsetField(offset uint32) zap.Field {
	return zap.Uint32("offset", offset)
}

func logCountField(n int) zap.Field {
	return zap.Int("count", n)
}
