package rpcapi

import (
	"go.uber.org/zap"

	"github.com/coinprune/coinprune/coinutxo"
)

func logHeightField(h coinutxo.BlockHeight) zap.Field {
	return zap.Uint32("height", uint32(h))
}
