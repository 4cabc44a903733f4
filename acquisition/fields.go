package acquisition

import (
	"go.uber.org/zap"

	"github.com/coinprune/coinprune/netio"
)

func logErrField(err error) zap.Field {
	return zap.Error(err)
}

func logPeerField(id netio.PeerID) zap.Field {
	return zap.String("peer", string(id))
}
