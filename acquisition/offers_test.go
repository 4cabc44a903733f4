package acquisition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coinprune/coinprune/chainhash"
	"github.com/coinprune/coinprune/coinutxo"
	"github.com/coinprune/coinprune/netio"
)

func TestOfferTrackerCommitsAtThreshold(t *testing.T) {
	require := require.New(t)

	tr := newOfferTracker(2)
	hash := chainhash.HashBytes([]byte("state"))

	_, _, _, ok := tr.Add("p1", hash, 10, nil)
	require.False(ok)

	_, height, _, ok := tr.Add("p2", hash, 10, nil)
	require.True(ok)
	require.EqualValues(10, height)
}

func TestOfferTrackerPrefersHighestHeightOnSimultaneousThreshold(t *testing.T) {
	require := require.New(t)

	tr := newOfferTracker(1)
	low := chainhash.HashBytes([]byte("low"))
	high := chainhash.HashBytes([]byte("high"))

	tr.mu.Lock()
	tr.offers[low] = &offerInfo{height: 5, peers: map[netio.PeerID]struct{}{"p1": {}}}
	tr.mu.Unlock()

	hash, height, _, ok := tr.Add("p2", high, coinutxo.BlockHeight(9), nil)
	require.True(ok)
	require.Equal(high, hash)
	require.EqualValues(9, height)
}

func TestOfferTrackerIgnoresOffersAfterCommit(t *testing.T) {
	require := require.New(t)

	tr := newOfferTracker(1)
	hash := chainhash.HashBytes([]byte("state"))
	_, _, _, ok := tr.Add("p1", hash, 1, nil)
	require.True(ok)

	other := chainhash.HashBytes([]byte("other"))
	_, _, _, ok = tr.Add("p2", other, 99, nil)
	require.False(ok, "a committed tracker must not switch to a later-seen candidate")
}
