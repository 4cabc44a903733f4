package compactionconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	require := require.New(t)

	fs := FlagSet()
	require.NoError(fs.Parse(nil))

	cfg, err := Parse(fs, "")
	require.NoError(err)

	require.False(cfg.Enabled)
	require.Equal(10, cfg.RequiredConfirmations)
	require.Equal(1_000_000, cfg.MaxChunkSize)
	require.Equal(16, cfg.MaxDownloadsPerPeer)
	require.Equal(8, cfg.RequiredStateOffers)
	require.Equal(100, cfg.TailBlocks)
}

func TestParseOverridesFromFlags(t *testing.T) {
	require := require.New(t)

	fs := FlagSet()
	require.NoError(fs.Parse([]string{
		"--compaction",
		"--statename=/tmp/state.bin",
		"--required-confirmations=20",
	}))

	cfg, err := Parse(fs, "")
	require.NoError(err)

	require.True(cfg.Enabled)
	require.Equal("/tmp/state.bin", cfg.StateName)
	require.Equal(20, cfg.RequiredConfirmations)
}

func TestParseRejectsNonPositiveChunkSize(t *testing.T) {
	require := require.New(t)

	fs := FlagSet()
	require.NoError(fs.Parse([]string{"--max-chunk-size=0"}))

	_, err := Parse(fs, "")
	require.Error(err)
}

func TestStateDirSuffixes(t *testing.T) {
	require := require.New(t)

	require.Equal("/data/compaction_states", StateDir("/data", Live))
	require.Equal("/data/compaction_states_eval", StateDir("/data", Eval))
	require.Equal("/data/compaction_states_mockup", StateDir("/data", Mockup))
}
