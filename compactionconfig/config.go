// Package compactionconfig binds the compaction engine's CLI surface the
// way the node's own config package binds its flags: a pflag.FlagSet,
// merged with any config file through viper, producing a typed Config.
package compactionconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/coinprune/coinprune/acquisition"
	"github.com/coinprune/coinprune/compaction"
)

// Flag keys, exported so a surrounding node's own flag set can reference
// them when wiring this package's flags alongside its own.
const (
	CompactionKey          = "compaction"
	StateNameKey           = "statename"
	ProvideStateKey        = "provideState"
	RequiredConfirmsKey    = "required-confirmations"
	MaxChunkSizeKey        = "max-chunk-size"
	MaxDownloadsPerPeerKey = "max-downloads-per-peer"
	RequiredStateOffersKey = "required-state-offers"
	InitialStateHeightKey  = "initial-state-height"
	TailBlocksKey          = "compaction-tail-blocks"
)

// DefaultInitialStateHeight is the fallback height used when no confirmed
// state can be found by walking the active chain.
const DefaultInitialStateHeight = compaction.DefaultInitialStateHeight

// DefaultTailBlocks is how far ahead of the previous confirmed state's
// height the active tip must reach before readytoserve reports true: the
// node still replays this many blocks normally after a state is applied.
const DefaultTailBlocks = 100

// StateDirMode names the on-disk suffix a state directory uses: one for
// live operation, one for RPC-triggered evaluation builds, and one for
// mockup/test networks.
type StateDirMode int

const (
	Live StateDirMode = iota
	Eval
	Mockup
)

func (m StateDirMode) suffix() string {
	switch m {
	case Eval:
		return "_eval"
	case Mockup:
		return "_mockup"
	default:
		return ""
	}
}

// StateDir returns the compaction_states directory for mode under dataDir.
func StateDir(dataDir string, mode StateDirMode) string {
	return filepath.Join(dataDir, "compaction_states"+mode.suffix())
}

// Config is the compaction engine's parsed configuration.
type Config struct {
	Enabled      bool
	StateName    string
	ProvideState bool

	RequiredConfirmations int
	MaxChunkSize          int
	MaxDownloadsPerPeer   int
	RequiredStateOffers   int
	InitialStateHeight    int
	TailBlocks            int
}

// FlagSet returns the compaction engine's pflag.FlagSet, ready to be
// merged into a surrounding node's own command line.
func FlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("compaction", pflag.ContinueOnError)

	fs.Bool(CompactionKey, false, "Opt in to state-based fast sync")
	fs.String(StateNameKey, "", "Load a locally provided state file at startup instead of network acquisition")
	fs.Bool(ProvideStateKey, false, "Serve states and embed confirmations in mined coinbase")

	fs.Int(RequiredConfirmsKey, compaction.DefaultRequiredConfirmations, "Number of coinbase confirmations required before a state is trusted")
	fs.Int(MaxChunkSizeKey, compaction.DefaultMaxChunkSize, "Maximum serialized size, in bytes, of a single chunk file")
	fs.Int(MaxDownloadsPerPeerKey, acquisition.DefaultMaxDownloadsPerPeer, "Maximum number of chunks requested concurrently from a single peer")
	fs.Int(RequiredStateOffersKey, acquisition.DefaultRequiredStateOffers, "Number of distinct peers that must offer a state_hash before committing to it")
	fs.Int(InitialStateHeightKey, DefaultInitialStateHeight, "Fallback confirmed-state height used when none is found in the active chain")
	fs.Int(TailBlocksKey, DefaultTailBlocks, "Blocks past the previous confirmed state's height the tip must reach before readytoserve reports true")

	return fs
}

// Parse merges fs (already parsed) with an optional config file and
// returns the resulting Config.
func Parse(fs *pflag.FlagSet, configFile string) (Config, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("binding compaction flags: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(os.ExpandEnv(configFile))
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading compaction config file %s: %w", configFile, err)
		}
	}

	cfg := Config{
		Enabled:               v.GetBool(CompactionKey),
		StateName:             v.GetString(StateNameKey),
		ProvideState:          v.GetBool(ProvideStateKey),
		RequiredConfirmations: v.GetInt(RequiredConfirmsKey),
		MaxChunkSize:          v.GetInt(MaxChunkSizeKey),
		MaxDownloadsPerPeer:   v.GetInt(MaxDownloadsPerPeerKey),
		RequiredStateOffers:   v.GetInt(RequiredStateOffersKey),
		InitialStateHeight:    v.GetInt(InitialStateHeightKey),
		TailBlocks:            v.GetInt(TailBlocksKey),
	}

	if cfg.RequiredConfirmations <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", RequiredConfirmsKey, cfg.RequiredConfirmations)
	}
	if cfg.MaxChunkSize <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", MaxChunkSizeKey, cfg.MaxChunkSize)
	}

	return cfg, nil
}
