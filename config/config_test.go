package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brensch/panotree/explorer"
	"github.com/brensch/panotree/hoo"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	ec, err := cfg.ExplorerConfig()
	require.NoError(t, err)
	require.Equal(t, explorer.DefaultConfig(), ec)
	require.Equal(t, 300, cfg.Rollout.NumUpdates)
	require.Equal(t, 5, cfg.Grid.Divider)
	require.Equal(t, 0.3, cfg.Grid.ScoreThreshold)
	require.Equal(t, 2.5, cfg.Grid.LowerSizeBound)
	require.Equal(t, 144, cfg.OnnxConfig().BatchSize)
}

func TestParse(t *testing.T) {
	t.Run("overrides only what is set", func(t *testing.T) {
		cfg, err := Parse([]byte(`
hoo:
  c: 0.7
  policy: xyz
rollout:
  value_strategy: average
  num_position_offsets: 4
render:
  timeout: 12s
grid:
  grid_divider: 7
`))
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())
		require.Equal(t, 0.7, cfg.Hoo.C)
		require.Equal(t, 0.5, cfg.Hoo.V1)
		require.Equal(t, 12*time.Second, cfg.Render.Timeout)
		require.Equal(t, 7, cfg.Grid.Divider)

		ec, err := cfg.ExplorerConfig()
		require.NoError(t, err)
		require.Equal(t, hoo.PolicyXYZ, ec.Tree.Policy)
		require.Equal(t, explorer.StrategyMean, ec.Strategy)
		require.Equal(t, 4, ec.NumPositionOffsets)
		require.Equal(t, int64(42), ec.Tree.Seed)
	})

	t.Run("rejects malformed yaml", func(t *testing.T) {
		_, err := Parse([]byte("hoo: [1, 2"))
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"c":              func(c *Config) { c.Hoo.C = 0 },
		"v1":             func(c *Config) { c.Hoo.V1 = -1 },
		"rho":            func(c *Config) { c.Hoo.Rho = 1 },
		"policy":         func(c *Config) { c.Hoo.Policy = "random" },
		"strategy":       func(c *Config) { c.Rollout.ValueStrategy = "median" },
		"updates":        func(c *Config) { c.Rollout.NumUpdates = 0 },
		"directions":     func(c *Config) { c.Rollout.NumDirections = 0 },
		"offsets":        func(c *Config) { c.Rollout.NumPositionOffsets = -1 },
		"endpoint":       func(c *Config) { c.Render.Endpoint = "localhost:8080" },
		"grid divider":   func(c *Config) { c.Grid.Divider = 1 },
		"batch size":     func(c *Config) { c.Scorer.BatchSize = 0 },
		"world id":       func(c *Config) { c.Output.WorldID = "a/b" },
		"log level":      func(c *Config) { c.Log.Level = "loud" },
		"positive class": func(c *Config) { c.Scorer.PositiveClass = 2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	t.Run("joins every problem", func(t *testing.T) {
		cfg := Default()
		cfg.Hoo.C = 0
		cfg.Grid.Divider = 0
		err := cfg.Validate()
		require.ErrorContains(t, err, "hoo.c")
		require.ErrorContains(t, err, "grid.grid_divider")
	})
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panotree.yaml")
	cfg := Default()
	cfg.Hoo.Seed = 7
	cfg.Serve.ViewerAddr = ":8090"
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, got)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
