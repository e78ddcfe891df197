package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/brensch/panotree/config"
	"github.com/brensch/panotree/render"
	"github.com/brensch/panotree/store"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panotree.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hoo:\n  seed: 9\nrollout:\n  num_updates: 12\n"), 0o644))

	t.Cleanup(func() { configFile, outDir = "", "" })
	configFile = path

	cmd := &cobra.Command{}
	cmd.Flags().StringVar(&outDir, "out-dir", "", "")
	require.NoError(t, cmd.Flags().Set("out-dir", "elsewhere"))

	cfg, err := loadConfig(cmd, func(c *config.Config) { c.Grid.Divider = 3 })
	require.NoError(t, err)
	require.Equal(t, int64(9), cfg.Hoo.Seed)
	require.Equal(t, 12, cfg.Rollout.NumUpdates)
	require.Equal(t, "elsewhere", cfg.Output.Dir)
	require.Equal(t, 3, cfg.Grid.Divider)

	_, err = loadConfig(cmd, func(c *config.Config) { c.Grid.Divider = 1 })
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestStatsCmd(t *testing.T) {
	dir := t.TempDir()
	l, err := store.NewNodeLog(dir, "world", "s1")
	require.NoError(t, err)
	require.NoError(t, l.RecordNode(context.Background(), render.NodeRecord{
		ID:            "0000-00000001",
		BranchID:      1,
		Max:           render.Vector3{X: 1, Y: 1, Z: 1},
		Value:         0.5,
		PhotoScorings: []render.PhotoScoring{{Score: 0.5}},
	}))
	_, _, err = l.Close()
	require.NoError(t, err)

	cmd := newStatsCmd()
	cmd.SetArgs([]string{dir, "--top", "1"})
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.Execute())

	cmd = newStatsCmd()
	cmd.SetArgs([]string{})
	require.Error(t, cmd.Execute())
}
