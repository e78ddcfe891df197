// Command panotree searches a rendered 3D world for the camera positions
// whose views score best, then refines the best regions on a grid.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/brensch/panotree/config"
	"github.com/brensch/panotree/logging"
	"github.com/brensch/panotree/render"
)

var (
	configFile string
	logLevel   string
	outDir     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "panotree",
		Short:         "search a rendered world for good viewpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "yaml config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
	rootCmd.PersistentFlags().StringVar(&outDir, "out-dir", "", "override output.dir")

	rootCmd.AddCommand(newExploreCmd(), newGridCmd(), newStatsCmd(), newInfoCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads --config over the defaults, applies the persistent
// overrides and validates the result.
func loadConfig(cmd *cobra.Command, apply func(*config.Config)) (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("out-dir") {
		cfg.Output.Dir = outDir
	}
	if apply != nil {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger logs to the configured file while the terminal UI is up and to
// stderr otherwise.
func newLogger(cfg *config.Config, toFile bool) (zerolog.Logger, io.Closer, error) {
	if toFile && cfg.Log.File != "" {
		return logging.OpenFile(cfg.Log.File, cfg.Log.Level)
	}
	log, err := logging.New(cfg.LogOptions())
	return log, io.NopCloser(nil), err
}

func newRenderClient(cfg *config.Config, log zerolog.Logger) (*render.Client, error) {
	return render.NewClient(cfg.Render.Endpoint,
		render.WithTimeout(cfg.Render.Timeout),
		render.WithTextureSize(cfg.Render.TextureSize),
		render.WithLogger(log),
	)
}
