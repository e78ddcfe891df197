package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/panotree/config"
	"github.com/brensch/panotree/explorer"
	"github.com/brensch/panotree/inference"
	"github.com/brensch/panotree/metrics"
	"github.com/brensch/panotree/render"
	"github.com/brensch/panotree/store"
	"github.com/brensch/panotree/tui"
	"github.com/brensch/panotree/viewer"
)

func newExploreCmd() *cobra.Command {
	var (
		headless    bool
		updates     int
		seed        int64
		endpoint    string
		model       string
		viewerAddr  string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "explore",
		Short: "run the HOO exploration against the render server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, func(c *config.Config) {
				flags := cmd.Flags()
				if flags.Changed("updates") {
					c.Rollout.NumUpdates = updates
				}
				if flags.Changed("seed") {
					c.Hoo.Seed = seed
				}
				if flags.Changed("endpoint") {
					c.Render.Endpoint = endpoint
				}
				if flags.Changed("model") {
					c.Scorer.ModelPath = model
				}
				if flags.Changed("viewer") {
					c.Serve.ViewerAddr = viewerAddr
				}
				if flags.Changed("metrics") {
					c.Serve.MetricsAddr = metricsAddr
				}
			})
			if err != nil {
				return err
			}
			return runExplore(cmd.Context(), cfg, headless)
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "log progress instead of showing the terminal UI")
	cmd.Flags().IntVar(&updates, "updates", config.DefaultNumUpdates, "override rollout.num_updates")
	cmd.Flags().Int64Var(&seed, "seed", 42, "override hoo.seed")
	cmd.Flags().StringVar(&endpoint, "endpoint", config.DefaultEndpoint, "override render.endpoint")
	cmd.Flags().StringVar(&model, "model", "", "override scorer.model_path")
	cmd.Flags().StringVar(&viewerAddr, "viewer", "", "serve the live node viewer on this address")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve prometheus metrics on this address")
	return cmd
}

func runExplore(parent context.Context, cfg *config.Config, headless bool) (err error) {
	if parent == nil {
		parent = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	log, logCloser, err := newLogger(cfg, !headless)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	sessionID := uuid.NewString()
	log = log.With().Str("session", sessionID).Logger()

	ecfg, err := cfg.ExplorerConfig()
	if err != nil {
		return err
	}
	ex, err := explorer.New(ecfg)
	if err != nil {
		return err
	}

	client, err := newRenderClient(cfg, log)
	if err != nil {
		return err
	}

	scorer, err := inference.NewOnnxPool(cfg.OnnxConfig(), cfg.Scorer.Sessions, log)
	if err != nil {
		return err
	}
	defer scorer.Close()

	nodeLog, err := store.NewNodeLog(cfg.Output.Dir, cfg.Output.WorldID, sessionID)
	if err != nil {
		return err
	}
	defer func() {
		path, rows, closeErr := nodeLog.Close()
		if closeErr != nil {
			err = errors.Join(err, closeErr)
			return
		}
		log.Info().Str("path", path).Int("rows", rows).Msg("node log written")
	}()

	sinks := []explorer.NodeSink{nodeLog, client}

	reg := prometheus.NewRegistry()
	recorder := metrics.New(reg)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Serve.ViewerAddr != "" {
		hub := viewer.NewHub(log)
		sinks = append(sinks, hub)
		g.Go(func() error { return viewer.Serve(gctx, cfg.Serve.ViewerAddr, hub, log) })
	}
	if cfg.Serve.MetricsAddr != "" {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Serve.MetricsAddr, reg, log) })
	}

	runner := explorer.NewRunner(ex, client, scorer,
		explorer.WithSinks(sinks...),
		explorer.WithRecorder(recorder),
		explorer.WithLogger(log),
	)

	g.Go(func() error {
		defer cancel()

		if info, err := client.Info(gctx); err != nil {
			log.Warn().Err(err).Msg("render server info unavailable")
		} else {
			log.Info().Str("version", info.VersionInfo.String()).Str("platform", info.Platform).Msg("render server")
		}
		if cfg.Render.TextureSize != render.DefaultTextureSize {
			if err := client.SetTextureSize(gctx, cfg.Render.TextureSize); err != nil {
				return fmt.Errorf("set texture size: %w", err)
			}
		}
		if err := client.ResetNodes(gctx); err != nil {
			log.Warn().Err(err).Msg("failed to reset render server nodes")
		}
		if err := runner.Setup(gctx, client); err != nil {
			return err
		}

		var runErr error
		if headless {
			runErr = runner.Run(gctx, cfg.Rollout.NumUpdates, func(it explorer.Iteration) {
				logIteration(log, it, cfg.Rollout.NumUpdates)
			})
		} else {
			runErr = runWithUI(gctx, cancel, runner, cfg.Rollout.NumUpdates)
		}
		if errors.Is(runErr, context.Canceled) {
			log.Info().Int("iterations", runner.Iterations()).Msg("exploration stopped")
			return nil
		}
		return runErr
	})

	if err := g.Wait(); err != nil {
		return err
	}

	best, bestNode := runner.Best()
	log.Info().Float64("best", best).Str("node", bestNode).Int("iterations", runner.Iterations()).Msg("exploration finished")
	return nil
}

func logIteration(log zerolog.Logger, it explorer.Iteration, total int) {
	log.Info().
		Int("iteration", it.Index+1).
		Int("total", total).
		Str("node", it.Record.ID).
		Int("depth", it.Depth).
		Float64("value", it.Value).
		Float64("b", it.Record.B).
		Float64("best", it.Best).
		Dur("render", it.RenderTime).
		Dur("score", it.ScoreTime).
		Msg("iteration")
}

func runWithUI(ctx context.Context, cancel context.CancelFunc, runner *explorer.Runner, total int) error {
	updates := make(chan explorer.Iteration, 16)
	p := tea.NewProgram(tui.New(total, updates, cancel), tea.WithAltScreen())

	runDone := make(chan error, 1)
	go func() {
		err := runner.Run(ctx, total, func(it explorer.Iteration) {
			select {
			case updates <- it:
			case <-ctx.Done():
			}
		})
		p.Send(tui.DoneMsg{Err: err})
		close(updates)
		runDone <- err
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-runDone
		return fmt.Errorf("terminal ui: %w", err)
	}
	cancel()
	return <-runDone
}
