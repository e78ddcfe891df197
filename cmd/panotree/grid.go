package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/brensch/panotree/config"
	"github.com/brensch/panotree/gridsearch"
	"github.com/brensch/panotree/inference"
	"github.com/brensch/panotree/metrics"
	"github.com/brensch/panotree/space"
	"github.com/brensch/panotree/store"
)

func newGridCmd() *cobra.Command {
	var (
		divider   int
		threshold float64
		sizeBound float64
		noPush    bool
	)
	cmd := &cobra.Command{
		Use:   "grid <node-log.parquet>",
		Short: "refine the best regions of a finished exploration on a grid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, func(c *config.Config) {
				flags := cmd.Flags()
				if flags.Changed("divider") {
					c.Grid.Divider = divider
				}
				if flags.Changed("threshold") {
					c.Grid.ScoreThreshold = threshold
				}
				if flags.Changed("lower-size-bound") {
					c.Grid.LowerSizeBound = sizeBound
				}
			})
			if err != nil {
				return err
			}
			return runGrid(cmd.Context(), cfg, args[0], !noPush)
		},
	}
	cmd.Flags().IntVar(&divider, "divider", config.DefaultGridDivider, "override grid.grid_divider")
	cmd.Flags().Float64Var(&threshold, "threshold", config.DefaultScoreThreshold, "override grid.score_threshold")
	cmd.Flags().Float64Var(&sizeBound, "lower-size-bound", config.DefaultLowerSizeBound, "override grid.lower_size_bound")
	cmd.Flags().BoolVar(&noPush, "no-push", false, "do not send refined nodes to the render server")
	return cmd
}

func runGrid(parent context.Context, cfg *config.Config, nodeLogPath string, push bool) (err error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, logCloser, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	recs, err := store.ReadNodeLog(nodeLogPath)
	if err != nil {
		return err
	}
	root, err := store.BuildTree(recs)
	if err != nil {
		return err
	}
	pruned := root.Prune(cfg.Grid.LowerSizeBound)
	selected := root.Select(cfg.Grid.ScoreThreshold)
	log.Info().
		Int("records", len(recs)).
		Int("pruned", pruned).
		Int("selected", len(selected)).
		Msg("node log loaded")
	if len(selected) == 0 {
		return nil
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

	refiner, err := gridsearch.New(client, scorer, cfg.Rollout.NumDirections, cfg.Grid.Divider,
		gridsearch.WithRecorder(metrics.New(prometheus.NewRegistry())),
	)
	if err != nil {
		return err
	}

	gridLog, err := store.NewGridLog(cfg.Output.Dir, nodeLogPath, uuid.NewString())
	if err != nil {
		return err
	}
	defer func() {
		path, rows, closeErr := gridLog.Close()
		if closeErr != nil {
			err = errors.Join(err, closeErr)
			return
		}
		log.Info().Str("path", path).Int("rows", rows).Msg("grid log written")
	}()

	search := gridsearch.Search(refiner, selected, func(n *store.ViewNode) space.Bounds {
		return n.Bounds()
	})
	for search.Next(ctx) {
		node := search.Region()
		leaves := gridsearch.Leaves(node.ID, search.Nodes())
		if err := gridLog.WriteNode(node.ID, leaves); err != nil {
			return err
		}
		if push {
			rec := node.NodeRecord
			rec.LeafGridNodes = leaves
			if err := client.UpdateNodes(ctx, rec); err != nil {
				log.Warn().Err(err).Str("node", node.ID).Msg("failed to push grid nodes")
			}
		}
		log.Info().
			Int("region", search.Index()+1).
			Int("regions", search.Len()).
			Str("node", node.ID).
			Int("grid_nodes", len(leaves)).
			Msg("region refined")
	}
	return search.Err()
}
