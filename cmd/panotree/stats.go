package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/brensch/panotree/store"
)

func newStatsCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "stats <node-log.parquet|dir>...",
		Short: "summarise node logs with duckdb",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := store.OpenAnalytics(args...)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			total, err := a.Count(ctx)
			if err != nil {
				return err
			}
			summary, err := a.DepthSummary(ctx)
			if err != nil {
				return err
			}
			best, err := a.TopNodes(ctx, top)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "nodes\t%d\n\n", total)
			fmt.Fprintln(w, "DEPTH\tNODES\tMEAN\tMAX\tPHOTOS")
			for _, s := range summary {
				fmt.Fprintf(w, "%d\t%d\t%.4f\t%.4f\t%d\n", s.Depth, s.Nodes, s.MeanValue, s.MaxValue, s.Photos)
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "NODE\tDEPTH\tVALUE\tB\tSESSION")
			for _, n := range best {
				fmt.Fprintf(w, "%s\t%d\t%.4f\t%.4f\t%s\n", n.ID, n.Depth, n.Value, n.B, n.SessionID)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "number of best nodes to list")
	return cmd
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "print the render server version and world bounds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			client, err := newRenderClient(cfg, zerolog.Nop())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			info, err := client.Info(ctx)
			if err != nil {
				return err
			}
			bounds, err := client.BoundingBox(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("version  %s (%s)\nplatform %s\nbounds   %v .. %v\n",
				info.VersionInfo, info.Version, info.Platform, bounds.Min, bounds.Max)
			return nil
		},
	}
}
