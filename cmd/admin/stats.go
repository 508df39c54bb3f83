package main

import (
	"livecount/internal/models"

	"github.com/spf13/cobra"
)

// broadcastReport is a live broadcast's counters plus its archived summary, if ended.
type broadcastReport struct {
	Live    models.BroadcastStats    `json:"live" yaml:"live"`
	Summary *models.BroadcastSummary `json:"summary,omitempty" yaml:"summary,omitempty"`
}

func newStatsCmd(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show counters for a broadcast or VOD",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "broadcast <id>",
		Short: "Show live counters and the archived summary of a broadcast",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBroadcastID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := app.runtime(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			var report broadcastReport
			if report.Live, err = rt.Gateway.Stats(ctx, id); err != nil {
				return err
			}
			if rt.Archive != nil {
				if report.Summary, err = rt.Archive.BroadcastSummary(ctx, id); err != nil {
					return err
				}
			}
			return app.print(cmd.OutOrStdout(), report)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "vod <id>",
		Short: "Show durable and pending VOD totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBroadcastID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := app.runtime(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			stats, err := rt.Gateway.VodStats(ctx, id)
			if err != nil {
				return err
			}
			return app.print(cmd.OutOrStdout(), stats)
		},
	})
	return cmd
}
