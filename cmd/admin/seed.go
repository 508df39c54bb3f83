package main

import (
	"time"

	"livecount/internal/seed"

	"github.com/spf13/cobra"
)

func newSeedCmd(app *cli) *cobra.Command {
	opts := seed.DefaultOptions()
	var hold time.Duration

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate synthetic viewer traffic against the counter store",
		Long: `Joins fake viewers to a range of broadcasts, has some members like them and
records VOD views. Sessions stay registered for --hold, then leave; totals, peaks,
likes and pending VOD deltas remain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := app.runtime(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			defer func() { _ = rt.Tracker.UnregisterAll(ctx) }()

			sum, err := seed.Run(ctx, rt.Gateway, opts)
			if err != nil {
				return err
			}
			if err := app.print(cmd.OutOrStdout(), sum); err != nil {
				return err
			}

			if hold > 0 {
				select {
				case <-time.After(hold):
				case <-ctx.Done():
				}
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&opts.FirstBroadcastID, "first-id", opts.FirstBroadcastID, "first broadcast id")
	cmd.Flags().IntVar(&opts.Broadcasts, "broadcasts", opts.Broadcasts, "number of consecutive broadcasts")
	cmd.Flags().IntVar(&opts.Viewers, "viewers", opts.Viewers, "live viewers per broadcast")
	cmd.Flags().IntVar(&opts.VodViews, "vod-views", opts.VodViews, "VOD views per broadcast")
	cmd.Flags().Float64Var(&opts.MemberRatio, "member-ratio", opts.MemberRatio, "share of viewers who are members")
	cmd.Flags().Float64Var(&opts.LikeRatio, "like-ratio", opts.LikeRatio, "share of members who like")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "random seed (0 picks one)")
	cmd.Flags().DurationVar(&hold, "hold", 0, "keep sessions registered this long before leaving")
	return cmd
}
