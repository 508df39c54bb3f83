package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTeardownCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "teardown <id>",
		Short: "End a broadcast: archive its summary and delete its live keys",
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

			summary, err := rt.Gateway.EndBroadcast(ctx, id)
			if summary == nil {
				return err
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			return app.print(cmd.OutOrStdout(), summary)
		},
	}
}
