package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newFlushCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Run one rollup cycle now",
		Long: `Moves every pending VOD delta and buffered view event into the database.
Fails if another process holds the rollup lock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.noDB {
				return errors.New("flush needs the database; drop --no-db")
			}
			ctx := cmd.Context()
			rt, err := app.runtime(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			res, err := rt.Flusher.FlushOnce(ctx)
			if err != nil {
				return err
			}
			return app.print(cmd.OutOrStdout(), res)
		},
	}
}
