package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"livecount/internal/bootstrap"
	"livecount/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// cli holds state shared by every subcommand.
type cli struct {
	cfg    *config.Config
	output string
	noDB   bool
}

func newRootCmd() *cobra.Command {
	app := &cli{}
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Operator tools for the live engagement counters",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch app.output {
			case "json", "yaml":
			default:
				return fmt.Errorf("unsupported output %q (json|yaml)", app.output)
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&app.output, "output", "o", "json", "output format: json or yaml")
	root.PersistentFlags().BoolVar(&app.noDB, "no-db", false, "do not connect to the database")

	root.AddCommand(
		newFlushCmd(app),
		newStatsCmd(app),
		newTeardownCmd(app),
		newMigrateCmd(app),
		newSeedCmd(app),
	)
	return root
}

// runtime connects the counter store and, unless --no-db is set, the database.
func (a *cli) runtime(ctx context.Context) (*bootstrap.Runtime, error) {
	return bootstrap.InitRuntime(ctx, a.cfg, bootstrap.Options{SkipDatabase: a.noDB})
}

func (a *cli) print(w io.Writer, v any) error {
	return writeOutput(w, a.output, v)
}

func writeOutput(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

func parseBroadcastID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid broadcast id %q", arg)
	}
	return id, nil
}
