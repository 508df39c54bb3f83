package main

import (
	"fmt"
	"strconv"

	"livecount/internal/database"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newMigrateCmd(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, inspect or roll back schema migrations",
	}

	connect := func() (*gorm.DB, error) {
		db, err := database.ConnectWithOptions(app.cfg, database.ConnectOptions{ApplySchema: false})
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		return db, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending SQL migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()
			if err := database.RunMigrations(cmd.Context(), db); err != nil {
				return fmt.Errorf("sql migrations failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sql migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "auto",
		Short: "Create missing tables and columns from the models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()
			app.cfg.DBSchemaMode = database.SchemaModeAuto
			if err := database.ApplySchema(cmd.Context(), db, app.cfg); err != nil {
				return fmt.Errorf("auto schema apply failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "automigrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show schema mode and applied or pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()
			status, err := database.GetSchemaStatus(cmd.Context(), db, app.cfg)
			if err != nil {
				return fmt.Errorf("schema status failed: %w", err)
			}
			return app.print(cmd.OutOrStdout(), status)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down <version>",
		Short: "Roll back one applied migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			db, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()
			if err := database.RollbackMigration(cmd.Context(), db, version); err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back migration %d\n", version)
			return nil
		},
	})
	return cmd
}
