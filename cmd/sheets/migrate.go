package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kikuyu-catholic-sheets/sheets/internal/config"
	"github.com/kikuyu-catholic-sheets/sheets/internal/database"
)

func loadDatabaseConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if cfg.Memory() {
		return nil, errors.New("no database configured (set SHEETS_DATABASE_URL)")
	}
	return cfg, nil
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadDatabaseConfig()
				if err != nil {
					return err
				}
				if err := database.Migrate(cfg.DatabaseURL); err != nil {
					return err
				}
				return printVersion(cmd, cfg.DatabaseURL)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadDatabaseConfig()
				if err != nil {
					return err
				}
				if err := database.Rollback(cfg.DatabaseURL); err != nil {
					return err
				}
				return printVersion(cmd, cfg.DatabaseURL)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadDatabaseConfig()
				if err != nil {
					return err
				}
				return printVersion(cmd, cfg.DatabaseURL)
			},
		},
	)
	return cmd
}

func printVersion(cmd *cobra.Command, dsn string) error {
	version, dirty, err := database.Version(dsn)
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
	return nil
}
