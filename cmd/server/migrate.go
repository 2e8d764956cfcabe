package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parsascontentcorner/liro/internal/database"
	"github.com/parsascontentcorner/liro/pkg/logger"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			db, err := database.NewDB(&cfg.Database, logger.Component(log, "database"))
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer func() { _ = db.Close() }()

			return db.RunMigrations()
		},
	}
}
