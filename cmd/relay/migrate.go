package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snoutservices/relay/internal/db"
	"github.com/snoutservices/relay/internal/logger"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)
			if err := db.Migrate(cfg.Postgres); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.L.Info("migrations applied")
			return nil
		},
	}
}
