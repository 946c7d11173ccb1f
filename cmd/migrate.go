package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/recapworks/recapd/pkg/db"
	"github.com/recapworks/recapd/pkg/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		ctx, stop := signalContext()
		defer stop()

		pool, err := db.ConnectWithRetry(ctx, &cfg.Database, 5, 2*time.Second)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close(pool)

		result, err := db.RunMigrations(ctx, pool)
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("Migrations applied",
			logging.F("applied", result.Applied),
			logging.F("skipped", result.Skipped))
		return nil
	},
}
