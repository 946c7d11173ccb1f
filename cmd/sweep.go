package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/recapworks/recapd/pkg/calendar"
	"github.com/recapworks/recapd/pkg/db"
	"github.com/recapworks/recapd/pkg/logging"
	"github.com/recapworks/recapd/pkg/meeting"
	"github.com/recapworks/recapd/pkg/tokencipher"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one calendar discovery sweep across all sync-enabled connections",
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

		cipher, err := tokencipher.New(cfg.Calendar.TokenPassphrase)
		if err != nil {
			return err
		}

		connections := calendar.NewRepository(pool, cipher, logger)
		meetings := meeting.NewRepository(pool, logger)
		google := calendar.NewGoogleClient(calendar.GoogleConfig{
			ClientID:     cfg.Calendar.GoogleClientID,
			ClientSecret: cfg.Calendar.GoogleClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL(),
		})
		scanner := calendar.NewScanner(connections, google, meetings, logger, cfg.Calendar.SweepWindow)

		stats, err := scanner.Sweep(ctx)
		if err != nil {
			return err
		}

		logger.Info("Sweep complete",
			logging.F("connections", stats.Connections),
			logging.F("discovered", stats.Discovered),
			logging.F("deduplicated", stats.Deduplicated),
			logging.F("failed", stats.Failed))
		return nil
	},
}
