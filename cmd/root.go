// Package cmd defines the recapd command tree.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/recapworks/recapd/config"
	"github.com/recapworks/recapd/pkg/buildinfo"
	"github.com/recapworks/recapd/pkg/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "recapd",
	Short: "Meeting-bot lifecycle and transcript-ingestion service",
	Long: `recapd launches ephemeral bot workers into meetings, receives platform
webhooks and worker callbacks, drives meetings through their status state
machine, ingests caption tracks into speaker-tagged transcripts, discovers
upcoming meetings from connected calendars, and dispatches preference-gated
notifications.`,
	Version:       buildinfo.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(notifyWorkerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger builds the service logger from config.
func newLogger(cfg *config.Config) logging.Logger {
	return logging.NewLogger(&logging.Config{
		Level:       logging.Level(cfg.Log.Level),
		ServiceName: "recapd",
		JSONFormat:  cfg.Log.Format == "json",
		Output:      os.Stdout,
	})
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
