package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/recapworks/recapd/pkg/db"
	"github.com/recapworks/recapd/pkg/notify"
	"github.com/recapworks/recapd/pkg/queue"
)

var notifyWorkerCmd = &cobra.Command{
	Use:   "notify-worker",
	Short: "Run a standalone notification queue consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		logger.Info("Starting notification worker")

		ctx, stop := signalContext()
		defer stop()

		pool, err := db.ConnectWithRetry(ctx, &cfg.Database, 5, 2*time.Second)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close(pool)

		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		mailer, err := notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return fmt.Errorf("init mailer: %w", err)
		}

		repo := notify.NewRepository(pool, logger)
		dispatcher := notify.NewDispatcher(repo, repo, repo, mailer, logger)
		jobQueue := queue.NewRedisQueue(redisClient, queue.DefaultConfig(notificationQueueName))

		if err := notify.NewConsumer(jobQueue, dispatcher, logger).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
