package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/recapworks/recapd/config"
	"github.com/recapworks/recapd/pkg/calendar"
	"github.com/recapworks/recapd/pkg/db"
	"github.com/recapworks/recapd/pkg/launcher"
	"github.com/recapworks/recapd/pkg/logging"
	"github.com/recapworks/recapd/pkg/meeting"
	"github.com/recapworks/recapd/pkg/notify"
	"github.com/recapworks/recapd/pkg/queue"
	"github.com/recapworks/recapd/pkg/server"
	"github.com/recapworks/recapd/pkg/tokencipher"
	"github.com/recapworks/recapd/pkg/transcript"
	"github.com/recapworks/recapd/pkg/webhook"
)

const notificationQueueName = "notifications"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service with the embedded sweep and notify workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		logger.Info("Starting recapd serve")

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

		app, err := buildApp(cfg, logger, pool, redisClient)
		if err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return app.server.Run(ctx, cfg.ListenAddr)
		})
		g.Go(func() error {
			return app.consumer.Run(ctx)
		})
		g.Go(func() error {
			runSweepLoop(ctx, app.scanner, app.metrics, cfg.Calendar.SweepInterval, logger)
			return nil
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("recapd serve stopped")
		return nil
	},
}

// app bundles the long-running pieces serve owns.
type app struct {
	server   *server.Server
	consumer *notify.Consumer
	scanner  *calendar.Scanner
	metrics  *server.Metrics
}

// buildApp wires every component from configuration.
func buildApp(cfg *config.Config, logger logging.Logger, pool *pgxpool.Pool, redisClient *redis.Client) (*app, error) {
	if _, err := db.RegisterPoolStatsCollector(pool, "recapd", "recapd"); err != nil {
		return nil, fmt.Errorf("register pool collector: %w", err)
	}
	metrics := server.NewMetrics(prometheus.DefaultRegisterer)

	cipher, err := tokencipher.New(cfg.Calendar.TokenPassphrase)
	if err != nil {
		return nil, err
	}

	meetings := meeting.NewRepository(pool, logger)
	transcripts := transcript.NewRepository(pool, logger)
	connections := calendar.NewRepository(pool, cipher, logger)
	notifyRepo := notify.NewRepository(pool, logger)

	jobQueue := queue.NewRedisQueue(redisClient, queue.DefaultConfig(notificationQueueName))
	publisher := notify.NewPublisher(jobQueue, logger)

	mailer, err := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	if err != nil {
		return nil, fmt.Errorf("init mailer: %w", err)
	}
	dispatcher := notify.NewDispatcher(notifyRepo, notifyRepo, notifyRepo, mailer, logger)
	consumer := notify.NewConsumer(jobQueue, dispatcher, logger)

	templates := make(map[meeting.Platform]string, len(cfg.Launcher.Templates))
	for platform, name := range cfg.Launcher.Templates {
		templates[meeting.Platform(platform)] = name
	}
	runner := launcher.NewHTTPTaskRunner(launcher.TaskRunnerConfig{
		Endpoint:  cfg.Launcher.TaskRunnerEndpoint,
		Token:     cfg.Launcher.TaskRunnerToken,
		Templates: templates,
	})
	var coordinator launcher.Coordinator
	if cfg.Launcher.CoordinatorEndpoint != "" {
		coordinator = launcher.NewHTTPCoordinator(launcher.CoordinatorConfig{
			Endpoint: cfg.Launcher.CoordinatorEndpoint,
			Secret:   cfg.Launcher.CoordinatorSecret,
		})
	}
	bots := launcher.New(meetings, runner, coordinator, logger, launcher.Options{
		CallbackURL:    cfg.CallbackURL(),
		CallbackSecret: cfg.Webhook.CallbackSecret,
		MaxAttempts:    cfg.Launcher.MaxAttempts,
		BaseBackoff:    cfg.Launcher.BaseBackoff,
	})

	downloader := webhook.NewRecordingDownloader(0)
	router := webhook.NewRouter(meetings, transcripts, connections, downloader, publisher, logger)
	callbacks := webhook.NewCallbackProcessor(meetings, transcripts, publisher, logger)

	google := calendar.NewGoogleClient(calendar.GoogleConfig{
		ClientID:     cfg.Calendar.GoogleClientID,
		ClientSecret: cfg.Calendar.GoogleClientSecret,
		RedirectURL:  cfg.OAuthRedirectURL(),
	})
	scanner := calendar.NewScanner(connections, google, meetings, logger, cfg.Calendar.SweepWindow)

	auth := server.NewAuthenticator(pool, logger)
	srv := server.New(server.Deps{
		Validator:      webhook.NewValidator(cfg.Webhook.Secret),
		Router:         router,
		Callbacks:      callbacks,
		Launcher:       bots,
		Meetings:       meetings,
		Transcripts:    transcripts,
		Connections:    connections,
		Google:         google,
		Auth:           auth.Middleware,
		Metrics:        metrics,
		Logger:         logger,
		CallbackSecret: cfg.Webhook.CallbackSecret,
		Health: []server.HealthCheck{
			{Name: "postgres", Check: pool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}},
		},
	})

	return &app{server: srv, consumer: consumer, scanner: scanner, metrics: metrics}, nil
}

// runSweepLoop runs the calendar sweep on a fixed interval until ctx ends.
func runSweepLoop(ctx context.Context, scanner *calendar.Scanner, metrics *server.Metrics, interval time.Duration, logger logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := scanner.Sweep(ctx)
			if err != nil {
				logger.Error("Calendar sweep failed", logging.Err(err))
				continue
			}
			metrics.ObserveSweep(stats)
		}
	}
}
