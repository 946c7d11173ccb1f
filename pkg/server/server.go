// Package server exposes the HTTP surface: platform webhooks, worker
// callbacks, the bot-launch API, calendar OAuth, health, and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/recapworks/recapd/pkg/buildinfo"
	"github.com/recapworks/recapd/pkg/logging"
	"github.com/recapworks/recapd/pkg/webhook"
)

// Deps collects everything the server needs.
type Deps struct {
	Validator      *webhook.Validator
	Router         EventRouter
	Callbacks      CallbackHandler
	Launcher       BotLauncher
	Meetings       MeetingReader
	Transcripts    TranscriptReader
	Connections    ConnectionWriter
	Google         OAuthProvider
	Auth           func(http.Handler) http.Handler
	Metrics        *Metrics
	MetricsHandler http.Handler
	Logger         logging.Logger
	CallbackSecret string
	Health         []HealthCheck
}

// Server is the HTTP service.
type Server struct {
	validator      *webhook.Validator
	router         EventRouter
	callbacks      CallbackHandler
	launcher       BotLauncher
	meetings       MeetingReader
	transcripts    TranscriptReader
	connections    ConnectionWriter
	google         OAuthProvider
	auth           func(http.Handler) http.Handler
	metrics        *Metrics
	metricsHandler http.Handler
	logger         logging.Logger
	callbackSecret string
	health         []HealthCheck
}

// New creates a Server from its dependencies.
func New(deps Deps) *Server {
	if deps.MetricsHandler == nil {
		deps.MetricsHandler = promhttp.Handler()
	}
	return &Server{
		validator:      deps.Validator,
		router:         deps.Router,
		callbacks:      deps.Callbacks,
		launcher:       deps.Launcher,
		meetings:       deps.Meetings,
		transcripts:    deps.Transcripts,
		connections:    deps.Connections,
		google:         deps.Google,
		auth:           deps.Auth,
		metrics:        deps.Metrics,
		metricsHandler: deps.MetricsHandler,
		logger:         deps.Logger.With(logging.F("component", "server")),
		callbackSecret: deps.CallbackSecret,
		health:         deps.Health,
	}
}

// Routes builds the chi router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(traced)
	r.Use(requestLogger(s.logger))

	r.Post("/webhooks/platform", s.handlePlatformWebhook)
	r.Post("/internal/bot-callback", s.handleBotCallback)

	r.Route("/api", func(api chi.Router) {
		api.Use(s.auth)
		api.Post("/meetings/bot", s.handleLaunchBot)
		api.Get("/meetings/{id}", s.handleGetMeeting)
		api.Get("/meetings/{id}/transcript", s.handleGetTranscript)
	})

	r.Get("/calendar/oauth/authorize", s.handleOAuthAuthorize)
	r.Get("/calendar/oauth/callback", s.handleOAuthCallback)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/version", buildinfo.Handler("recapd"))
	r.Method(http.MethodGet, "/metrics", s.metricsHandler)

	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", logging.F("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info("HTTP server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
