package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/recapworks/recapd/pkg/logging"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserIDFromContext returns the authenticated user id set by the auth
// middleware, or "" when the request was not authenticated.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// requestLogger logs one line per request with the chi request id attached.
func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("Request handled",
				logging.F("request_id", middleware.GetReqID(r.Context())),
				logging.F("method", r.Method),
				logging.F("path", r.URL.Path),
				logging.F("status", ww.Status()),
				logging.F("bytes", ww.BytesWritten()),
				logging.F("duration_ms", time.Since(start).Milliseconds()))
		})
	}
}

// traced opens a span per request, honoring inbound trace context.
func traced(next http.Handler) http.Handler {
	tracer := otel.Tracer("recapd/server")
	propagator := otel.GetTextMapPropagator()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticator resolves bearer tokens to user identities. Authentication is
// mandatory on the API surface: a missing or unknown token is rejected
// outright, never substituted with a default identity.
type Authenticator struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewAuthenticator creates a bearer-token authenticator.
func NewAuthenticator(pool *pgxpool.Pool, logger logging.Logger) *Authenticator {
	return &Authenticator{
		pool:   pool,
		logger: logger.With(logging.F("component", "auth")),
	}
}

// Middleware enforces bearer authentication and injects the user id into the
// request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, err := a.resolve(r.Context(), token)
		if err != nil {
			a.logger.Debug("Rejected bearer token",
				logging.F("request_id", middleware.GetReqID(r.Context())))
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) resolve(ctx context.Context, token string) (string, error) {
	sum := sha256.Sum256([]byte(token))
	hash := hex.EncodeToString(sum[:])

	var userID string
	err := a.pool.QueryRow(ctx,
		`SELECT id FROM users WHERE api_token_hash = $1`, hash).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errors.New("unknown token")
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}
