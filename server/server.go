// Package server exposes the HTTP API: health, metrics, stream resolution, tag
// commands and dumps, plus the admin surface for backfill and community settings.
// It injects correlation IDs into request contexts for consistent logging.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/stream-tagger/dump"
	"github.com/onnwee/stream-tagger/locator"
	"github.com/onnwee/stream-tagger/platform"
	"github.com/onnwee/stream-tagger/settings"
	"github.com/onnwee/stream-tagger/tags"
	"github.com/onnwee/stream-tagger/telemetry"
)

// Resolver resolves queries and suggests creator names. *locator.Locator implements it.
type Resolver interface {
	Resolve(ctx context.Context, query string, hints locator.Hints) (platform.ResolvedStream, error)
	Suggest(prefix string, limit int) []string
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Store    *tags.Store
	Resolver Resolver
	Dump     *dump.Service
	Settings settings.Store
	// History feeds /admin/backfill. Nil disables it.
	History tags.History
	// DB is pinged by the probes when the store is Postgres backed.
	DB *sql.DB
}

// NewMux returns the HTTP handler with all routes. ctx bounds the rate limiter's
// cleanup goroutine.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	h := NewHandlers(ctx, deps)
	authCfg := loadAuthConfig()
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	admin := func(fn http.HandlerFunc) http.Handler {
		return adminAuth(rateLimitMiddleware(fn, limiter), authCfg)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)

	mux.HandleFunc("/resolve", h.HandleResolve)
	mux.HandleFunc("/creators/suggest", h.HandleSuggest)

	mux.HandleFunc("/tags", h.HandleTagCreate)
	mux.HandleFunc("/tags/", h.HandleTagsDispatcher)
	mux.HandleFunc("/adjust", h.HandleAdjust)
	mux.HandleFunc("/dump", h.HandleDump)
	mux.HandleFunc("/dump/last", h.HandleDumpLast)

	mux.Handle("/admin/backfill", admin(h.HandleAdminBackfill))
	mux.Handle("/admin/settings", admin(h.HandleAdminSettings))

	return withCORSConfig(withRequestContext(mux), loadCORSConfig())
}

// withRequestContext attaches a correlation id (echoed from X-Correlation-ID or
// generated) and a server span to every request.
func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.NewString()
		}
		w.Header().Set("X-Correlation-ID", corr)
		ctx := telemetry.WithCorrelation(r.Context(), corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
		if rec.statusCode >= 400 {
			span.SetStatus(telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", rec.statusCode)))
		}
		telemetry.LoggerWithCorr(ctx).Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.statusCode),
			slog.Duration("took", time.Since(start)),
			slog.String("component", "http"))
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(ctx, deps),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second, // backfill pages through chat replay
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
