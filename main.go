// Command stream-tagger is the main entrypoint for the tagging service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Builds the stream locator from the creator directory and platform adapters.
//   - Opens the tag store, restoring it from Postgres when that backend is selected.
//   - Starts background jobs: Twitch chat ingestion, session pruning and cache purging.
//   - Exposes the HTTP API with /healthz, /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/stream-tagger/chat"
	"github.com/onnwee/stream-tagger/config"
	"github.com/onnwee/stream-tagger/db"
	"github.com/onnwee/stream-tagger/dump"
	"github.com/onnwee/stream-tagger/locator"
	"github.com/onnwee/stream-tagger/platform"
	"github.com/onnwee/stream-tagger/server"
	"github.com/onnwee/stream-tagger/settings"
	"github.com/onnwee/stream-tagger/tags"
	"github.com/onnwee/stream-tagger/telemetry"
	"github.com/onnwee/stream-tagger/twitchapi"
	"github.com/onnwee/stream-tagger/youtubeapi"
)

const version = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("stream-tagger", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dir, err := loadDirectory(cfg.CreatorsFile)
	if err != nil {
		slog.Error("creator directory load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Adapters. The generic page reader is always available as the fallback.
	adapters := []platform.Adapter{&platform.GenericAdapter{UserAgent: "stream-tagger/" + version}}
	var helix *twitchapi.HelixClient
	if cfg.HelixReady() {
		helix = &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
		adapters = append(adapters, twitchapi.NewAdapter(helix))
	} else {
		slog.Info("twitch adapter disabled (TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET not set)")
	}
	if cfg.YTAPIKey != "" {
		yt, err := youtubeapi.New(ctx, cfg.YTAPIKey)
		if err != nil {
			slog.Error("youtube adapter init failed", slog.Any("err", err))
			os.Exit(1)
		}
		adapters = append(adapters, yt)
	} else {
		slog.Info("youtube adapter disabled (YT_API_KEY not set)")
	}
	loc := locator.New(dir, adapters, cfg.Locator)

	// Tag store and settings
	var (
		database *sql.DB
		store    *tags.Store
		sstore   settings.Store
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		database, err = db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
		repo := &db.TagRepo{DB: database}
		store = tags.NewStore(repo)
		sessions, entries, err := repo.LoadAll(ctx)
		if err != nil {
			slog.Error("failed to load tags", slog.Any("err", err))
			os.Exit(1)
		}
		if err := store.Restore(sessions, entries); err != nil {
			slog.Error("failed to restore tag store", slog.Any("err", err))
			os.Exit(1)
		}
		sstore = &db.SettingsRepo{DB: database, Fallback: cfg.DefaultOffset}
	default:
		slog.Warn("tag store is in memory; tags are lost on restart (set DB_DSN to persist)")
		store = tags.NewStore(nil)
		sstore = settings.NewMemory(cfg.DefaultOffset)
	}

	svc := dump.NewService(store, loc, sstore)

	// Chat ingestion and history. Archived chat replay needs Helix to find the VOD;
	// without it backfill can only replay what this process has seen.
	recent := chat.NewRecent(0)
	var history tags.History = recent
	if helix != nil {
		history = &chat.RechatHistory{Videos: helix, Pause: 250 * time.Millisecond}
	}
	if err := cfg.ValidateChatReady(); err == nil {
		ingestor := chat.NewIngestor(chat.Config{
			Username:   cfg.TwitchBotUsername,
			OAuthToken: cfg.TwitchOAuthToken,
			Channels:   cfg.TwitchChannels,
			KnownBots:  cfg.TwitchKnownBots,
			Bots:       sstore,
		}, svc, store, recent)
		go func() {
			if err := ingestor.Run(ctx); err != nil {
				slog.Error("chat ingestion stopped", slog.Any("err", err), slog.String("component", "chat"))
			}
		}()
	} else {
		slog.Info("chat ingestion disabled", slog.Any("reason", err))
	}

	go tags.StartPruneJob(ctx, store, tags.PrunePolicy{Grace: cfg.SessionGrace, Interval: cfg.PruneInterval})
	go loc.RunCachePurge(ctx, time.Minute)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	go func() {
		deps := server.Deps{
			Store:    store,
			Resolver: loc,
			Dump:     svc,
			Settings: sstore,
			History:  history,
			DB:       database,
		}
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}

func loadDirectory(path string) (*locator.Directory, error) {
	if path == "" {
		slog.Warn("CREATORS_FILE not set; only direct stream references will resolve")
		return locator.NewDirectory(nil)
	}
	dir, err := locator.LoadDirectory(path)
	if err != nil {
		return nil, err
	}
	slog.Info("creator directory loaded", slog.String("path", path), slog.Int("creators", len(dir.Creators())))
	return dir, nil
}
