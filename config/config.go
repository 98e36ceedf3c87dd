// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (e.g., Twitch chat), use ValidateChatReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/stream-tagger/locator"
	"github.com/onnwee/stream-tagger/settings"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchChannels     []string
	// TwitchKnownBots are logins treated as bots on top of the built-in list.
	TwitchKnownBots []string

	// YouTube
	YTAPIKey string

	// Storage
	DBDsn        string
	StoreBackend string

	// Locator
	CreatorsFile string
	Locator      locator.Options

	// Tag store
	SessionGrace  time.Duration
	PruneInterval time.Duration
	DefaultOffset int

	// HTTP
	HTTPAddr string
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds are missing;
// use ValidateChatReady() when you require chat ingestion. Missing optional variables disable features (e.g., YouTube).
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	for _, ch := range strings.Split(os.Getenv("TWITCH_CHANNELS"), ",") {
		if ch = strings.ToLower(strings.TrimSpace(ch)); ch != "" {
			cfg.TwitchChannels = append(cfg.TwitchChannels, strings.TrimPrefix(ch, "#"))
		}
	}

	for _, name := range strings.Split(os.Getenv("TWITCH_KNOWN_BOTS"), ",") {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			cfg.TwitchKnownBots = append(cfg.TwitchKnownBots, name)
		}
	}

	cfg.YTAPIKey = os.Getenv("YT_API_KEY")

	// DB
	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.StoreBackend = strings.ToLower(os.Getenv("STORE_BACKEND"))
	switch cfg.StoreBackend {
	case "":
		// Postgres when a DSN is configured, otherwise keep everything in memory.
		cfg.StoreBackend = BackendMemory
		if cfg.DBDsn != "" {
			cfg.StoreBackend = BackendPostgres
		}
	case BackendMemory, BackendPostgres:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q (memory|postgres)", cfg.StoreBackend)
	}

	cfg.CreatorsFile = os.Getenv("CREATORS_FILE")

	var err error
	cfg.Locator = locator.DefaultOptions()
	if cfg.Locator.LiveTTL, err = duration("LOCATOR_LIVE_TTL", cfg.Locator.LiveTTL); err != nil {
		return nil, err
	}
	if cfg.Locator.EndedTTL, err = duration("LOCATOR_ENDED_TTL", cfg.Locator.EndedTTL); err != nil {
		return nil, err
	}
	if cfg.Locator.AdapterTimeout, err = duration("LOCATOR_ADAPTER_TIMEOUT", cfg.Locator.AdapterTimeout); err != nil {
		return nil, err
	}
	if cfg.Locator.MaxFanout, err = integer("LOCATOR_MAX_FANOUT", cfg.Locator.MaxFanout); err != nil {
		return nil, err
	}
	if v := os.Getenv("PLATFORM_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps < 0 {
			return nil, fmt.Errorf("invalid PLATFORM_RPS %q", v)
		}
		cfg.Locator.PlatformRPS = rps
	}

	if cfg.SessionGrace, err = duration("SESSION_GRACE", 48*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PruneInterval, err = duration("PRUNE_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.DefaultOffset, err = integer("DEFAULT_OFFSET", settings.DefaultOffset); err != nil {
		return nil, err
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	return cfg, nil
}

// ValidateChatReady checks required fields when chat ingestion is enabled.
func (c *Config) ValidateChatReady() error {
	if len(c.TwitchChannels) == 0 || c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNELS, TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	return nil
}

// HelixReady reports whether app credentials for the Twitch API are present.
func (c *Config) HelixReady() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != ""
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q (duration like 30s)", key, v)
	}
	return d, nil
}

func integer(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}
