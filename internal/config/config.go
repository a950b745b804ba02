// Package config loads the daemon configuration from the environment.
package config

import (
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the sync daemon needs to start.
type Config struct {
	// DatabaseURL points at the remote authoritative store.
	DatabaseURL string

	// LocalDBPath is the SQLite file holding snapshots and the queue.
	LocalDBPath string

	// HTTPAddr is the local control API listen address.
	HTTPAddr string

	// SessionToken is the signed-in user's stored access token; the acting
	// user and tenant are derived from its claims.
	SessionToken string

	// JWTSecret verifies the session token (HS256).
	JWTSecret string

	// ProbeInterval and Debounce tune the connectivity monitor.
	ProbeInterval time.Duration
	Debounce      time.Duration

	// SyncInterval is the period of the background sync ticker. Zero
	// disables periodic sync (connectivity edges still trigger cycles).
	SyncInterval time.Duration

	// Env is "dev" or "prod"; dev enables console log output.
	Env string
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Load reads the configuration, overlaying a local .env file if present.
func Load() (Config, error) {
	// Missing .env is fine; the environment may be fully set already.
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:   env("DATABASE_URL", ""),
		LocalDBPath:   env("LOCAL_DB_PATH", "shipsync.db"),
		HTTPAddr:      env("HTTP_ADDR", ":8090"),
		SessionToken:  env("SESSION_TOKEN", ""),
		JWTSecret:     env("JWT_HS256_SECRET", ""),
		ProbeInterval: envDuration("PROBE_INTERVAL", 5*time.Second),
		Debounce:      envDuration("CONNECTIVITY_DEBOUNCE", 10*time.Second),
		SyncInterval:  envDuration("SYNC_INTERVAL", 5*time.Minute),
		Env:           env("ENV", "dev"),
	}

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}
	if cfg.SessionToken == "" {
		return cfg, errors.New("SESSION_TOKEN is required")
	}
	if cfg.JWTSecret == "" {
		return cfg, errors.New("JWT_HS256_SECRET is required")
	}
	return cfg, nil
}
