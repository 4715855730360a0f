// Package config loads daemon configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable the daemon reads at start.
type Config struct {
	Env      string // "dev" or "prod"
	LogLevel string
	Addr     string

	// Postgres DSN for the backend directory. Empty selects the in-memory
	// directory (single-terminal mode).
	PostgresDSN string

	// AuthSecret signs local account tokens (HS256).
	AuthSecret string

	// DataDir holds terminal-local JSON records (PIN session, store
	// selection).
	DataDir string

	// Session lifetimes.
	PinTTL            time.Duration // total PIN session lifetime
	AccountTokenTTL   time.Duration // provider token lifetime
	AccountMaxAge     time.Duration // hard re-auth ceiling for account sessions
	WarningLead       time.Duration // warning before expiry
	ActivityThreshold time.Duration // min gap between refresh-worthy activities
	IdleTimeout       time.Duration // idle countdown
	ProvisionalTTL    time.Duration // no-store page-access window
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:               getenv("SK_ENV", "prod"),
		LogLevel:          getenv("SK_LOG_LEVEL", "info"),
		Addr:              getenv("SK_ADDR", ":8471"),
		PostgresDSN:       os.Getenv("SK_PG_DSN"),
		AuthSecret:        os.Getenv("SK_AUTH_SECRET"),
		DataDir:           getenv("SK_DATA_DIR", defaultDataDir()),
		PinTTL:            4 * time.Hour,
		AccountTokenTTL:   time.Hour,
		AccountMaxAge:     24 * time.Hour,
		WarningLead:       5 * time.Minute,
		ActivityThreshold: 30 * time.Second,
		IdleTimeout:       10 * time.Minute,
		ProvisionalTTL:    2 * time.Minute,
	}

	var err error
	if cfg.PinTTL, err = getdur("SK_PIN_TTL", cfg.PinTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccountTokenTTL, err = getdur("SK_ACCOUNT_TOKEN_TTL", cfg.AccountTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccountMaxAge, err = getdur("SK_ACCOUNT_MAX_AGE", cfg.AccountMaxAge); err != nil {
		return Config{}, err
	}
	if cfg.WarningLead, err = getdur("SK_WARNING_LEAD", cfg.WarningLead); err != nil {
		return Config{}, err
	}
	if cfg.ActivityThreshold, err = getdur("SK_ACTIVITY_THRESHOLD", cfg.ActivityThreshold); err != nil {
		return Config{}, err
	}
	if cfg.IdleTimeout, err = getdur("SK_IDLE_TIMEOUT", cfg.IdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ProvisionalTTL, err = getdur("SK_PROVISIONAL_TTL", cfg.ProvisionalTTL); err != nil {
		return Config{}, err
	}

	if cfg.WarningLead >= cfg.PinTTL {
		return Config{}, fmt.Errorf("config: warning lead %s must be shorter than PIN session lifetime %s", cfg.WarningLead, cfg.PinTTL)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getdur(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.storekeep"
	}
	return ".storekeep"
}
