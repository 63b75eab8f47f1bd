package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	AppName     = "storefront-session"
	EnvFileName = "config.env"

	defaultTokenSkew          = 30 * time.Second
	defaultRevalidateCooldown = 10 * time.Second
)

// Config holds the runtime configuration for the session client.
type Config struct {
	// APIBaseURL is the base URL of the storefront API, e.g.
	// "https://shop.example.com/api".
	APIBaseURL string

	// DBPath is the path to the SQLite file backing the persistent
	// credential scope.
	DBPath string

	// StoreKey is the passphrase protecting credentials at rest.
	StoreKey string

	// TokenSkew is the margin subtracted from token expiry so a token
	// about to expire is refreshed instead of used.
	TokenSkew time.Duration

	// RevalidateCooldown is the minimum interval between focus-triggered
	// silent revalidations.
	RevalidateCooldown time.Duration
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
func LoadEnvFile() {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return
	}
	configPath := filepath.Join(configBase, AppName, EnvFileName)
	_ = godotenv.Load(configPath)
}

// FromEnv builds a Config from environment variables. API_BASE_URL and
// SESSION_STORE_KEY are required; the rest have defaults.
func FromEnv() (Config, error) {
	cfg := Config{
		APIBaseURL:         os.Getenv("API_BASE_URL"),
		DBPath:             os.Getenv("SESSION_DB_PATH"),
		StoreKey:           os.Getenv("SESSION_STORE_KEY"),
		TokenSkew:          defaultTokenSkew,
		RevalidateCooldown: defaultRevalidateCooldown,
	}

	if cfg.APIBaseURL == "" {
		return cfg, fmt.Errorf("API_BASE_URL is not set")
	}
	if cfg.StoreKey == "" {
		return cfg, fmt.Errorf("SESSION_STORE_KEY is not set")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "session.db"
	}

	if v := os.Getenv("TOKEN_SKEW_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("TOKEN_SKEW_SECONDS must be an integer: %w", err)
		}
		cfg.TokenSkew = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("REVALIDATE_COOLDOWN_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("REVALIDATE_COOLDOWN_SECONDS must be an integer: %w", err)
		}
		cfg.RevalidateCooldown = time.Duration(secs) * time.Second
	}

	return cfg, nil
}
