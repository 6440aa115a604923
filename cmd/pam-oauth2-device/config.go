package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix namespaces every configuration variable, e.g. PAM_OAUTH2_ISSUER_URL.
const envPrefix = "PAM_OAUTH2"

// defaultEnvFile is loaded before the environment when present. pam_exec
// starts the helper with a nearly empty environment, so deployments normally
// put the realm settings here.
const defaultEnvFile = "/etc/pam-oauth2-device.env"

// Config holds the bridge configuration, loaded once at process start and
// read-only thereafter.
type Config struct {
	IssuerURL    string `envconfig:"ISSUER_URL" required:"true"`
	Realm        string `envconfig:"REALM" required:"true"`
	ClientID     string `envconfig:"CLIENT_ID" required:"true"`
	ClientSecret string `envconfig:"CLIENT_SECRET"`

	Scope       string        `envconfig:"SCOPE" default:"openid profile"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`

	// CodeExpiry and PollInterval are fallbacks for servers that omit
	// expires_in or interval from the device authorization response.
	// Explicit server values always win.
	CodeExpiry   time.Duration `envconfig:"CODE_EXPIRY" default:"5m"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`

	RequireIDToken bool   `envconfig:"REQUIRE_ID_TOKEN" default:"false"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
}

// loadConfig reads the env file (ignored when absent) and then the process
// environment.
func loadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("processing environment: %w", err)
	}
	return cfg, nil
}

// slogLevel maps the configured level name onto slog; unknown names fall
// back to info.
func (c Config) slogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
