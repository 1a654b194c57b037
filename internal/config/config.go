package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Tracker TrackerConfig
	Storage StorageConfig
	Log     LogConfig
	User    UserConfig
}

type ServerConfig struct {
	Port int
	// AuthToken protects the local HTTP API. Empty disables auth.
	AuthToken string
}

type BackendConfig struct {
	BaseURL string
	APIKey  string
	// Timeout is a duration string, e.g. "15s".
	Timeout string
}

type TrackerConfig struct {
	MaxRetries int
	// BaseDelay and MaxDelay are duration strings, e.g. "1s", "10s".
	BaseDelay string
	MaxDelay  string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type UserConfig struct {
	// DefaultID is the user id assumed when a request names none.
	DefaultID string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Backend: BackendConfig{
			BaseURL: "https://api.platewise.app",
			Timeout: "15s",
		},
		Tracker: TrackerConfig{
			MaxRetries: 3,
			BaseDelay:  "1s",
			MaxDelay:   "10s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		User: UserConfig{
			DefaultID: "local",
		},
	}
}

// RetryPolicy parses the tracker delay strings, falling back to the built-in
// defaults on malformed values.
func (c TrackerConfig) RetryPolicy() (maxRetries int, baseDelay, maxDelay time.Duration) {
	maxRetries = c.MaxRetries
	if maxRetries < 0 {
		maxRetries = 3
	}
	baseDelay = parseDurationOr(c.BaseDelay, 1*time.Second)
	maxDelay = parseDurationOr(c.MaxDelay, 10*time.Second)
	return maxRetries, baseDelay, maxDelay
}

// TimeoutDuration parses the backend timeout string.
func (c BackendConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(c.Timeout, 15*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/dietd/config.json, then applies DIETD_* environment
// variable overrides. The backend API key is a secret and can only come from
// the environment.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Backend.APIKey == "" {
		return Config{}, fmt.Errorf(
			"missing required config: backend API key. Set it via environment variable DIETD_API_KEY")
	}

	return cfg, nil
}
