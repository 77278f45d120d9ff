package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	HistoryBackendFile     = "file"
	HistoryBackendPostgres = "postgres"

	defaultHistoryFilename  = ".3dgen-history.json"
	defaultSettingsFilename = ".3dgen-settings.json"
)

// Config represents client configuration loaded from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"development"`
	Port   string `env:"PORT" envDefault:"8090"`

	APIURL             string        `env:"GENERATION_API_URL" envDefault:"http://localhost:8000"`
	SubmitTimeout      time.Duration `env:"SUBMIT_TIMEOUT" envDefault:"30s"`
	StatusTimeout      time.Duration `env:"STATUS_TIMEOUT" envDefault:"10s"`
	DownloadTimeout    time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"60s"`
	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"3s"`
	MaxConcurrentPolls int           `env:"MAX_CONCURRENT_POLLS" envDefault:"8"`

	HistoryBackend string        `env:"HISTORY_BACKEND" envDefault:"file"`
	HistoryFile    string        `env:"HISTORY_FILE"`
	SettingsFile   string        `env:"SETTINGS_FILE"`
	HistoryProfile string        `env:"HISTORY_PROFILE" envDefault:"default"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	SaveDebounce   time.Duration `env:"SAVE_DEBOUNCE" envDefault:"1s"`
	MaxHistory     int           `env:"MAX_HISTORY" envDefault:"100"`

	StoragePath     string `env:"STORAGE_PATH" envDefault:"./storage"`
	OutputDirectory string `env:"OUTPUT_DIRECTORY" envDefault:"./downloads"`
	AutoDownload    bool   `env:"AUTO_DOWNLOAD" envDefault:"false"`

	HTTPReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"`
	HTTPIdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	RateLimitPerMin    int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`

	MockPort         string        `env:"MOCK_PORT" envDefault:"8000"`
	MockFailureRate  float64       `env:"MOCK_FAILURE_RATE" envDefault:"0"`
	MockStepInterval time.Duration `env:"MOCK_STEP_INTERVAL" envDefault:"1s"`
}

// LoadConfig reads optional .env files, parses the environment and applies
// defaults where needed.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.HistoryBackend = strings.ToLower(strings.TrimSpace(cfg.HistoryBackend))
	if cfg.HistoryFile == "" {
		cfg.HistoryFile = defaultHistoryPath()
	}
	if cfg.SettingsFile == "" {
		cfg.SettingsFile = filepath.Join(filepath.Dir(cfg.HistoryFile), defaultSettingsFilename)
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	cfg.CORSAllowedOrigins = trimAll(cfg.CORSAllowedOrigins)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.HistoryBackend {
	case HistoryBackendFile:
	case HistoryBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres history backend")
		}
	default:
		return fmt.Errorf("HISTORY_BACKEND must be %q or %q, got %q", HistoryBackendFile, HistoryBackendPostgres, c.HistoryBackend)
	}
	if c.APIURL == "" {
		return fmt.Errorf("GENERATION_API_URL is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.MaxHistory <= 0 {
		return fmt.Errorf("MAX_HISTORY must be positive")
	}
	if c.SaveDebounce <= 0 {
		return fmt.Errorf("SAVE_DEBOUNCE must be positive")
	}
	if c.MockFailureRate < 0 || c.MockFailureRate > 1 {
		return fmt.Errorf("MOCK_FAILURE_RATE must be within [0,1]")
	}
	return nil
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return defaultHistoryFilename
	}
	return filepath.Join(home, defaultHistoryFilename)
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
