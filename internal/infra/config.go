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

// Config represents application configuration loaded from environment variables.
//
// The two timeouts mirror the transfer contract: RequestTimeout bounds a single
// request phase, ResourceTimeout bounds the whole job including the remote
// generation time, which can run to minutes.
type Config struct {
	AppEnv          string        `env:"APP_ENV" envDefault:"development"`
	RemoteBaseURL   string        `env:"STYLIST_BASE_URL" envDefault:"http://localhost:8080/api/v1"`
	APIToken        string        `env:"STYLIST_API_TOKEN"`
	RequestTimeout  time.Duration `env:"STYLIST_REQUEST_TIMEOUT" envDefault:"60s"`
	ResourceTimeout time.Duration `env:"STYLIST_RESOURCE_TIMEOUT" envDefault:"300s"`
	ScratchDir      string        `env:"STYLIST_SCRATCH_DIR"`
	ProjectsDir     string        `env:"STYLIST_PROJECTS_DIR" envDefault:"./projects"`
	LegacyDir       string        `env:"STYLIST_LEGACY_PROJECTS_DIR"`
	DefaultLocale   string        `env:"STYLIST_LOCALE" envDefault:"en"`
}

// LoadConfig loads configuration from the environment, reading .env files
// first when present, and applies defaults where needed.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}

	if strings.TrimSpace(cfg.RemoteBaseURL) == "" {
		return nil, fmt.Errorf("config: STYLIST_BASE_URL is required")
	}
	cfg.RemoteBaseURL = strings.TrimRight(cfg.RemoteBaseURL, "/")

	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(os.TempDir(), "stylist")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.ResourceTimeout < cfg.RequestTimeout {
		cfg.ResourceTimeout = 5 * cfg.RequestTimeout
	}

	return cfg, nil
}
