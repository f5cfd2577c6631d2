// Package config loads runtime configuration from the environment,
// with optional .env file support for local development.
package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

// ErrMissingToken is returned when no GitHub token is configured.
var ErrMissingToken = errors.New("GITHUB_TOKEN environment variable is not set")

type Config struct {
	GitHubToken string
}

// Load reads configuration from a .env file (if present) and the
// process environment. The token is required; nothing in the probe core
// ever reads credentials itself.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		GitHubToken: os.Getenv("GITHUB_TOKEN"),
	}
	if cfg.GitHubToken == "" {
		return nil, ErrMissingToken
	}
	return cfg, nil
}
