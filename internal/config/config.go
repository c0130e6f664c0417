// Package config loads service configuration from defaults, an optional .env
// file, and STUDIOSYNC_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Storage  StorageConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type ProviderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    3001,
			MCPPort: 3002,
		},
		Provider: ProviderConfig{
			Model: "claude-sonnet-4-5",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".studiosync")
}

// Load builds the effective configuration. A .env file in the working
// directory is applied into the environment first, so its values behave like
// any other STUDIOSYNC_* variable; a missing .env is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RequireProviderKey rejects a configuration that cannot reach the model
// provider. Only the serve path needs this; client commands never hold the
// key.
func (c Config) RequireProviderKey() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("missing required config: provider API key. Set STUDIOSYNC_ANTHROPIC_API_KEY or add it to .env")
	}
	return nil
}
