package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Runners RunnersConfig `mapstructure:"runners" yaml:"runners"`
	Match   MatchConfig   `mapstructure:"match" yaml:"match"`
	API     APIConfig     `mapstructure:"api" yaml:"api"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode" yaml:"mode"`
	Level string `mapstructure:"level" yaml:"level"`
}

// CacheConfig holds the compiled-module cache configuration
type CacheConfig struct {
	// Dir is the directory holding compiled wasm artifacts. An empty value
	// disables on-disk caching; modules are then compiled on every run.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// RunnersConfig locates the built-in language runner wasm modules
type RunnersConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir"`
	Python     string `mapstructure:"python" yaml:"python"`
	Javascript string `mapstructure:"javascript" yaml:"javascript"`
}

// MatchConfig holds match execution configuration
type MatchConfig struct {
	Turns         int `mapstructure:"turns" yaml:"turns"`
	TurnTimeoutMS int `mapstructure:"turn_timeout_ms" yaml:"turn_timeout_ms"`
}

// APIConfig holds the remote robot service configuration
type APIConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Session string `mapstructure:"session" yaml:"session"`
}

// ServerConfig holds the watch-server configuration
type ServerConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
	Port    int    `mapstructure:"port" yaml:"port"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("botbox")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		viper.AddConfigPath(filepath.Join(dir, "botbox"))
	}

	// Set default values
	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("cache.dir", defaultCacheDir())
	viper.SetDefault("runners.dir", defaultRunnersDir())
	viper.SetDefault("runners.python", "pyrunner.wasm")
	viper.SetDefault("runners.javascript", "jsrunner.wasm")
	viper.SetDefault("match.turns", 10)
	viper.SetDefault("match.turn_timeout_ms", 0)
	viper.SetDefault("api.base_url", "https://robot-rumble.org")
	viper.SetDefault("api.session", "")
	viper.SetDefault("server.address", "127.0.0.1")
	viper.SetDefault("server.port", 5252)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	if c.Match.Turns <= 0 {
		return fmt.Errorf("match.turns must be positive, got: %d", c.Match.Turns)
	}

	if c.Match.TurnTimeoutMS < 0 {
		return fmt.Errorf("match.turn_timeout_ms must not be negative, got: %d", c.Match.TurnTimeoutMS)
	}

	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must not be empty")
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}

	return nil
}

// TurnTimeout returns the per-turn timeout as a duration; zero disables it
func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.Match.TurnTimeoutMS) * time.Millisecond
}

// RunnerPath returns the on-disk location of a built-in language runner.
// Relative file names resolve against runners.dir.
func (c *RunnersConfig) RunnerPath(file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(c.Dir, file)
}

// Write persists the configuration as YAML, creating parent directories as
// needed. Used by commands that update persistent state such as the
// authentication session.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// DefaultPath returns the preferred location for the persisted config file
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("no user config directory: %w", err)
	}
	return filepath.Join(dir, "botbox", "botbox.yaml"), nil
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "botbox", "wasm")
}

func defaultRunnersDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "runners"
	}
	return filepath.Join(dir, "botbox", "runners")
}
