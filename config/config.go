// Package config loads the TOML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration.
type Config struct {
	Provider  Provider  `toml:"provider"`
	Engine    Engine    `toml:"engine"`
	Telemetry Telemetry `toml:"telemetry"`
	Log       Log       `toml:"log"`
}

// Provider configures the model transport.
type Provider struct {
	URL       string `toml:"url"`
	APIKey    string `toml:"api_key"`
	APIKeyEnv string `toml:"api_key_env"`
	Model     string `toml:"model"`
	// Temperature favors deterministic completions over creative ones.
	Temperature float64 `toml:"temperature"`
	Models      []Model `toml:"models"`
}

// Model declares one servable model and its capabilities.
type Model struct {
	Name            string `toml:"name"`
	SupportsFIM     bool   `toml:"supports_fim"`
	MaxOutputTokens int    `toml:"max_output_tokens"`
}

// Engine configures trigger handling.
type Engine struct {
	AutoTrigger         bool `toml:"auto_trigger"`
	DebounceMs          int  `toml:"debounce_ms"`
	CompletionTimeoutMs int  `toml:"completion_timeout_ms"`
	AcceptTimeoutMs     int  `toml:"accept_timeout_ms"`
	CacheTTLMs          int  `toml:"cache_ttl_ms"`
}

// Telemetry configures the acceptance event sink.
type Telemetry struct {
	Enabled   bool   `toml:"enabled"`
	URL       string `toml:"url"`
	APIKey    string `toml:"api_key"`
	APIKeyEnv string `toml:"api_key_env"`
}

// Log configures the file logger.
type Log struct {
	Path  string `toml:"path"`
	Level string `toml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: Provider{
			URL:         "http://localhost:8000",
			APIKeyEnv:   "FIMTAB_API_KEY",
			Temperature: 0.2,
		},
		Engine: Engine{
			AutoTrigger:         true,
			DebounceMs:          325,
			CompletionTimeoutMs: 5000,
			AcceptTimeoutMs:     10000,
			CacheTTLMs:          15000,
		},
		Telemetry: Telemetry{
			Enabled: false,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads path on top of the defaults. A missing file is not an error;
// the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Provider.URL == "" {
		return fmt.Errorf("provider.url must not be empty")
	}
	if c.Engine.DebounceMs < 0 {
		return fmt.Errorf("engine.debounce_ms must not be negative")
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		return fmt.Errorf("provider.temperature out of range: %f", c.Provider.Temperature)
	}
	return nil
}

// ResolveAPIKey returns the configured key, falling back to the environment.
func ResolveAPIKey(key, env string) string {
	if key != "" {
		return key
	}
	if env != "" {
		return os.Getenv(env)
	}
	return ""
}

// Debounce returns the debounce delay as a duration.
func (e Engine) Debounce() time.Duration { return time.Duration(e.DebounceMs) * time.Millisecond }

// CompletionTimeout returns the per-request timeout as a duration.
func (e Engine) CompletionTimeout() time.Duration {
	return time.Duration(e.CompletionTimeoutMs) * time.Millisecond
}

// AcceptTimeout returns the rejection timeout as a duration.
func (e Engine) AcceptTimeout() time.Duration {
	return time.Duration(e.AcceptTimeoutMs) * time.Millisecond
}

// CacheTTL returns the suggestion cache lifetime as a duration.
func (e Engine) CacheTTL() time.Duration { return time.Duration(e.CacheTTLMs) * time.Millisecond }
