// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading for nanochat.
//
// Supports TOML configuration with sensible defaults and environment
// variable overrides.
//
// Configuration file locations (in order of precedence):
//   - ~/.nanochat/config.toml
//   - Built-in defaults
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete nanochat configuration.
type Config struct {
	// NanoGPT upstream configuration
	NanoGPT NanoGPTConfig `toml:"nanogpt"`

	// Search tool configuration
	Search SearchConfig `toml:"search"`

	// Storage configuration
	Storage StorageConfig `toml:"storage"`

	// Model catalog configuration
	Models ModelsConfig `toml:"models"`

	// HTTP server configuration
	Server ServerConfig `toml:"server"`
}

// NanoGPTConfig contains upstream API settings.
type NanoGPTConfig struct {
	// APIKey is the NanoGPT API key
	APIKey string `toml:"api_key"`
	// BaseURL overrides the API root (empty = production endpoint)
	BaseURL string `toml:"base_url"`
}

// SearchConfig contains web search tool settings.
type SearchConfig struct {
	// BraveAPIKey is the Brave Search subscription token. Empty means the
	// keyless DuckDuckGo tool is offered instead.
	BraveAPIKey string `toml:"brave_api_key"`
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	// Dir is the data directory (empty = ~/.nanochat)
	Dir string `toml:"dir"`
	// TelemetryPath is the usage database path (empty = <dir>/usage.db)
	TelemetryPath string `toml:"telemetry_path"`
}

// ModelsConfig contains model catalog settings. Path and URL are
// mutually exclusive; neither set means the built-in fallback catalog.
type ModelsConfig struct {
	// Path is a local models.json catalog file, reloaded on change
	Path string `toml:"path"`
	// URL is a remote catalog endpoint
	URL string `toml:"url"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Host is the listen address
	Host string `toml:"host"`
	// Port is the listen port
	Port int `toml:"port"`
	// RateLimitRPS is the per-client request rate (requests per second)
	RateLimitRPS float64 `toml:"rate_limit_rps"`
	// RateLimitBurst is the per-client burst allowance
	RateLimitBurst int `toml:"rate_limit_burst"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		NanoGPT: NanoGPTConfig{
			APIKey:  "",
			BaseURL: "",
		},
		Search: SearchConfig{
			BraveAPIKey: "",
		},
		Storage: StorageConfig{
			Dir:           "",
			TelemetryPath: "",
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the nanochat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".nanochat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on the config
// file. It holds API keys, so anything looser than 0600 gets tightened.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file, falling back to
// defaults when absent. Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadTOML(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all filesystems.
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save saves the configuration to the default TOML file with 0600
// permissions.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# nanochat configuration file")
	fmt.Fprintln(file, "# Generated by nanochat - edit with care")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// DEFAULTS AND VALIDATION
// =============================================================================

// SetDefaults fills missing or zero-value fields with defaults and
// derives dependent paths.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Server.Host == "" {
		c.Server.Host = defaults.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = defaults.Server.RateLimitRPS
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = defaults.Server.RateLimitBurst
	}

	if c.Storage.Dir == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Storage.Dir = dir
		}
	}
	if c.Storage.TelemetryPath == "" && c.Storage.Dir != "" {
		c.Storage.TelemetryPath = filepath.Join(c.Storage.Dir, "usage.db")
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("must be 1-65535, got %d", c.Server.Port),
		})
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit_rps",
			Message: "cannot be negative",
		})
	}
	if c.Server.RateLimitBurst < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit_burst",
			Message: "cannot be negative",
		})
	}

	if c.NanoGPT.BaseURL != "" {
		if _, err := url.Parse(c.NanoGPT.BaseURL); err != nil {
			errs = append(errs, ValidationError{
				Field:   "nanogpt.base_url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		}
	}

	if c.Models.Path != "" && c.Models.URL != "" {
		errs = append(errs, ValidationError{
			Field:   "models",
			Message: "path and url are mutually exclusive",
		})
	}
	if c.Models.URL != "" {
		if _, err := url.Parse(c.Models.URL); err != nil {
			errs = append(errs, ValidationError{
				Field:   "models.url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - NANOGPT_API_KEY: overrides nanogpt.api_key
//   - NANOCHAT_BASE_URL: overrides nanogpt.base_url
//   - BRAVE_SEARCH_API_KEY: overrides search.brave_api_key
//   - NANOCHAT_DATA_DIR: overrides storage.dir
//   - NANOCHAT_MODELS_PATH: overrides models.path
//   - NANOCHAT_MODELS_URL: overrides models.url
//   - NANOCHAT_HOST: overrides server.host
//   - NANOCHAT_PORT: overrides server.port
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("NANOGPT_API_KEY"); key != "" {
		c.NanoGPT.APIKey = key
	}
	if base := os.Getenv("NANOCHAT_BASE_URL"); base != "" {
		c.NanoGPT.BaseURL = base
	}
	if key := os.Getenv("BRAVE_SEARCH_API_KEY"); key != "" {
		c.Search.BraveAPIKey = key
	}
	if dir := os.Getenv("NANOCHAT_DATA_DIR"); dir != "" {
		c.Storage.Dir = dir
	}
	if path := os.Getenv("NANOCHAT_MODELS_PATH"); path != "" {
		c.Models.Path = path
	}
	if u := os.Getenv("NANOCHAT_MODELS_URL"); u != "" {
		c.Models.URL = u
	}
	if host := os.Getenv("NANOCHAT_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("NANOCHAT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance. Loads configuration
// on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
			cfg.SetDefaults()
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state between tests.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
