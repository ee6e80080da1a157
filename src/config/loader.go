package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

// Loader handles loading and merging configurations from multiple sources
type Loader struct {
	precedence ConfigPrecedence
	validator  *Validator
}

// NewLoader creates a new configuration loader
func NewLoader(precedence ConfigPrecedence) *Loader {
	return &Loader{
		precedence: precedence,
		validator:  NewValidator(),
	}
}

// Load loads configuration from all sources and merges them. Precedence,
// lowest to highest: defaults, system file, user file, project file,
// environment variables.
func (l *Loader) Load() (*Config, error) {
	// pick up a local .env before reading overrides
	_ = godotenv.Load()

	config := DefaultConfig()

	for _, path := range []string{
		l.precedence.SystemConfig,
		l.precedence.UserConfig,
		l.precedence.ProjectConfig,
	} {
		if path == "" {
			continue
		}
		if cfg, err := l.loadFile(path); err == nil {
			config = l.mergeConfigs(config, cfg)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	if l.precedence.EnvironmentPrefix != "" {
		l.applyEnvironmentOverrides(config)
	}

	if err := l.validator.Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadFile loads a single configuration file
func (l *Loader) loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	return &config, nil
}

// SaveFile saves configuration to a file
func (l *Loader) SaveFile(config *Config, path string) error {
	if err := l.validator.Validate(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// mergeConfigs merges two configurations with the second taking precedence
func (l *Loader) mergeConfigs(base, override *Config) *Config {
	result := *base

	if override.API.BaseURL != "" {
		result.API.BaseURL = override.API.BaseURL
	}
	if override.API.APIKey != "" {
		result.API.APIKey = override.API.APIKey
	}
	if override.API.APIKeyEnvVar != "" {
		result.API.APIKeyEnvVar = override.API.APIKeyEnvVar
	}
	if override.API.Model != "" {
		result.API.Model = override.API.Model
	}
	if override.API.Temperature != 0 {
		result.API.Temperature = override.API.Temperature
	}
	if override.API.MaxTokens != 0 {
		result.API.MaxTokens = override.API.MaxTokens
	}
	if override.API.Timeout != 0 {
		result.API.Timeout = override.API.Timeout
	}
	if override.API.MaxRetries != 0 {
		result.API.MaxRetries = override.API.MaxRetries
	}

	if override.Session.Dir != "" {
		result.Session.Dir = override.Session.Dir
	}
	if override.Session.Expiry != 0 {
		result.Session.Expiry = override.Session.Expiry
	}

	if override.Capabilities.CacheTTL != 0 {
		result.Capabilities.CacheTTL = override.Capabilities.CacheTTL
	}

	if override.Executor.MaxIterations != 0 {
		result.Executor.MaxIterations = override.Executor.MaxIterations
	}
	if override.Executor.StepTimeout != 0 {
		result.Executor.StepTimeout = override.Executor.StepTimeout
	}

	if override.Logging.Level != "" {
		result.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		result.Logging.Format = override.Logging.Format
	}
	if override.Logging.File != "" {
		result.Logging.File = override.Logging.File
	}

	if override.Data.Directory != "" {
		result.Data.Directory = override.Data.Directory
	}

	return &result
}

// applyEnvironmentOverrides applies environment variable overrides to config
func (l *Loader) applyEnvironmentOverrides(config *Config) {
	prefix := l.precedence.EnvironmentPrefix

	if apiKey := os.Getenv(prefix + "_API_KEY"); apiKey != "" {
		config.API.APIKey = apiKey
	}

	if model := os.Getenv(prefix + "_MODEL"); model != "" {
		config.API.Model = model
	}

	if baseURL := os.Getenv(prefix + "_BASE_URL"); baseURL != "" {
		config.API.BaseURL = baseURL
	}

	if level := os.Getenv(prefix + "_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if dir := os.Getenv(prefix + "_SESSION_DIR"); dir != "" {
		config.Session.Dir = dir
	}

	if dir := os.Getenv(prefix + "_DATA_DIR"); dir != "" {
		config.Data.Directory = dir
	}

	if iter := os.Getenv(prefix + "_MAX_ITERATIONS"); iter != "" {
		if n, err := strconv.Atoi(iter); err == nil && n > 0 {
			config.Executor.MaxIterations = n
		}
	}

	if timeout := os.Getenv(prefix + "_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.API.Timeout = d
		}
	}
}

// ResolveAPIKey returns the configured API key, falling back to the
// configured environment variable.
func (c *Config) ResolveAPIKey() string {
	if c.API.APIKey != "" {
		return c.API.APIKey
	}
	if c.API.APIKeyEnvVar != "" {
		return os.Getenv(c.API.APIKeyEnvVar)
	}
	return ""
}

// DatabasePath returns the sqlite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.Directory, "scaffold.db")
}

// GetConfigPaths returns the configuration file paths to check
func GetConfigPaths() ConfigPrecedence {
	userConfigPath := filepath.Join(xdg.ConfigHome, "scaffold", "config.json")

	systemConfigPath := "/etc/scaffold/config.json"
	if runtime.GOOS == "windows" {
		systemConfigPath = filepath.Join(os.Getenv("PROGRAMDATA"), "scaffold", "config.json")
	}

	return ConfigPrecedence{
		SystemConfig:      systemConfigPath,
		UserConfig:        userConfigPath,
		ProjectConfig:     filepath.Join(".scaffold", "config.json"),
		EnvironmentPrefix: "SCAFFOLD",
	}
}

// FindConfigFile searches for a configuration file in standard locations
func FindConfigFile() (string, error) {
	paths := GetConfigPaths()

	checkPaths := []string{
		paths.ProjectConfig,
		paths.UserConfig,
		paths.SystemConfig,
	}

	for _, path := range checkPaths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found")
}
