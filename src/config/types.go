// Package config loads, merges, and validates the scaffold configuration
// from files, environment variables, and built-in defaults.
package config

import (
	"time"
)

// Config represents the complete configuration for scaffold
type Config struct {
	// Version of the configuration format
	Version string `json:"version"`

	// API configuration for the model provider
	API APIConfig `json:"api"`

	// Session store configuration
	Session SessionConfig `json:"session"`

	// Capabilities probe configuration
	Capabilities CapabilityConfig `json:"capabilities"`

	// Executor configuration for the conversation loop
	Executor ExecutorConfig `json:"executor"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Data directory configuration
	Data DataConfig `json:"data"`
}

// APIConfig holds model provider configuration
type APIConfig struct {
	// BaseURL overrides the default API endpoint
	BaseURL string `json:"base_url,omitempty" validate:"omitempty,url"`

	// APIKey for authentication (can be omitted if using env vars)
	APIKey string `json:"api_key,omitempty"`

	// APIKeyEnvVar specifies the environment variable to read the API key from
	APIKeyEnvVar string `json:"api_key_env_var,omitempty"`

	// Model is the generation model identifier
	Model string `json:"model"`

	// Temperature for generation
	Temperature float64 `json:"temperature" validate:"min=0,max=2"`

	// MaxTokens caps the response length, 0 for the provider default
	MaxTokens int `json:"max_tokens" validate:"min=0"`

	// Timeout for API requests
	Timeout time.Duration `json:"timeout,omitempty" validate:"min=0"`

	// MaxRetries for transient API failures
	MaxRetries int `json:"max_retries" validate:"min=0"`
}

// SessionConfig holds session store configuration
type SessionConfig struct {
	// Dir is where session files are stored
	Dir string `json:"dir,omitempty"`

	// Expiry is how long untouched sessions survive cleanup
	Expiry time.Duration `json:"expiry,omitempty" validate:"min=0"`
}

// CapabilityConfig holds capability probe configuration
type CapabilityConfig struct {
	// CacheTTL is how long a detected snapshot stays fresh
	CacheTTL time.Duration `json:"cache_ttl,omitempty" validate:"min=0"`
}

// ExecutorConfig holds conversation loop configuration
type ExecutorConfig struct {
	// MaxIterations caps model round-trips per user message
	MaxIterations int `json:"max_iterations" validate:"min=1"`

	// StepTimeout is the default per-attempt timeout for plan steps
	StepTimeout time.Duration `json:"step_timeout,omitempty" validate:"min=0"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string `json:"level,omitempty" validate:"log_level"`

	// Format is the output format (text, json)
	Format string `json:"format,omitempty" validate:"log_format"`

	// File is an optional log file path; empty logs to stderr only
	File string `json:"file,omitempty"`
}

// DataConfig defines data directory configuration
type DataConfig struct {
	// Directory where the sqlite database and other data lives
	Directory string `json:"directory,omitempty"`
}

// ConfigPrecedence defines the order of configuration loading
type ConfigPrecedence struct {
	// SystemConfig path
	SystemConfig string

	// UserConfig path
	UserConfig string

	// ProjectConfig path
	ProjectConfig string

	// EnvironmentPrefix for env var overrides
	EnvironmentPrefix string
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ValidationError) Error() string {
	return e.Message
}
