package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// DefaultConfig returns a default configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Version: "1.0",
		API: APIConfig{
			APIKeyEnvVar: "GEMINI_API_KEY",
			Model:        "gemini-2.0-flash",
			Temperature:  0.7,
			Timeout:      120 * time.Second,
			MaxRetries:   3,
		},
		Session: SessionConfig{
			Dir:    filepath.Join(xdg.DataHome, "scaffold", "sessions"),
			Expiry: 24 * time.Hour,
		},
		Capabilities: CapabilityConfig{
			CacheTTL: time.Hour,
		},
		Executor: ExecutorConfig{
			MaxIterations: 8,
			StepTimeout:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Data: DataConfig{
			Directory: filepath.Join(xdg.DataHome, "scaffold"),
		},
	}
}
