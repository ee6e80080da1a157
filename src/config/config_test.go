package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Version != "1.0" {
		t.Errorf("Expected version 1.0, got %s", config.Version)
	}

	if config.API.Model != "gemini-2.0-flash" {
		t.Errorf("Expected default model gemini-2.0-flash, got %s", config.API.Model)
	}

	if config.API.APIKeyEnvVar != "GEMINI_API_KEY" {
		t.Errorf("Expected GEMINI_API_KEY env var, got %s", config.API.APIKeyEnvVar)
	}

	if config.Executor.MaxIterations != 8 {
		t.Errorf("Expected 8 max iterations, got %d", config.Executor.MaxIterations)
	}

	if config.Session.Expiry != 24*time.Hour {
		t.Errorf("Expected 24h session expiry, got %s", config.Session.Expiry)
	}

	if config.Capabilities.CacheTTL != time.Hour {
		t.Errorf("Expected 1h capability cache TTL, got %s", config.Capabilities.CacheTTL)
	}
}

func TestConfigValidation(t *testing.T) {
	validator := NewValidator()

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  DefaultConfig(),
			wantErr: false,
		},
		{
			name: "invalid temperature",
			config: func() *Config {
				c := DefaultConfig()
				c.API.Temperature = 3.0
				return c
			}(),
			wantErr: true,
		},
		{
			name: "invalid log level",
			config: func() *Config {
				c := DefaultConfig()
				c.Logging.Level = "verbose"
				return c
			}(),
			wantErr: true,
		},
		{
			name: "invalid log format",
			config: func() *Config {
				c := DefaultConfig()
				c.Logging.Format = "xml"
				return c
			}(),
			wantErr: true,
		},
		{
			name: "zero iterations",
			config: func() *Config {
				c := DefaultConfig()
				c.Executor.MaxIterations = 0
				return c
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	content := `{
		"api": {"model": "gemini-2.5-pro", "max_retries": 5},
		"logging": {"level": "debug"}
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(ConfigPrecedence{UserConfig: path})
	config, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.API.Model != "gemini-2.5-pro" {
		t.Errorf("Expected file model to win, got %s", config.API.Model)
	}
	if config.API.MaxRetries != 5 {
		t.Errorf("Expected max retries 5, got %d", config.API.MaxRetries)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", config.Logging.Level)
	}
	// untouched fields keep their defaults
	if config.Executor.MaxIterations != 8 {
		t.Errorf("Expected default max iterations, got %d", config.Executor.MaxIterations)
	}
}

func TestLoadProjectOverridesUser(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "user.json")
	projectPath := filepath.Join(dir, "project.json")

	if err := os.WriteFile(userPath, []byte(`{"api": {"model": "user-model"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(projectPath, []byte(`{"api": {"model": "gemini-2.5-pro"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(ConfigPrecedence{UserConfig: userPath, ProjectConfig: projectPath})
	config, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.API.Model != "gemini-2.5-pro" {
		t.Errorf("Expected project config to win, got %s", config.API.Model)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SCAFFOLD_MODEL", "gemini-env")
	t.Setenv("SCAFFOLD_LOG_LEVEL", "warn")
	t.Setenv("SCAFFOLD_MAX_ITERATIONS", "4")

	loader := NewLoader(ConfigPrecedence{EnvironmentPrefix: "SCAFFOLD"})
	config, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.API.Model != "gemini-env" {
		t.Errorf("Expected env model override, got %s", config.API.Model)
	}
	if config.Logging.Level != "warn" {
		t.Errorf("Expected env log level override, got %s", config.Logging.Level)
	}
	if config.Executor.MaxIterations != 4 {
		t.Errorf("Expected env iteration override, got %d", config.Executor.MaxIterations)
	}
}

func TestInvalidFileRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"logging": {"level": "shout"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(ConfigPrecedence{UserConfig: path})
	if _, err := loader.Load(); err == nil {
		t.Fatal("Expected validation error for bad log level")
	}
}

func TestSaveFileRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	config := DefaultConfig()
	config.API.Model = "gemini-2.5-pro"

	loader := NewLoader(ConfigPrecedence{})
	if err := loader.SaveFile(config, path); err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}

	loaded, err := loader.loadFile(path)
	if err != nil {
		t.Fatalf("loadFile() error = %v", err)
	}
	if loaded.API.Model != "gemini-2.5-pro" {
		t.Errorf("Expected saved model back, got %s", loaded.API.Model)
	}
}

func TestResolveAPIKey(t *testing.T) {
	config := DefaultConfig()
	config.API.APIKey = "inline-key"
	if got := config.ResolveAPIKey(); got != "inline-key" {
		t.Errorf("Expected inline key, got %s", got)
	}

	config.API.APIKey = ""
	t.Setenv("GEMINI_API_KEY", "env-key")
	if got := config.ResolveAPIKey(); got != "env-key" {
		t.Errorf("Expected env key, got %s", got)
	}
}
