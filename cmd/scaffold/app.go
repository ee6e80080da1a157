package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"github.com/scaffoldhq/scaffold/src/capability"
	"github.com/scaffoldhq/scaffold/src/config"
	"github.com/scaffoldhq/scaffold/src/executor"
	"github.com/scaffoldhq/scaffold/src/genai"
	"github.com/scaffoldhq/scaffold/src/session"
	"github.com/scaffoldhq/scaffold/src/storage"
)

// app bundles the wired services for a command invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	service  *executor.Service
	sessions *session.Manager
	caps     *capability.Service
	store    *storage.DB
}

// loadConfig loads configuration and applies CLI flag overrides.
func loadConfig(cli *CLI) (*config.Config, error) {
	cfg, err := config.NewLoader(config.GetConfigPaths()).Load()
	if err != nil {
		return nil, err
	}

	if cli.APIKey != "" {
		cfg.API.APIKey = cli.APIKey
	}
	if cli.Model != "" {
		cfg.API.Model = cli.Model
	}
	if cli.BaseURL != "" {
		cfg.API.BaseURL = cli.BaseURL
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}

	return cfg, nil
}

// buildApp wires the full service stack. The caller must call close().
func buildApp(cli *CLI) (*app, func(), error) {
	cfg, err := loadConfig(cli)
	if err != nil {
		return nil, nil, err
	}

	logger := createLogger(cfg.Logging)
	fs := afero.NewOsFs()

	apiKey := cfg.ResolveAPIKey()
	if apiKey == "" {
		return nil, nil, fmt.Errorf("no API key configured; set %s or api.api_key", cfg.API.APIKeyEnvVar)
	}

	client, err := genai.NewClient(genai.Config{
		APIKey:     apiKey,
		BaseURL:    cfg.API.BaseURL,
		Model:      cfg.API.Model,
		Timeout:    cfg.API.Timeout,
		MaxRetries: cfg.API.MaxRetries,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create API client: %w", err)
	}

	sessions, err := session.NewManager(fs, cfg.Session.Dir, logger)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Session.Expiry > 0 {
		sessions.SetExpiry(cfg.Session.Expiry)
	}

	if err := os.MkdirAll(cfg.Data.Directory, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	caps := capability.NewService(logger, capability.WithTTL(cfg.Capabilities.CacheTTL))

	service := executor.NewService(executor.Options{
		Provider:      client,
		Model:         cfg.API.Model,
		Sessions:      sessions,
		Caps:          caps,
		Store:         store,
		FS:            fs,
		Logger:        logger,
		MaxIterations: cfg.Executor.MaxIterations,
	})

	a := &app{
		cfg:      cfg,
		logger:   logger,
		service:  service,
		sessions: sessions,
		caps:     caps,
		store:    store,
	}
	return a, func() { store.Close() }, nil
}
