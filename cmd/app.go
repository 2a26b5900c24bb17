package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"mspro-labs/koredoko/internal/ai"
	"mspro-labs/koredoko/internal/config"
	"mspro-labs/koredoko/internal/db"
	"mspro-labs/koredoko/internal/extractor"
	"mspro-labs/koredoko/internal/imaging"
	"mspro-labs/koredoko/internal/logging"
	"mspro-labs/koredoko/internal/server"
	"mspro-labs/koredoko/internal/storage"
)

// app holds everything a command needs, built from env + YAML settings.
type app struct {
	env      config.AppConfig
	settings *config.Settings
	logger   *zap.Logger

	service  extractor.Service
	backend  server.HealthChecker
	store    storage.Store
	database *sql.DB

	closers []func()
}

// loadSettings resolves env config and the YAML file without building clients.
func loadSettings() (config.AppConfig, *config.Settings, error) {
	env, err := config.GetAppConfig()
	if err != nil {
		return env, nil, fmt.Errorf("config error: %w", err)
	}
	if configPath != "" {
		env.ConfigPath = configPath
	}

	settings, err := config.LoadSettings(env.ConfigPath)
	if err != nil {
		return env, nil, err
	}
	settings.ApplyEnv(env)
	if err := settings.Validate(); err != nil {
		return env, nil, fmt.Errorf("invalid settings: %w", err)
	}
	return env, settings, nil
}

func newApp(ctx context.Context) (*app, error) {
	env, settings, err := loadSettings()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(env)
	if err != nil {
		return nil, err
	}

	a := &app{env: env, settings: settings, logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	if settings.History.Enabled {
		database, err := db.Connect(env.DBPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("database error: %w", err)
		}
		a.database = database
		a.closers = append(a.closers, func() { _ = database.Close() })
	}

	if err := a.buildService(ctx); err != nil {
		a.Close()
		return nil, err
	}

	store, err := storage.New(ctx, settings.Storage, env)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("storage error: %w", err)
	}
	a.store = store

	logger.Info("koredoko configured",
		zap.String("extraction_mode", settings.Extraction.Mode),
		zap.String("map_url_mode", settings.MapURL.Mode),
		zap.String("storage", settings.Storage.Driver),
		zap.Bool("history", a.database != nil),
	)
	return a, nil
}

func (a *app) buildService(ctx context.Context) error {
	s := a.settings
	if s.Extraction.Mode == config.ModeRemote {
		remote := extractor.NewRemote(s.Extraction.BackendURL, s.Extraction.BackendTimeout, a.logger)
		a.service = remote
		a.backend = remote
		return nil
	}

	client, err := ai.NewClient(ctx, ai.Options{
		APIKey:            a.env.GeminiAPIKey,
		Model:             s.Model.Name,
		Temperature:       s.Model.Temperature,
		RequestsPerMinute: s.Model.RequestsPerMinute,
		Timeout:           s.Model.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize AI: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	opts := []extractor.DirectOption{
		extractor.WithImageOptions(imaging.Options{
			MaxDimension: s.Extraction.MaxImageDimension,
			MaxPixels:    s.Extraction.MaxImagePixels,
			JPEGQuality:  s.Extraction.JPEGQuality,
		}),
		extractor.WithMapURLMode(s.MapURL.Mode),
	}
	if a.database != nil {
		opts = append(opts, extractor.WithMapURLCache(db.Store{DB: a.database}))
	}
	a.service = extractor.NewDirect(client, a.logger, opts...)
	return nil
}

// history returns the recorder for the server, or nil when disabled.
func (a *app) history() server.HistoryRecorder {
	if a.database == nil {
		return nil
	}
	return db.Store{DB: a.database}
}

// Close releases clients in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newLogger(env config.AppConfig) (*zap.Logger, error) {
	logger, err := logging.New(env.LogLevel, env.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
