// Package app wires the CMS client, storage, syncers and runner from config.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dgnsrekt/cms-sync/internal/api"
	"github.com/dgnsrekt/cms-sync/internal/config"
	"github.com/dgnsrekt/cms-sync/internal/storage"
	cmssync "github.com/dgnsrekt/cms-sync/internal/sync"
	"github.com/dgnsrekt/cms-sync/internal/syncer"
)

// App holds the components a sync run needs.
type App struct {
	Client api.Client
	Store  storage.Store
	Runner *cmssync.Runner
}

// Build opens storage and assembles a runner. observer may be nil.
func Build(ctx context.Context, cfg *config.Config, observer cmssync.Observer, logger *zap.Logger) (*App, error) {
	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return BuildWithStore(cfg, store, observer, logger), nil
}

func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Driver, err)
	}
	return store, nil
}

// BuildWithStore assembles a runner on an already open store. The App takes
// ownership of store.
func BuildWithStore(cfg *config.Config, store storage.Store, observer cmssync.Observer, logger *zap.Logger) *App {
	client := NewClient(cfg, logger)
	s := syncer.New(client, store, cfg.Sync.PageSize, cfg.Sync.Workers, logger)

	runner := cmssync.NewRunner(cmssync.Options{
		Content:   s,
		Pages:     s,
		Sitemaps:  client,
		Store:     store,
		Languages: cfg.Sync.Languages,
		Channels:  cfg.Sync.Channels,
		Observer:  observer,
		Logger:    logger,
	})

	return &App{Client: client, Store: store, Runner: runner}
}

func NewClient(cfg *config.Config, logger *zap.Logger) *api.HTTPClient {
	return api.NewClient(api.Options{
		BaseURL:    cfg.API.BaseURL,
		GUID:       cfg.API.GUID,
		APIKey:     cfg.API.APIKey,
		Preview:    cfg.API.Preview,
		RatePerSec: cfg.API.RatePerSecond,
		Timeout:    time.Duration(cfg.API.TimeoutSec) * time.Second,
		RetryDelay: time.Duration(cfg.API.RetryDelay) * time.Second,
		RetryCount: cfg.API.RetryCount,
	}, logger)
}

func (a *App) Close() error {
	return a.Store.Close()
}

// NewLogger builds the process logger. name prefixes the log file when file
// logging is enabled.
func NewLogger(name string, verbose bool, logCfg *config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if verbose {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	}

	// Set log level from config
	if logCfg != nil && logCfg.Level != "" && !verbose {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(logCfg.Level)); err == nil {
			zapConfig.Level = zap.NewAtomicLevelAt(level)
		}
	}

	// Add file output if enabled
	if logCfg != nil && logCfg.Enabled {
		if err := os.MkdirAll(logCfg.Directory, 0755); err != nil {
			return nil, fmt.Errorf("creating logs directory: %w", err)
		}
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		logFile := filepath.Join(logCfg.Directory, fmt.Sprintf("%s_%s.log", name, timestamp))
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, logFile)
	}

	return zapConfig.Build()
}
