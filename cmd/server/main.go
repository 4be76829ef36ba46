package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/cms-sync/internal/app"
	"github.com/dgnsrekt/cms-sync/internal/config"
	"github.com/dgnsrekt/cms-sync/internal/events"
	"github.com/dgnsrekt/cms-sync/internal/server"
	cmssync "github.com/dgnsrekt/cms-sync/internal/sync"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load config
	cfg, err := config.Load(os.Getenv(config.EnvPrefix + "_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger, err := app.NewLogger("server", false, &cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("backgroundSync", cfg.Server.BackgroundSync),
		zap.Int("intervalSec", cfg.Daemon.IntervalSec),
		zap.Strings("languages", cfg.Sync.Languages),
		zap.Strings("channels", cfg.Sync.Channels),
	)

	// Create context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	encoder, err := events.NewEncoder()
	if err != nil {
		logger.Error("failed to create event encoder", zap.Error(err))
		return 1
	}
	defer encoder.Close()
	hub := events.NewHub(encoder, logger)

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", zap.Error(err))
		return 1
	}
	broadcaster := cmssync.NewBroadcaster(store, time.Duration(cfg.Server.HeartbeatSec)*time.Second, logger)

	a := app.BuildWithStore(cfg, store, cmssync.Observers{hub, broadcaster}, logger)
	defer a.Close()

	runs := server.NewRunManager(a.Runner, logger)
	srv := server.NewServer(ctx, a.Store, runs, subscriberCount{hub, broadcaster}, logger)

	router, err := server.NewRouter(srv, server.Streams{
		WebSocket: http.HandlerFunc(hub.HandleWS),
		SSE:       http.HandlerFunc(broadcaster.HandleSSE),
	}, logger)
	if err != nil {
		logger.Error("failed to create router", zap.Error(err))
		return 1
	}

	httpServer := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// Cancelled on shutdown so open SSE streams end
		BaseContext: func(net.Listener) context.Context { return ctx },
		// No WriteTimeout: POST /v1/sync?wait=true lasts as long as the run
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		broadcaster.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.Server.BackgroundSync {
		interval := time.Duration(cfg.Daemon.IntervalSec) * time.Second
		g.Go(func() error {
			backgroundSync(gctx, runs, interval, cfg.Daemon.RunOnStartup, logger)
			return nil
		})
	}

	err = g.Wait()
	runs.Wait()
	if err != nil {
		logger.Error("server error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}

// subscriberCount adds up the clients of every event stream.
type subscriberCount []server.Subscribers

func (s subscriberCount) ClientCount() int {
	n := 0
	for _, sub := range s {
		n += sub.ClientCount()
	}
	return n
}

// backgroundSync runs a sync every interval until ctx is done. Runs started
// through the API in the meantime are skipped over, not queued.
func backgroundSync(ctx context.Context, runs *server.RunManager, interval time.Duration, runOnStartup bool, logger *zap.Logger) {
	tick := func() {
		_, err := runs.RunNow(ctx)
		switch {
		case errors.Is(err, cmssync.ErrRunInProgress):
			logger.Debug("background sync skipped, run in progress")
		case err != nil && !errors.Is(err, context.Canceled):
			logger.Error("background sync failed", zap.Error(err))
		}
	}

	if runOnStartup {
		tick()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}
