package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/cms-sync/internal/app"
	"github.com/dgnsrekt/cms-sync/internal/config"
	"github.com/dgnsrekt/cms-sync/internal/notify"
	cmssync "github.com/dgnsrekt/cms-sync/internal/sync"
)

func main() {
	os.Exit(run())
}

func run() int {
	daemonCfg := LoadDaemonConfig()

	// Bootstrap logger until the config says otherwise
	bootLogger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}

	rl := newReloader(bootLogger)

	var cfg *config.Config
	if daemonCfg.Watch {
		cfg, err = config.Watch(daemonCfg.ConfigPath, rl.OnChange, rl.OnError)
	} else {
		cfg, err = config.Load(daemonCfg.ConfigPath)
	}
	if err != nil {
		bootLogger.Error("failed to load config", zap.String("path", daemonCfg.ConfigPath), zap.Error(err))
		return 1
	}
	rl.SetConfig(cfg)

	logger, err := app.NewLogger("daemon", false, &cfg.Logging)
	if err != nil {
		bootLogger.Error("failed to create logger", zap.Error(err))
		return 1
	}
	defer logger.Sync()
	rl.SetLogger(logger)

	interval := time.Duration(cfg.Daemon.IntervalSec) * time.Second
	logger.Info("daemon configuration loaded",
		zap.String("configPath", daemonCfg.ConfigPath),
		zap.Bool("watch", daemonCfg.Watch),
		zap.Duration("interval", interval),
		zap.Bool("runOnStartup", cfg.Daemon.RunOnStartup),
		zap.String("storage", cfg.Storage.Driver),
		zap.Strings("languages", cfg.Sync.Languages),
		zap.Strings("channels", cfg.Sync.Channels),
	)

	// Load notification config
	notifyCfg := notify.LoadConfig()
	if err := notifyCfg.Validate(); err != nil {
		logger.Error("invalid notification config", zap.Error(err))
		return 1
	}
	notifier := notify.New(notifyCfg, logger)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("failed to build sync components", zap.Error(err))
		return 1
	}
	defer a.Close()
	rl.SetRunner(a.Runner)

	scheduler := NewScheduler(interval)
	if !cfg.Daemon.RunOnStartup {
		scheduler.MarkRun(time.Now())
	}

	logger.Info("daemon started", zap.Time("nextRun", scheduler.Next()))

	ticker := time.NewTicker(scheduler.CheckPeriod())
	defer ticker.Stop()

	for {
		if scheduler.Due(time.Now()) {
			scheduler.MarkRun(time.Now())
			runSync(ctx, a.Runner, notifier, logger)
		}

		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
			return 0
		case <-ticker.C:
		}
	}
}

// runSync executes one run and reports the outcome
func runSync(ctx context.Context, runner *cmssync.Runner, notifier notify.Notifier, logger *zap.Logger) {
	result, err := runner.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("sync interrupted by shutdown")
			return
		}
		logger.Error("scheduled sync failed", zap.Error(err))
		if nerr := notifier.SendFailure(context.WithoutCancel(ctx), result, err); nerr != nil {
			logger.Warn("failed to send failure notification", zap.Error(nerr))
		}
		return
	}

	logger.Info("scheduled sync succeeded",
		zap.String("run_id", result.RunID),
		zap.Int("changed", result.ChangedCount()),
		zap.Duration("duration", result.Duration),
	)
	if nerr := notifier.SendSuccess(ctx, result); nerr != nil {
		logger.Warn("failed to send success notification", zap.Error(nerr))
	}
}
