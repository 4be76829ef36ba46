package main

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dgnsrekt/cms-sync/internal/config"
	cmssync "github.com/dgnsrekt/cms-sync/internal/sync"
)

// reloader applies config file edits to a running daemon. Its callbacks run
// on the watcher goroutine while main is still starting up, so every field
// is swapped atomically.
type reloader struct {
	current atomic.Pointer[config.Config]
	runner  atomic.Pointer[cmssync.Runner]
	logger  atomic.Pointer[zap.Logger]
}

func newReloader(logger *zap.Logger) *reloader {
	rl := &reloader{}
	rl.logger.Store(logger)
	return rl
}

func (rl *reloader) SetLogger(logger *zap.Logger)     { rl.logger.Store(logger) }
func (rl *reloader) SetConfig(cfg *config.Config)     { rl.current.Store(cfg) }
func (rl *reloader) SetRunner(runner *cmssync.Runner) { rl.runner.Store(runner) }

// OnChange applies next when only the sync targets changed. Edits that arrive
// before the runner exists are ignored.
func (rl *reloader) OnChange(next *config.Config) {
	logger := rl.logger.Load()
	prev, r := rl.current.Load(), rl.runner.Load()
	if prev == nil || r == nil {
		return
	}
	if !config.Reloadable(prev, next) {
		logger.Warn("config changed outside sync.languages/sync.channels, restart to apply")
		return
	}

	r.SetTargets(next.Sync.Languages, next.Sync.Channels)
	rl.current.Store(next)
	logger.Info("sync targets reloaded",
		zap.Strings("languages", next.Sync.Languages),
		zap.Strings("channels", next.Sync.Channels),
	)
}

func (rl *reloader) OnError(err error) {
	rl.logger.Load().Error("config reload rejected", zap.Error(err))
}
