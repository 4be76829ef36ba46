package main

import (
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dgnsrekt/cms-sync/internal/config"
	cmssync "github.com/dgnsrekt/cms-sync/internal/sync"
)

func daemonTestConfig(languages ...string) *config.Config {
	return &config.Config{
		API:     config.APIConfig{GUID: "g", APIKey: "k", RatePerSecond: 1},
		Sync:    config.SyncConfig{Languages: languages, Channels: []string{"website"}, PageSize: 10, Workers: 2},
		Storage: config.StorageConfig{Driver: config.DriverFile, Directory: "data"},
		Daemon:  config.DaemonConfig{IntervalSec: 60},
	}
}

func newTestReloader(cfg *config.Config) (*reloader, *cmssync.Runner, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	runner := cmssync.NewRunner(cmssync.Options{Languages: cfg.Sync.Languages, Channels: cfg.Sync.Channels})

	rl := newReloader(zap.New(core))
	rl.SetConfig(cfg)
	rl.SetRunner(runner)
	return rl, runner, logs
}

func TestReloaderAppliesTargetChanges(t *testing.T) {
	rl, runner, logs := newTestReloader(daemonTestConfig("en-us"))

	rl.OnChange(daemonTestConfig("en-us", "fr-ca"))

	languages, _ := runner.Targets()
	if len(languages) != 2 || languages[1] != "fr-ca" {
		t.Errorf("expected reloaded languages, got %v", languages)
	}
	if logs.FilterMessage("sync targets reloaded").Len() != 1 {
		t.Error("expected reload to be logged")
	}

	// The applied config becomes the base for the next comparison
	rl.OnChange(daemonTestConfig("de-de"))
	if languages, _ := runner.Targets(); languages[0] != "de-de" {
		t.Errorf("expected second reload applied, got %v", languages)
	}
}

func TestReloaderRejectsRestartOnlyChanges(t *testing.T) {
	rl, runner, logs := newTestReloader(daemonTestConfig("en-us"))

	next := daemonTestConfig("fr-ca")
	next.Storage.Directory = "elsewhere"
	rl.OnChange(next)

	if languages, _ := runner.Targets(); languages[0] != "en-us" {
		t.Errorf("targets changed despite restart-only edit: %v", languages)
	}
	if logs.FilterLevelExact(zapcore.WarnLevel).Len() != 1 {
		t.Error("expected a restart warning")
	}
}

func TestReloaderIgnoresEditsBeforeStartup(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	rl := newReloader(zap.New(core))

	rl.OnChange(daemonTestConfig("fr-ca"))
	if logs.Len() != 0 {
		t.Errorf("expected early edit to be ignored, got %d log entries", logs.Len())
	}
}

func TestReloaderLogsErrors(t *testing.T) {
	rl, _, logs := newTestReloader(daemonTestConfig("en-us"))
	rl.OnError(errors.New("validating config: workers must be between 1 and 32"))

	if logs.FilterMessage("config reload rejected").Len() != 1 {
		t.Error("expected rejected reload to be logged")
	}
}

func TestReloaderLoggerSwapDuringCallbacks(t *testing.T) {
	rl, _, _ := newTestReloader(daemonTestConfig("en-us"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			rl.OnChange(daemonTestConfig("en-us", "fr-ca"))
			rl.OnError(errors.New("bad edit"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			rl.SetLogger(zap.NewNop())
		}
	}()
	wg.Wait()
}
