package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	cmssync "github.com/dgnsrekt/cms-sync/internal/sync"
)

// Runner is the part of sync.Runner the server drives.
type Runner interface {
	Run(ctx context.Context) (*cmssync.RunResult, error)
	Running() bool
}

// RunManager starts sync runs on demand and remembers how the last one ended.
type RunManager struct {
	runner Runner
	logger *zap.Logger
	wg     sync.WaitGroup

	// Held for the whole of a run, from before Start returns until it ends
	runMu sync.Mutex

	stateMu sync.RWMutex
	last    LastRun
}

// LastRun describes the most recently finished run.
type LastRun struct {
	RunID      string    `json:"run_id,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

func NewRunManager(runner Runner, logger *zap.Logger) *RunManager {
	return &RunManager{runner: runner, logger: logger}
}

func (rm *RunManager) Running() bool {
	return rm.runner.Running()
}

// RunNow runs a sync in the caller's goroutine.
func (rm *RunManager) RunNow(ctx context.Context) (*cmssync.RunResult, error) {
	if !rm.runMu.TryLock() {
		return nil, cmssync.ErrRunInProgress
	}
	defer rm.runMu.Unlock()
	return rm.run(ctx)
}

func (rm *RunManager) run(ctx context.Context) (*cmssync.RunResult, error) {
	result, err := rm.runner.Run(ctx)
	if errors.Is(err, cmssync.ErrRunInProgress) {
		return nil, err
	}
	rm.record(result, err)
	return result, err
}

// Start launches a run in the background. ctx bounds the run, not the
// caller's request. It returns ErrRunInProgress when a run is active.
func (rm *RunManager) Start(ctx context.Context) error {
	if !rm.runMu.TryLock() {
		return cmssync.ErrRunInProgress
	}

	rm.wg.Add(1)
	go func() {
		defer rm.wg.Done()
		defer rm.runMu.Unlock()
		if _, err := rm.run(ctx); err != nil {
			rm.logger.Warn("background sync run failed", zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until background runs started by Start have returned.
func (rm *RunManager) Wait() {
	rm.wg.Wait()
}

// Last returns the most recent finished run, if any.
func (rm *RunManager) Last() (LastRun, bool) {
	rm.stateMu.RLock()
	defer rm.stateMu.RUnlock()
	return rm.last, !rm.last.FinishedAt.IsZero()
}

func (rm *RunManager) record(result *cmssync.RunResult, err error) {
	last := LastRun{FinishedAt: time.Now()}
	if result != nil {
		last.RunID = result.RunID
	}
	if err != nil {
		last.Error = err.Error()
	}

	rm.stateMu.Lock()
	rm.last = last
	rm.stateMu.Unlock()
}
