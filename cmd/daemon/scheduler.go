package main

import (
	"sync"
	"time"
)

// Scheduler decides when the next interval sync is due
type Scheduler struct {
	interval time.Duration

	mu      sync.Mutex
	lastRun time.Time
}

// NewScheduler creates a scheduler that fires every interval
func NewScheduler(interval time.Duration) *Scheduler {
	return &Scheduler{interval: interval}
}

// Due reports whether a run should start at now. A scheduler that has never
// run is due immediately.
func (s *Scheduler) Due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun.IsZero() || !now.Before(s.lastRun.Add(s.interval))
}

// MarkRun records that a run started at t
func (s *Scheduler) MarkRun(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = t
}

// Next returns when the next run is due
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun.IsZero() {
		return time.Now()
	}
	return s.lastRun.Add(s.interval)
}

// CheckPeriod is how often the daemon loop polls Due
func (s *Scheduler) CheckPeriod() time.Duration {
	if s.interval < time.Minute {
		return s.interval
	}
	return time.Minute
}
