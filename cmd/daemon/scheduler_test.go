package main

import (
	"testing"
	"time"
)

func TestSchedulerDue(t *testing.T) {
	s := NewScheduler(5 * time.Minute)
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	if !s.Due(now) {
		t.Fatal("expected a fresh scheduler to be due")
	}

	s.MarkRun(now)
	if s.Due(now.Add(4 * time.Minute)) {
		t.Error("expected not due before the interval elapsed")
	}
	if !s.Due(now.Add(5 * time.Minute)) {
		t.Error("expected due once the interval elapsed")
	}
	if !s.Next().Equal(now.Add(5 * time.Minute)) {
		t.Errorf("unexpected next run %v", s.Next())
	}
}

func TestSchedulerCheckPeriod(t *testing.T) {
	if p := NewScheduler(10 * time.Second).CheckPeriod(); p != 10*time.Second {
		t.Errorf("expected 10s check period, got %v", p)
	}
	if p := NewScheduler(time.Hour).CheckPeriod(); p != time.Minute {
		t.Errorf("expected 1m check period, got %v", p)
	}
}
