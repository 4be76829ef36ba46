package sync

import (
	"errors"
	"time"

	"github.com/dgnsrekt/cms-sync/internal/storage"
)

var ErrRunInProgress = errors.New("sync run already in progress")

// LanguageResult records one language's pass through the sync loop.
type LanguageResult struct {
	Language        string            `json:"language"`
	FirstSync       bool              `json:"first_sync"`
	Previous        storage.SyncState `json:"previous"`
	Current         storage.SyncState `json:"current"`
	Changed         bool              `json:"changed"`
	SitemapsUpdated []string          `json:"sitemaps_updated,omitempty"`
}

// RunResult summarises a run. On failure it holds the languages completed
// before the error.
type RunResult struct {
	RunID     string           `json:"run_id"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
	Languages []LanguageResult `json:"languages"`
	Failed    string           `json:"failed_language,omitempty"`
}

// ChangedCount returns how many languages had new items or pages.
func (r *RunResult) ChangedCount() int {
	n := 0
	for _, l := range r.Languages {
		if l.Changed {
			n++
		}
	}
	return n
}

// SitemapCount returns the number of sitemap snapshots refreshed.
func (r *RunResult) SitemapCount() int {
	n := 0
	for _, l := range r.Languages {
		n += len(l.SitemapsUpdated)
	}
	return n
}

type EventType string

const (
	EventRunStarted        EventType = "run_started"
	EventLanguageStarted   EventType = "language_started"
	EventSitemapUpdated    EventType = "sitemap_updated"
	EventLanguageCompleted EventType = "language_completed"
	EventRunCompleted      EventType = "run_completed"
	EventRunFailed         EventType = "run_failed"
)

// Event is emitted to the runner's Observer as a run progresses.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Language  string    `json:"language,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	ItemToken int64     `json:"item_token,omitempty"`
	PageToken int64     `json:"page_token,omitempty"`
	Changed   bool      `json:"changed,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Observers fans each event out to several observers in order.
type Observers []Observer

func (o Observers) Observe(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ev)
		}
	}
}
