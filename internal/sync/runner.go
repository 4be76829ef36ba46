package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/cms-sync/internal/api"
	"github.com/dgnsrekt/cms-sync/internal/storage"
)

// ContentSyncer pulls content items newer than token and returns the advanced token.
type ContentSyncer interface {
	SyncContent(ctx context.Context, languageCode string, token int64) (int64, error)
}

// PageSyncer pulls pages newer than token and returns the advanced token.
type PageSyncer interface {
	SyncPages(ctx context.Context, languageCode string, token int64) (int64, error)
}

type SitemapFetcher interface {
	GetSitemapFlat(ctx context.Context, channelName, languageCode string) (api.Sitemap, error)
}

type StateStore interface {
	GetSyncState(ctx context.Context, languageCode string) (storage.SyncState, bool, error)
	SaveSyncState(ctx context.Context, languageCode string, state storage.SyncState) error
	SaveSitemap(ctx context.Context, channelName, languageCode string, sitemap api.Sitemap) error
}

// Observer receives run lifecycle events. Observe must not block.
type Observer interface {
	Observe(Event)
}

type Options struct {
	Content   ContentSyncer
	Pages     PageSyncer
	Sitemaps  SitemapFetcher
	Store     StateStore
	Languages []string
	Channels  []string
	Observer  Observer
	Logger    *zap.Logger
}

// Runner walks the configured languages one at a time, advancing each
// language's cursors and refreshing its sitemaps when anything changed.
type Runner struct {
	content  ContentSyncer
	pages    PageSyncer
	sitemaps SitemapFetcher
	store    StateStore
	observer Observer
	logger   *zap.Logger

	targetsMu gosync.RWMutex
	languages []string
	channels  []string

	running atomic.Bool
}

func NewRunner(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		content:   opts.Content,
		pages:     opts.Pages,
		sitemaps:  opts.Sitemaps,
		store:     opts.Store,
		observer:  opts.Observer,
		logger:    logger,
		languages: append([]string(nil), opts.Languages...),
		channels:  append([]string(nil), opts.Channels...),
	}
}

// SetTargets replaces the language and channel lists. A run already in
// progress keeps the lists it started with.
func (r *Runner) SetTargets(languages, channels []string) {
	r.targetsMu.Lock()
	defer r.targetsMu.Unlock()
	r.languages = append([]string(nil), languages...)
	r.channels = append([]string(nil), channels...)
}

func (r *Runner) Targets() (languages, channels []string) {
	r.targetsMu.RLock()
	defer r.targetsMu.RUnlock()
	return append([]string(nil), r.languages...), append([]string(nil), r.channels...)
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Run syncs every configured language in order. The first error stops the
// run; languages finished before it keep their saved state. The returned
// result is non-nil whenever the run started, including on failure.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)

	languages, channels := r.Targets()
	result := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	logger := r.logger.With(zap.String("run_id", result.RunID))

	logger.Info("sync run starting",
		zap.Strings("languages", languages),
		zap.Strings("channels", channels),
	)
	r.emit(Event{Type: EventRunStarted, RunID: result.RunID})

	for _, languageCode := range languages {
		if err := ctx.Err(); err != nil {
			return r.fail(logger, result, languageCode, err)
		}

		lr, err := r.syncLanguage(ctx, logger, result.RunID, languageCode, channels)
		if err != nil {
			return r.fail(logger, result, languageCode, err)
		}
		result.Languages = append(result.Languages, lr)
	}

	result.Duration = time.Since(result.StartedAt)
	logger.Info("sync run complete",
		zap.Int("languages", len(result.Languages)),
		zap.Int("changed", result.ChangedCount()),
		zap.Int("sitemaps", result.SitemapCount()),
		zap.Duration("duration", result.Duration),
	)
	r.emit(Event{Type: EventRunCompleted, RunID: result.RunID})

	return result, nil
}

func (r *Runner) syncLanguage(ctx context.Context, logger *zap.Logger, runID, languageCode string, channels []string) (LanguageResult, error) {
	logger = logger.With(zap.String("language", languageCode))
	logger.Info("starting sync")
	r.emit(Event{Type: EventLanguageStarted, RunID: runID, Language: languageCode})

	state, found, err := r.store.GetSyncState(ctx, languageCode)
	if err != nil {
		return LanguageResult{}, fmt.Errorf("loading sync state: %w", err)
	}
	if !found {
		state = storage.SyncState{ItemToken: 0, PageToken: 0}
	}

	lr := LanguageResult{
		Language:  languageCode,
		FirstSync: !found,
		Previous:  state,
	}

	newItemToken, err := r.content.SyncContent(ctx, languageCode, state.ItemToken)
	if err != nil {
		return LanguageResult{}, fmt.Errorf("syncing content: %w", err)
	}

	newPageToken, err := r.pages.SyncPages(ctx, languageCode, state.PageToken)
	if err != nil {
		return LanguageResult{}, fmt.Errorf("syncing pages: %w", err)
	}

	if newItemToken != state.ItemToken || newPageToken != state.PageToken {
		// Anything synced means the sitemaps may have moved
		lr.Changed = true
		for _, channelName := range channels {
			sitemap, err := r.sitemaps.GetSitemapFlat(ctx, channelName, languageCode)
			if err != nil {
				return LanguageResult{}, fmt.Errorf("fetching sitemap for channel %s: %w", channelName, err)
			}
			if err := r.store.SaveSitemap(ctx, channelName, languageCode, sitemap); err != nil {
				return LanguageResult{}, fmt.Errorf("saving sitemap for channel %s: %w", channelName, err)
			}

			lr.SitemapsUpdated = append(lr.SitemapsUpdated, channelName)
			logger.Info("updated sitemap", zap.String("channel", channelName), zap.Int("nodes", len(sitemap)))
			r.emit(Event{Type: EventSitemapUpdated, RunID: runID, Language: languageCode, Channel: channelName})
		}
	}

	state.ItemToken = newItemToken
	state.PageToken = newPageToken

	if err := r.store.SaveSyncState(ctx, languageCode, state); err != nil {
		return LanguageResult{}, fmt.Errorf("saving sync state: %w", err)
	}
	lr.Current = state

	logger.Info("completed sync",
		zap.Int64("item_token", state.ItemToken),
		zap.Int64("page_token", state.PageToken),
		zap.Bool("changed", lr.Changed),
	)
	r.emit(Event{
		Type:      EventLanguageCompleted,
		RunID:     runID,
		Language:  languageCode,
		ItemToken: state.ItemToken,
		PageToken: state.PageToken,
		Changed:   lr.Changed,
	})

	return lr, nil
}

func (r *Runner) fail(logger *zap.Logger, result *RunResult, languageCode string, err error) (*RunResult, error) {
	result.Duration = time.Since(result.StartedAt)
	result.Failed = languageCode
	logger.Error("sync run failed",
		zap.String("language", languageCode),
		zap.Int("completed", len(result.Languages)),
		zap.Error(err),
	)
	r.emit(Event{Type: EventRunFailed, RunID: result.RunID, Language: languageCode, Error: err.Error()})
	return result, fmt.Errorf("sync %s: %w", languageCode, err)
}

func (r *Runner) emit(e Event) {
	if r.observer == nil {
		return
	}
	e.Time = time.Now()
	r.observer.Observe(e)
}
