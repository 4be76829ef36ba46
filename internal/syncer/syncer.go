package syncer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/cms-sync/internal/api"
)

// Store is the part of storage.Store the syncer writes to.
type Store interface {
	SaveContentItem(ctx context.Context, languageCode string, item api.ContentItem) error
	DeleteContentItem(ctx context.Context, languageCode string, contentID int64) error
	SavePage(ctx context.Context, languageCode string, page api.Page) error
	DeletePage(ctx context.Context, languageCode string, pageID int64) error
}

// Syncer pulls content and page deltas from the CMS and mirrors them into a Store.
type Syncer struct {
	client   api.Client
	store    Store
	pageSize int
	workers  int
	logger   *zap.Logger
}

func New(client api.Client, store Store, pageSize, workers int, logger *zap.Logger) *Syncer {
	if workers < 1 {
		workers = 1
	}
	return &Syncer{
		client:   client,
		store:    store,
		pageSize: pageSize,
		workers:  workers,
		logger:   logger,
	}
}

// SyncContent applies every content change newer than token and returns the
// token to resume from next time.
func (s *Syncer) SyncContent(ctx context.Context, languageCode string, token int64) (int64, error) {
	return s.drain(ctx, languageCode, kindContent, token, func(t int64) (int64, []entry, error) {
		resp, err := s.client.SyncItems(ctx, languageCode, t, s.pageSize)
		if err != nil {
			return 0, nil, err
		}
		entries := make([]entry, len(resp.Items))
		for i := range resp.Items {
			entries[i] = entry{Kind: kindContent, Language: languageCode, Item: &resp.Items[i]}
		}
		return resp.SyncToken, entries, nil
	})
}

// SyncPages applies every page change newer than token and returns the
// token to resume from next time.
func (s *Syncer) SyncPages(ctx context.Context, languageCode string, token int64) (int64, error) {
	return s.drain(ctx, languageCode, kindPage, token, func(t int64) (int64, []entry, error) {
		resp, err := s.client.SyncPages(ctx, languageCode, t, s.pageSize)
		if err != nil {
			return 0, nil, err
		}
		entries := make([]entry, len(resp.Items))
		for i := range resp.Items {
			entries[i] = entry{Kind: kindPage, Language: languageCode, Page: &resp.Items[i]}
		}
		return resp.SyncToken, entries, nil
	})
}

type fetchFunc func(token int64) (int64, []entry, error)

func (s *Syncer) drain(ctx context.Context, languageCode string, k kind, token int64, fetch fetchFunc) (int64, error) {
	current := token
	batches := 0

	for {
		next, entries, err := fetch(current)
		if err != nil {
			return 0, fmt.Errorf("fetching %s batch at token %d: %w", k, current, err)
		}
		if len(entries) == 0 {
			break
		}

		result := s.apply(ctx, entries)
		batches++
		s.logger.Debug("applied batch",
			zap.String("language", languageCode),
			zap.String("kind", string(k)),
			zap.Int64("token", current),
			zap.Int("saved", result.Saved),
			zap.Int("deleted", result.Deleted),
			zap.Int("failed", result.Failed),
		)
		if result.Failed > 0 {
			return 0, fmt.Errorf("applying %s batch at token %d: %d of %d failed: %s",
				k, current, result.Failed, result.Total, strings.Join(result.Errors, "; "))
		}

		if next == 0 || next == current {
			break
		}
		current = next
	}

	if current != token {
		s.logger.Info("synced",
			zap.String("language", languageCode),
			zap.String("kind", string(k)),
			zap.Int("batches", batches),
			zap.Int64("token", current),
		)
	}
	return current, nil
}

// apply writes a batch through the worker pool. Entries with the same ID
// always land on the same worker so their relative order is kept.
func (s *Syncer) apply(ctx context.Context, entries []entry) *BatchResult {
	result := &BatchResult{Total: len(entries)}

	lanes := make([]chan entry, s.workers)
	for i := range lanes {
		lanes[i] = make(chan entry, len(entries))
	}
	results := make(chan entryResult, len(entries))

	// Start workers
	var wg sync.WaitGroup
	for i := range lanes {
		wg.Add(1)
		go func(jobs <-chan entry) {
			defer wg.Done()
			s.worker(ctx, jobs, results)
		}(lanes[i])
	}

	for _, e := range entries {
		lane := e.ID() % int64(s.workers)
		if lane < 0 {
			lane = -lane
		}
		lanes[lane] <- e
	}
	for _, l := range lanes {
		close(l)
	}

	// Wait for workers and close results
	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		switch {
		case r.Error != nil:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", r.Entry, r.Error))
		case r.Deleted:
			result.Deleted++
		default:
			result.Saved++
		}
	}

	// Workers that stopped on cancellation leave entries unaccounted for
	if missing := result.Total - result.Saved - result.Deleted - result.Failed; missing > 0 {
		result.Failed += missing
		result.Errors = append(result.Errors, fmt.Sprintf("%d entries not applied: %v", missing, ctx.Err()))
	}

	return result
}

func (s *Syncer) worker(ctx context.Context, jobs <-chan entry, results chan<- entryResult) {
	for e := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		results <- s.applyEntry(ctx, e)
	}
}

func (s *Syncer) applyEntry(ctx context.Context, e entry) entryResult {
	result := entryResult{Entry: e, Deleted: e.Deleted()}

	switch {
	case e.Kind == kindContent && result.Deleted:
		result.Error = s.store.DeleteContentItem(ctx, e.Language, e.Item.ContentID)
	case e.Kind == kindContent:
		result.Error = s.store.SaveContentItem(ctx, e.Language, *e.Item)
	case result.Deleted:
		result.Error = s.store.DeletePage(ctx, e.Language, e.Page.PageID)
	default:
		result.Error = s.store.SavePage(ctx, e.Language, *e.Page)
	}

	if result.Error == nil {
		s.logger.Debug("applied", zap.String("entry", e.String()), zap.Bool("deleted", result.Deleted))
	}
	return result
}
