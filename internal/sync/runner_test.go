package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/cms-sync/internal/api"
	"github.com/dgnsrekt/cms-sync/internal/storage"
)

// fakeCMS plays every collaborator role and records calls in order.
type fakeCMS struct {
	mu    gosync.Mutex
	calls []string

	itemTokens map[string]int64 // token returned per language, missing means unchanged
	pageTokens map[string]int64
	failOn     map[string]error // keyed by call, e.g. "content fr-ca"

	store *storage.MemoryStore

	block   chan struct{}
	entered chan struct{}
}

func newFakeCMS() *fakeCMS {
	return &fakeCMS{
		itemTokens: make(map[string]int64),
		pageTokens: make(map[string]int64),
		failOn:     make(map[string]error),
		store:      storage.NewMemoryStore(),
	}
}

func (f *fakeCMS) record(call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	err := f.failOn[call]
	f.mu.Unlock()
	return err
}

func (f *fakeCMS) SyncContent(ctx context.Context, languageCode string, token int64) (int64, error) {
	if f.entered != nil {
		close(f.entered)
		f.entered = nil
		<-f.block
	}
	if err := f.record("content " + languageCode); err != nil {
		return 0, err
	}
	if t, ok := f.itemTokens[languageCode]; ok {
		return t, nil
	}
	return token, nil
}

func (f *fakeCMS) SyncPages(ctx context.Context, languageCode string, token int64) (int64, error) {
	if err := f.record("pages " + languageCode); err != nil {
		return 0, err
	}
	if t, ok := f.pageTokens[languageCode]; ok {
		return t, nil
	}
	return token, nil
}

func (f *fakeCMS) GetSitemapFlat(ctx context.Context, channelName, languageCode string) (api.Sitemap, error) {
	if err := f.record(fmt.Sprintf("sitemap %s %s", channelName, languageCode)); err != nil {
		return nil, err
	}
	return api.Sitemap{
		"/home": {Title: "Home", Name: "home", PageID: 1, Path: "/home", Visible: api.SitemapVisibility{Menu: true, Sitemap: true}},
	}, nil
}

func (f *fakeCMS) GetSyncState(ctx context.Context, languageCode string) (storage.SyncState, bool, error) {
	if err := f.record("get " + languageCode); err != nil {
		return storage.SyncState{}, false, err
	}
	return f.store.GetSyncState(ctx, languageCode)
}

func (f *fakeCMS) SaveSyncState(ctx context.Context, languageCode string, state storage.SyncState) error {
	if err := f.record("save " + languageCode); err != nil {
		return err
	}
	return f.store.SaveSyncState(ctx, languageCode, state)
}

func (f *fakeCMS) SaveSitemap(ctx context.Context, channelName, languageCode string, sitemap api.Sitemap) error {
	if err := f.record(fmt.Sprintf("store %s %s", channelName, languageCode)); err != nil {
		return err
	}
	return f.store.SaveSitemap(ctx, channelName, languageCode, sitemap)
}

func (f *fakeCMS) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordingObserver struct {
	mu     gosync.Mutex
	events []Event
}

func (o *recordingObserver) Observe(e Event) {
	o.mu.Lock()
	o.events = append(o.events, e)
	o.mu.Unlock()
}

func (o *recordingObserver) types() []EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]EventType, len(o.events))
	for i, e := range o.events {
		out[i] = e.Type
	}
	return out
}

func newTestRunner(t *testing.T, f *fakeCMS, languages, channels []string, obs Observer) *Runner {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewRunner(Options{
		Content:   f,
		Pages:     f,
		Sitemaps:  f,
		Store:     f,
		Languages: languages,
		Channels:  channels,
		Observer:  obs,
		Logger:    logger,
	})
}

func equalCalls(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d = %q, want %q (all calls %v)", i, got[i], want[i], got)
		}
	}
}

func TestRunFirstSyncWithChanges(t *testing.T) {
	f := newFakeCMS()
	f.itemTokens["en-us"] = 5

	runner := newTestRunner(t, f, []string{"en-us"}, []string{"website"}, nil)
	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	equalCalls(t, f.Calls(), []string{
		"get en-us",
		"content en-us",
		"pages en-us",
		"sitemap website en-us",
		"store website en-us",
		"save en-us",
	})

	state, ok, _ := f.store.GetSyncState(context.Background(), "en-us")
	if !ok {
		t.Fatal("expected state to be saved")
	}
	if state.ItemToken != 5 || state.PageToken != 0 {
		t.Errorf("saved state = %+v, want {5 0}", state)
	}

	if _, err := f.store.GetSitemap(context.Background(), "website", "en-us"); err != nil {
		t.Errorf("expected sitemap to be stored: %v", err)
	}

	if len(result.Languages) != 1 {
		t.Fatalf("expected 1 language result, got %d", len(result.Languages))
	}
	lr := result.Languages[0]
	if !lr.FirstSync || !lr.Changed {
		t.Errorf("expected first sync with changes, got %+v", lr)
	}
	if len(lr.SitemapsUpdated) != 1 || lr.SitemapsUpdated[0] != "website" {
		t.Errorf("SitemapsUpdated = %v", lr.SitemapsUpdated)
	}
	if result.RunID == "" {
		t.Error("expected run id")
	}
}

func TestRunUnchangedSkipsSitemaps(t *testing.T) {
	f := newFakeCMS()
	ctx := context.Background()
	_ = f.store.SaveSyncState(ctx, "en-us", storage.SyncState{ItemToken: 7, PageToken: 3})

	runner := newTestRunner(t, f, []string{"en-us"}, []string{"website", "mobile"}, nil)
	result, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	equalCalls(t, f.Calls(), []string{"get en-us", "content en-us", "pages en-us", "save en-us"})

	state, _, _ := f.store.GetSyncState(ctx, "en-us")
	if state.ItemToken != 7 || state.PageToken != 3 {
		t.Errorf("state = %+v, want {7 3}", state)
	}
	if result.Languages[0].Changed || result.Languages[0].FirstSync {
		t.Errorf("unexpected result %+v", result.Languages[0])
	}
	if result.SitemapCount() != 0 {
		t.Errorf("SitemapCount = %d, want 0", result.SitemapCount())
	}
}

func TestRunPageChangeRefreshesEveryChannelInOrder(t *testing.T) {
	f := newFakeCMS()
	ctx := context.Background()
	_ = f.store.SaveSyncState(ctx, "fr-ca", storage.SyncState{ItemToken: 4, PageToken: 9})
	f.pageTokens["fr-ca"] = 12

	runner := newTestRunner(t, f, []string{"fr-ca"}, []string{"website", "mobile", "kiosk"}, nil)
	if _, err := runner.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	equalCalls(t, f.Calls(), []string{
		"get fr-ca",
		"content fr-ca",
		"pages fr-ca",
		"sitemap website fr-ca",
		"store website fr-ca",
		"sitemap mobile fr-ca",
		"store mobile fr-ca",
		"sitemap kiosk fr-ca",
		"store kiosk fr-ca",
		"save fr-ca",
	})

	state, _, _ := f.store.GetSyncState(ctx, "fr-ca")
	if state.ItemToken != 4 || state.PageToken != 12 {
		t.Errorf("state = %+v, want {4 12}", state)
	}
}

func TestRunLanguagesSequentially(t *testing.T) {
	f := newFakeCMS()
	f.itemTokens["en-us"] = 1

	runner := newTestRunner(t, f, []string{"en-us", "fr-ca"}, []string{"website"}, nil)
	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	equalCalls(t, f.Calls(), []string{
		"get en-us", "content en-us", "pages en-us", "sitemap website en-us", "store website en-us", "save en-us",
		"get fr-ca", "content fr-ca", "pages fr-ca", "save fr-ca",
	})

	if result.ChangedCount() != 1 {
		t.Errorf("ChangedCount = %d, want 1", result.ChangedCount())
	}
}

func TestRunStopsAtFailingLanguage(t *testing.T) {
	f := newFakeCMS()
	f.itemTokens["en-us"] = 2
	f.itemTokens["de-de"] = 6
	boom := errors.New("connection reset")
	f.failOn["content fr-ca"] = boom

	obs := &recordingObserver{}
	runner := newTestRunner(t, f, []string{"en-us", "fr-ca", "de-de"}, []string{"website"}, obs)
	result, err := runner.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if result == nil || result.Failed != "fr-ca" {
		t.Fatalf("expected failed language fr-ca, got %+v", result)
	}
	if len(result.Languages) != 1 || result.Languages[0].Language != "en-us" {
		t.Errorf("expected only en-us completed, got %+v", result.Languages)
	}

	ctx := context.Background()
	if s, ok, _ := f.store.GetSyncState(ctx, "en-us"); !ok || s.ItemToken != 2 {
		t.Errorf("en-us state = %+v (found %v), want saved with item token 2", s, ok)
	}
	if _, ok, _ := f.store.GetSyncState(ctx, "fr-ca"); ok {
		t.Error("fr-ca state should not be saved")
	}
	for _, c := range f.Calls() {
		if c == "get de-de" {
			t.Error("de-de should not be attempted after a failure")
		}
	}

	types := obs.types()
	if types[len(types)-1] != EventRunFailed {
		t.Errorf("last event = %s, want %s", types[len(types)-1], EventRunFailed)
	}
}

func TestRunSitemapFailureKeepsCursors(t *testing.T) {
	f := newFakeCMS()
	ctx := context.Background()
	_ = f.store.SaveSyncState(ctx, "en-us", storage.SyncState{ItemToken: 1, PageToken: 1})
	f.itemTokens["en-us"] = 8
	f.failOn["sitemap mobile en-us"] = api.ErrNotFound

	runner := newTestRunner(t, f, []string{"en-us"}, []string{"website", "mobile"}, nil)
	_, err := runner.Run(ctx)
	if !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	state, _, _ := f.store.GetSyncState(ctx, "en-us")
	if state.ItemToken != 1 || state.PageToken != 1 {
		t.Errorf("cursors advanced to %+v after sitemap failure", state)
	}
	// The first channel was already written before the failure
	if _, err := f.store.GetSitemap(ctx, "website", "en-us"); err != nil {
		t.Errorf("expected website sitemap stored: %v", err)
	}
}

func TestRunSaveStateFailure(t *testing.T) {
	f := newFakeCMS()
	f.failOn["save en-us"] = errors.New("disk full")

	runner := newTestRunner(t, f, []string{"en-us"}, []string{"website"}, nil)
	_, err := runner.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRunGetStateFailure(t *testing.T) {
	f := newFakeCMS()
	f.failOn["get en-us"] = errors.New("unreadable")

	runner := newTestRunner(t, f, []string{"en-us"}, []string{"website"}, nil)
	_, err := runner.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	calls := f.Calls()
	if len(calls) != 1 {
		t.Errorf("expected no calls after failed state read, got %v", calls)
	}
}

func TestRunIsIdempotentWhenNothingChanges(t *testing.T) {
	f := newFakeCMS()
	f.itemTokens["en-us"] = 5
	ctx := context.Background()

	runner := newTestRunner(t, f, []string{"en-us"}, []string{"website"}, nil)
	if _, err := runner.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, _, _ := f.store.GetSyncState(ctx, "en-us")

	result, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, _, _ := f.store.GetSyncState(ctx, "en-us")

	if first != second {
		t.Errorf("state changed between runs: %+v -> %+v", first, second)
	}
	if result.Languages[0].Changed {
		t.Error("second run should report no changes")
	}
}

func TestRunEmptyLanguages(t *testing.T) {
	f := newFakeCMS()
	runner := newTestRunner(t, f, nil, []string{"website"}, nil)

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Languages) != 0 || len(f.Calls()) != 0 {
		t.Errorf("expected no work, got %+v and calls %v", result, f.Calls())
	}
}

func TestRunEmptyChannelsStillAdvances(t *testing.T) {
	f := newFakeCMS()
	f.itemTokens["en-us"] = 3

	runner := newTestRunner(t, f, []string{"en-us"}, nil, nil)
	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	equalCalls(t, f.Calls(), []string{"get en-us", "content en-us", "pages en-us", "save en-us"})
	if !result.Languages[0].Changed {
		t.Error("expected change to be reported")
	}
}

func TestRunCancelledContext(t *testing.T) {
	f := newFakeCMS()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := newTestRunner(t, f, []string{"en-us"}, []string{"website"}, nil)
	_, err := runner.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(f.Calls()) != 0 {
		t.Errorf("expected no calls, got %v", f.Calls())
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	f := newFakeCMS()
	f.block = make(chan struct{})
	f.entered = make(chan struct{})
	entered := f.entered

	runner := newTestRunner(t, f, []string{"en-us"}, []string{"website"}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(context.Background())
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never started")
	}

	if !runner.Running() {
		t.Error("expected Running to report true")
	}
	if _, err := runner.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}

	close(f.block)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if runner.Running() {
		t.Error("expected Running to report false after completion")
	}
}

func TestRunEmitsEvents(t *testing.T) {
	f := newFakeCMS()
	f.itemTokens["en-us"] = 5

	obs := &recordingObserver{}
	runner := newTestRunner(t, f, []string{"en-us"}, []string{"website"}, obs)
	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []EventType{
		EventRunStarted,
		EventLanguageStarted,
		EventSitemapUpdated,
		EventLanguageCompleted,
		EventRunCompleted,
	}
	got := obs.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}

	for _, e := range obs.events {
		if e.RunID != result.RunID {
			t.Errorf("event %s has run id %q, want %q", e.Type, e.RunID, result.RunID)
		}
	}
	completed := obs.events[3]
	if completed.ItemToken != 5 || !completed.Changed {
		t.Errorf("unexpected completion event %+v", completed)
	}
}

func TestSetTargets(t *testing.T) {
	f := newFakeCMS()
	runner := newTestRunner(t, f, []string{"en-us"}, []string{"website"}, nil)

	runner.SetTargets([]string{"de-de"}, []string{"mobile"})
	languages, channels := runner.Targets()
	if len(languages) != 1 || languages[0] != "de-de" || len(channels) != 1 || channels[0] != "mobile" {
		t.Fatalf("Targets = %v %v", languages, channels)
	}

	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if calls := f.Calls(); calls[0] != "get de-de" {
		t.Errorf("expected run to use new targets, got %v", calls)
	}
}
