package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgnsrekt/cms-sync/internal/api"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in process memory. Sitemaps are stored
// encoded so callers never share maps with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	states   map[string]SyncState
	sitemaps map[string][]byte         // key: channel/language
	items    map[string]api.ContentItem // key: language/contentID
	pages    map[string]api.Page        // key: language/pageID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:   make(map[string]SyncState),
		sitemaps: make(map[string][]byte),
		items:    make(map[string]api.ContentItem),
		pages:    make(map[string]api.Page),
	}
}

func (s *MemoryStore) GetSyncState(_ context.Context, languageCode string) (SyncState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[languageCode]
	return state, ok, nil
}

func (s *MemoryStore) SaveSyncState(_ context.Context, languageCode string, state SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[languageCode] = state
	return nil
}

func (s *MemoryStore) ListSyncStates(_ context.Context) (map[string]SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]SyncState, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SaveSitemap(_ context.Context, channelName, languageCode string, sitemap api.Sitemap) error {
	data, err := json.Marshal(sitemap)
	if err != nil {
		return fmt.Errorf("encoding sitemap: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sitemaps[channelName+"/"+languageCode] = data
	return nil
}

func (s *MemoryStore) GetSitemap(_ context.Context, channelName, languageCode string) (api.Sitemap, error) {
	s.mu.RLock()
	data, ok := s.sitemaps[channelName+"/"+languageCode]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var sitemap api.Sitemap
	if err := json.Unmarshal(data, &sitemap); err != nil {
		return nil, fmt.Errorf("decoding sitemap: %w", err)
	}
	return sitemap, nil
}

func (s *MemoryStore) SaveContentItem(_ context.Context, languageCode string, item api.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[fmt.Sprintf("%s/%d", languageCode, item.ContentID)] = item
	return nil
}

func (s *MemoryStore) DeleteContentItem(_ context.Context, languageCode string, contentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, fmt.Sprintf("%s/%d", languageCode, contentID))
	return nil
}

func (s *MemoryStore) SavePage(_ context.Context, languageCode string, page api.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[fmt.Sprintf("%s/%d", languageCode, page.PageID)] = page
	return nil
}

func (s *MemoryStore) DeletePage(_ context.Context, languageCode string, pageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, fmt.Sprintf("%s/%d", languageCode, pageID))
	return nil
}

// ContentItem returns a stored item.
func (s *MemoryStore) ContentItem(languageCode string, contentID int64) (api.ContentItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[fmt.Sprintf("%s/%d", languageCode, contentID)]
	return item, ok
}

// Page returns a stored page.
func (s *MemoryStore) Page(languageCode string, pageID int64) (api.Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[fmt.Sprintf("%s/%d", languageCode, pageID)]
	return page, ok
}

func (s *MemoryStore) Close() error { return nil }
