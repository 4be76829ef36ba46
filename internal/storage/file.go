package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dgnsrekt/cms-sync/internal/api"
)

const (
	stateDir   = "state"
	sitemapDir = "sitemaps"
	contentDir = "content"
	pagesDir   = "pages"

	jsonExt = ".json"
	zstdExt = ".json.zst"
)

var _ Store = (*FileStore)(nil)

// FileStore lays data out as JSON files under a base directory:
//
//	state/<language>.json
//	sitemaps/<channel>/<language>.json[.zst]
//	content/<language>/<contentID>.json
//	pages/<language>/<pageID>.json
//
// Every write goes to a unique .tmp file first and is renamed into place.
type FileStore struct {
	baseDir  string
	compress bool
	codec    *snapshotCodec
	logger   *zap.Logger
}

func NewFileStore(baseDir string, compress bool, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	codec, err := newSnapshotCodec()
	if err != nil {
		return nil, err
	}
	return &FileStore{
		baseDir:  baseDir,
		compress: compress,
		codec:    codec,
		logger:   logger,
	}, nil
}

func (s *FileStore) BaseDir() string {
	return s.baseDir
}

func (s *FileStore) statePath(languageCode string) string {
	return filepath.Join(s.baseDir, stateDir, languageCode+jsonExt)
}

func (s *FileStore) sitemapPath(channelName, languageCode string, compressed bool) string {
	ext := jsonExt
	if compressed {
		ext = zstdExt
	}
	return filepath.Join(s.baseDir, sitemapDir, channelName, languageCode+ext)
}

func (s *FileStore) GetSyncState(_ context.Context, languageCode string) (SyncState, bool, error) {
	if err := checkKey(languageCode); err != nil {
		return SyncState{}, false, err
	}

	data, err := os.ReadFile(s.statePath(languageCode))
	if errors.Is(err, os.ErrNotExist) {
		return SyncState{}, false, nil
	}
	if err != nil {
		return SyncState{}, false, fmt.Errorf("reading sync state: %w", err)
	}

	var state SyncState
	if err := json.Unmarshal(data, &state); err != nil {
		return SyncState{}, false, fmt.Errorf("decoding sync state %s: %w", languageCode, err)
	}
	return state, true, nil
}

func (s *FileStore) SaveSyncState(_ context.Context, languageCode string, state SyncState) error {
	if err := checkKey(languageCode); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding sync state: %w", err)
	}
	return writeAtomic(s.statePath(languageCode), data)
}

func (s *FileStore) ListSyncStates(ctx context.Context) (map[string]SyncState, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, stateDir))
	if errors.Is(err, os.ErrNotExist) {
		return map[string]SyncState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state directory: %w", err)
	}

	states := make(map[string]SyncState, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, jsonExt) {
			continue
		}
		languageCode := strings.TrimSuffix(name, jsonExt)
		state, found, err := s.GetSyncState(ctx, languageCode)
		if err != nil {
			return nil, err
		}
		if found {
			states[languageCode] = state
		}
	}
	return states, nil
}

func (s *FileStore) SaveSitemap(_ context.Context, channelName, languageCode string, sitemap api.Sitemap) error {
	if err := checkKey(channelName, languageCode); err != nil {
		return err
	}

	data, err := s.codec.encode(sitemap, s.compress)
	if err != nil {
		return err
	}
	if err := writeAtomic(s.sitemapPath(channelName, languageCode, s.compress), data); err != nil {
		return err
	}

	// Drop the snapshot written under the other encoding so reads never see a stale copy
	stale := s.sitemapPath(channelName, languageCode, !s.compress)
	if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove stale sitemap", zap.String("path", stale), zap.Error(err))
	}
	return nil
}

func (s *FileStore) GetSitemap(_ context.Context, channelName, languageCode string) (api.Sitemap, error) {
	if err := checkKey(channelName, languageCode); err != nil {
		return nil, err
	}

	for _, compressed := range []bool{s.compress, !s.compress} {
		data, err := os.ReadFile(s.sitemapPath(channelName, languageCode, compressed))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading sitemap: %w", err)
		}
		var sitemap api.Sitemap
		if err := s.codec.decode(data, compressed, &sitemap); err != nil {
			return nil, err
		}
		return sitemap, nil
	}
	return nil, ErrNotFound
}

func (s *FileStore) SaveContentItem(_ context.Context, languageCode string, item api.ContentItem) error {
	return s.saveRecord(contentDir, languageCode, item.ContentID, item)
}

func (s *FileStore) DeleteContentItem(_ context.Context, languageCode string, contentID int64) error {
	return s.deleteRecord(contentDir, languageCode, contentID)
}

func (s *FileStore) SavePage(_ context.Context, languageCode string, page api.Page) error {
	return s.saveRecord(pagesDir, languageCode, page.PageID, page)
}

func (s *FileStore) DeletePage(_ context.Context, languageCode string, pageID int64) error {
	return s.deleteRecord(pagesDir, languageCode, pageID)
}

func (s *FileStore) recordPath(kind, languageCode string, id int64) string {
	return filepath.Join(s.baseDir, kind, languageCode, strconv.FormatInt(id, 10)+jsonExt)
}

func (s *FileStore) saveRecord(kind, languageCode string, id int64, v any) error {
	if err := checkKey(languageCode); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s record: %w", kind, err)
	}
	return writeAtomic(s.recordPath(kind, languageCode, id), data)
}

func (s *FileStore) deleteRecord(kind, languageCode string, id int64) error {
	if err := checkKey(languageCode); err != nil {
		return err
	}
	if err := os.Remove(s.recordPath(kind, languageCode, id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting %s record: %w", kind, err)
	}
	return nil
}

func (s *FileStore) Close() error {
	s.codec.close()
	return nil
}

func writeAtomic(destPath string, data []byte) error {
	// Create parent directories
	if err := os.MkdirAll(filepath.Dir(destPath), 0750); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}

	// Unique per writer so processes sharing a directory never clobber each
	// other's half-written file
	tmp, err := os.CreateTemp(filepath.Dir(destPath), filepath.Base(destPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}
