package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dgnsrekt/cms-sync/internal/api"
	"github.com/dgnsrekt/cms-sync/internal/config"
)

var (
	ErrNotFound   = errors.New("not found in storage")
	ErrInvalidKey = errors.New("invalid storage key")
)

// SyncState is the pair of sync cursors recorded for one language.
// The zero value is the state of a language that has never been synced.
type SyncState struct {
	ItemToken int64 `json:"itemToken"`
	PageToken int64 `json:"pageToken"`
}

// Store persists sync cursors, sitemap snapshots and the synced content itself.
type Store interface {
	// GetSyncState returns found=false when no state was ever saved for the language.
	GetSyncState(ctx context.Context, languageCode string) (state SyncState, found bool, err error)
	SaveSyncState(ctx context.Context, languageCode string, state SyncState) error
	ListSyncStates(ctx context.Context) (map[string]SyncState, error)

	// SaveSitemap replaces any previous snapshot for the channel/language pair.
	SaveSitemap(ctx context.Context, channelName, languageCode string, sitemap api.Sitemap) error
	GetSitemap(ctx context.Context, channelName, languageCode string) (api.Sitemap, error)

	SaveContentItem(ctx context.Context, languageCode string, item api.ContentItem) error
	DeleteContentItem(ctx context.Context, languageCode string, contentID int64) error
	SavePage(ctx context.Context, languageCode string, page api.Page) error
	DeletePage(ctx context.Context, languageCode string, pageID int64) error

	Close() error
}

// Open creates the store selected by the storage driver setting.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case config.DriverFile, "":
		return NewFileStore(cfg.Directory, cfg.Compress, logger)
	case config.DriverSQLite:
		return NewSQLiteStore(cfg.Directory)
	case config.DriverS3:
		return NewS3Store(ctx, S3Options{
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		}, logger)
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

// checkKey rejects key parts that could escape their directory or prefix.
func checkKey(parts ...string) error {
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) {
			return fmt.Errorf("%w: %q", ErrInvalidKey, p)
		}
	}
	return nil
}
