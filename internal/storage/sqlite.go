package storage

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/dgnsrekt/cms-sync/internal/api"
	"github.com/dgnsrekt/cms-sync/internal/storage/migrations"
)

const sqliteFileName = "cms-sync.db"

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps sync state, sitemaps and content in a single SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, sqliteFileName)

	// WAL lets the server read while a sync run writes
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}

	if err := s.migrate(context.Background(), migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type migration struct {
	version int
	name    string
	sql     string
}

// loadMigrations reads NNN_name.up.sql files in version order. Files without a
// numeric prefix are skipped; two files claiming one version is an error.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}

	seen := make(map[int]string)
	var out []migration
	for _, name := range names {
		prefix, _, ok := strings.Cut(name, "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil {
			continue
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, name, version)
		}
		seen[version] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", name, err)
		}
		out = append(out, migration{version: version, name: name, sql: string(body)})
	}

	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.version, b.version) })
	return out, nil
}

// migrate applies pending migrations, each in its own transaction together
// with its schema_migrations row.
func (s *SQLiteStore) migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	var applied int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&applied); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	pending, err := loadMigrations(fsys)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if m.version <= applied {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) apply(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("executing migration %s: %w", m.name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
		return fmt.Errorf("recording migration %s: %w", m.name, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetSyncState(ctx context.Context, languageCode string) (SyncState, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT item_token, page_token FROM sync_states WHERE language_code = ?
	`, languageCode)

	var state SyncState
	if err := row.Scan(&state.ItemToken, &state.PageToken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SyncState{}, false, nil
		}
		return SyncState{}, false, fmt.Errorf("scanning sync state: %w", err)
	}
	return state, true, nil
}

func (s *SQLiteStore) SaveSyncState(ctx context.Context, languageCode string, state SyncState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_states (language_code, item_token, page_token, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(language_code) DO UPDATE SET
			item_token = excluded.item_token,
			page_token = excluded.page_token,
			updated_at = excluded.updated_at
	`, languageCode, state.ItemToken, state.PageToken, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving sync state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSyncStates(ctx context.Context) (map[string]SyncState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT language_code, item_token, page_token FROM sync_states`)
	if err != nil {
		return nil, fmt.Errorf("listing sync states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]SyncState)
	for rows.Next() {
		var lang string
		var state SyncState
		if err := rows.Scan(&lang, &state.ItemToken, &state.PageToken); err != nil {
			return nil, fmt.Errorf("scanning sync state: %w", err)
		}
		states[lang] = state
	}
	return states, rows.Err()
}

func (s *SQLiteStore) SaveSitemap(ctx context.Context, channelName, languageCode string, sitemap api.Sitemap) error {
	snapshot, err := json.Marshal(sitemap)
	if err != nil {
		return fmt.Errorf("marshalling sitemap: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sitemaps (channel_name, language_code, snapshot, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel_name, language_code) DO UPDATE SET
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`, channelName, languageCode, string(snapshot), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving sitemap: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSitemap(ctx context.Context, channelName, languageCode string) (api.Sitemap, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM sitemaps WHERE channel_name = ? AND language_code = ?
	`, channelName, languageCode)

	var snapshot string
	if err := row.Scan(&snapshot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning sitemap: %w", err)
	}

	var sitemap api.Sitemap
	if err := json.Unmarshal([]byte(snapshot), &sitemap); err != nil {
		return nil, fmt.Errorf("unmarshalling sitemap: %w", err)
	}
	return sitemap, nil
}

func (s *SQLiteStore) SaveContentItem(ctx context.Context, languageCode string, item api.ContentItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshalling content item: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO content_items (language_code, content_id, reference_name, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(language_code, content_id) DO UPDATE SET
			reference_name = excluded.reference_name,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, languageCode, item.ContentID, item.Properties.ReferenceName, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving content item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteContentItem(ctx context.Context, languageCode string, contentID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM content_items WHERE language_code = ? AND content_id = ?
	`, languageCode, contentID)
	if err != nil {
		return fmt.Errorf("deleting content item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SavePage(ctx context.Context, languageCode string, page api.Page) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshalling page: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pages (language_code, page_id, name, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(language_code, page_id) DO UPDATE SET
			name = excluded.name,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, languageCode, page.PageID, page.Name, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving page: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeletePage(ctx context.Context, languageCode string, pageID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pages WHERE language_code = ? AND page_id = ?
	`, languageCode, pageID)
	if err != nil {
		return fmt.Errorf("deleting page: %w", err)
	}
	return nil
}

// CountContentItems returns how many items are stored for a language.
func (s *SQLiteStore) CountContentItems(ctx context.Context, languageCode string) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_items WHERE language_code = ?`, languageCode)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting content items: %w", err)
	}
	return n, nil
}
