package storage

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/cms-sync/internal/api"
)

func setupSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, store)

	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, setupSQLiteStore(t))
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewSQLiteStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveSyncState(ctx, "en-us", SyncState{ItemToken: 3, PageToken: 1}))
	require.NoError(t, store.Close())

	// Migrations must not re-run against an existing database
	reopened, err := NewSQLiteStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	state, found, err := reopened.GetSyncState(ctx, "en-us")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, SyncState{ItemToken: 3, PageToken: 1}, state)
}

func TestSQLiteStore_ContentUpsert(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()

	item := api.ContentItem{ContentID: 1, Properties: api.ItemProperties{ReferenceName: "posts"}}
	require.NoError(t, store.SaveContentItem(ctx, "en-us", item))
	item.Properties.VersionID = 2
	require.NoError(t, store.SaveContentItem(ctx, "en-us", item))
	require.NoError(t, store.SaveContentItem(ctx, "fr-ca", item))

	n, err := store.CountContentItems(ctx, "en-us")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.DeleteContentItem(ctx, "en-us", 1))
	n, err = store.CountContentItems(ctx, "en-us")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"010_later.up.sql":   {Data: []byte("SELECT 10;")},
		"002_second.up.sql":  {Data: []byte("SELECT 2;")},
		"001_first.up.sql":   {Data: []byte("SELECT 1;")},
		"README.up.sql":      {Data: []byte("not a migration")},
		"001_first.down.sql": {Data: []byte("SELECT -1;")},
	}

	got, err := loadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{got[0].version, got[1].version, got[2].version})
	assert.Equal(t, "010_later.up.sql", got[2].name)
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.up.sql": {Data: []byte("SELECT 1;")},
		"01_b.up.sql":  {Data: []byte("SELECT 1;")},
	}

	_, err := loadMigrations(fsys)
	assert.ErrorContains(t, err, "share version 1")
}

func TestSQLiteStore_FailedMigrationRollsBack(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()

	broken := fstest.MapFS{
		"900_partial.up.sql": {Data: []byte("CREATE TABLE extra (id INTEGER); INSERT INTO missing_table VALUES (1);")},
	}
	require.Error(t, store.migrate(ctx, broken))

	var recorded int
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = 900").Scan(&recorded))
	assert.Zero(t, recorded)

	var tables int
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE name = 'extra'").Scan(&tables))
	assert.Zero(t, tables, "schema change from the failed migration was kept")

	// A good migration after the failure still applies
	fixed := fstest.MapFS{"900_partial.up.sql": {Data: []byte("CREATE TABLE extra (id INTEGER);")}}
	require.NoError(t, store.migrate(ctx, fixed))
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = 900").Scan(&recorded))
	assert.Equal(t, 1, recorded)
}
