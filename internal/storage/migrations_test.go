package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRawDB(t *testing.T) *sql.DB {
	db, err := openDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	var got string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&got)
	if err == sql.ErrNoRows {
		return false
	}
	require.NoError(t, err)
	return true
}

func columnExists(t *testing.T, db *sql.DB, table, column string) bool {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestApplyMigrations(t *testing.T) {
	ctx := context.Background()
	db := openRawDB(t)

	require.NoError(t, ApplyMigrations(ctx, db))
	for _, table := range []string{"node", "edge", "occurrence", "error", "file", "schema_version"} {
		assert.True(t, tableExists(t, db, table), table)
	}

	version, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)

	// Re-applying is a no-op
	require.NoError(t, ApplyMigrations(ctx, db))
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count))
	assert.Equal(t, len(AllMigrations), count)
}

func TestRollbackMigration(t *testing.T) {
	ctx := context.Background()
	db := openRawDB(t)
	require.NoError(t, ApplyMigrations(ctx, db))

	require.NoError(t, RollbackMigration(ctx, db))
	assert.False(t, columnExists(t, db, "node", "name_segment"))
	version, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", version)

	require.NoError(t, RollbackMigration(ctx, db))
	assert.False(t, tableExists(t, db, "file"))
	assert.True(t, tableExists(t, db, "node"))

	version, err = SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	require.NoError(t, RollbackMigration(ctx, db))
	assert.False(t, tableExists(t, db, "node"))

	err = RollbackMigration(ctx, db)
	assert.Error(t, err)
}

func TestApplyMigrations_BackfillsNameSegments(t *testing.T) {
	ctx := context.Background()
	db := openRawDB(t)

	// A database last migrated before name_segment existed
	for _, m := range AllMigrations[:2] {
		_, err := db.ExecContext(ctx, m.Up)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", m.Version)
		require.NoError(t, err)
	}
	_, err := db.ExecContext(ctx,
		"INSERT INTO node (id, kind, serialized_name) VALUES (1, 13, 'crate::util::helper'), (2, 13, 'main')")
	require.NoError(t, err)

	require.NoError(t, ApplyMigrations(ctx, db))
	assert.True(t, columnExists(t, db, "node", "name_segment"))

	got := map[int64]string{}
	rows, err := db.QueryContext(ctx, "SELECT id, name_segment FROM node")
	require.NoError(t, err)
	for rows.Next() {
		var (
			id  int64
			seg string
		)
		require.NoError(t, rows.Scan(&id, &seg))
		got[id] = seg
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.Equal(t, map[int64]string{1: "helper", 2: "main"}, got)
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)
	assert.NotEmpty(t, DriverName)
	assert.Contains(t, []string{"purego", "cgo"}, BuildMode)
}
