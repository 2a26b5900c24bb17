package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mspro-labs/koredoko/internal/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Connect(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConnectCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "koredoko.db")
	db, err := Connect(path)
	require.NoError(t, err)
	defer db.Close()

	// Schema is idempotent.
	assert.NoError(t, createSchema(db))
}

func TestExtractionHistory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, err := SaveExtraction(ctx, db, Extraction{
		Filename:  "first.png",
		MIMEType:  "image/png",
		StoreInfo: []models.StoreRecord{{StoreName: "Cafe A", Address: "1 Main St"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = SaveExtraction(ctx, db, Extraction{
		Filename:  "second.jpg",
		Filepath:  "static/uploads/abc.jpg",
		Degraded:  true,
		StoreInfo: []models.StoreRecord{{Error: "parse failed", RawResponse: "???"}},
	})
	require.NoError(t, err)

	entries, err := ListExtractions(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "second.jpg", entries[0].Filename)
	assert.Equal(t, "static/uploads/abc.jpg", entries[0].Filepath)
	assert.True(t, entries[0].Degraded)
	assert.Equal(t, 1, entries[0].RecordCount)

	assert.Equal(t, "first.png", entries[1].Filename)
	assert.Equal(t, id, entries[1].ID)
	assert.False(t, entries[1].Degraded)
	assert.Equal(t, "Cafe A", entries[1].StoreInfo[0].StoreName)
	assert.Empty(t, entries[1].Filepath)

	limited, err := ListExtractions(ctx, db, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	n, err := ClearExtractions(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	entries, err = ListExtractions(ctx, db, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMapURLCache(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := GetCachedMapURL(ctx, db, "Cafe A 1 Main St")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, SaveCachedMapURL(ctx, db, "Cafe A  1 Main St", "https://maps/1"))
	u, err := GetCachedMapURL(ctx, db, "CAFE A 1 MAIN ST")
	require.NoError(t, err)
	assert.Equal(t, "https://maps/1", u)

	// A later write for the same normalized query replaces the entry.
	require.NoError(t, SaveCachedMapURL(ctx, db, "cafe a 1 main st", "https://maps/2"))
	u, err = GetCachedMapURL(ctx, db, "Cafe A 1 Main St")
	require.NoError(t, err)
	assert.Equal(t, "https://maps/2", u)

	n, err := ClearMapURLCache(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStoreAdapter(t *testing.T) {
	ctx := context.Background()
	s := Store{DB: openTestDB(t)}

	_, ok, err := s.GetMapURL(ctx, "Cafe A")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutMapURL(ctx, "Cafe A", "https://maps/a"))
	u, ok, err := s.GetMapURL(ctx, "cafe a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://maps/a", u)

	require.NoError(t, s.RecordExtraction(ctx, Extraction{Filename: "x.png"}))
	entries, err := ListExtractions(ctx, s.DB, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].StoreInfo)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "cafe a 1 main st", CacheKey("  Cafe   A\t1 Main St "))
}
