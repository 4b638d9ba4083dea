package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func insertTestDownload(t *testing.T, db *sql.DB, id string) *Download {
	t.Helper()
	d := &Download{
		ID:       id,
		URL:      "https://example.com/" + id,
		Filename: id + ".bin",
		FilePath: "/tmp/" + id + ".bin",
		Status:   "downloading",
		Protocol: "http",
		Size:     1000,
	}
	require.NoError(t, InsertDownload(db, d))
	return d
}

func TestInsertAndGetDownload(t *testing.T) {
	db := openTestDB(t)
	insertTestDownload(t, db, "a")

	got, err := GetDownload(db, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "downloading", got.Status)
	assert.Equal(t, int64(1000), got.Size)
}

func TestUpdateProgressAndStatus(t *testing.T) {
	db := openTestDB(t)
	insertTestDownload(t, db, "a")

	require.NoError(t, UpdateProgress(db, "a", 500, 1024))
	require.NoError(t, UpdateStatus(db, "a", "paused"))

	got, err := GetDownload(db, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Downloaded)
	assert.Equal(t, int64(1024), got.Speed)
	assert.Equal(t, "paused", got.Status)
}

func TestCompleteAndFailDownload(t *testing.T) {
	db := openTestDB(t)
	insertTestDownload(t, db, "a")
	insertTestDownload(t, db, "b")

	require.NoError(t, CompleteDownload(db, "a", 12345))
	got, err := GetDownload(db, "a")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.True(t, got.CompletedAt.Valid)
	assert.Equal(t, got.Size, got.Downloaded)

	require.NoError(t, FailDownload(db, "b", "boom"))
	got, err = GetDownload(db, "b")
	require.NoError(t, err)
	assert.Equal(t, "error", got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)
}

func TestCheckFilepathExists(t *testing.T) {
	db := openTestDB(t)
	insertTestDownload(t, db, "a")

	exists, err := CheckFilepathExists(db, "/tmp/a.bin")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = CheckFilepathExists(db, "/tmp/missing.bin")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetNextQueuedOrdersByCreatedAt(t *testing.T) {
	db := openTestDB(t)
	d1 := &Download{ID: "a", URL: "u1", Filename: "a.bin", FilePath: "/tmp/a.bin", Status: "queued", Protocol: "http", CreatedAt: 100}
	d2 := &Download{ID: "b", URL: "u2", Filename: "b.bin", FilePath: "/tmp/b.bin", Status: "queued", Protocol: "http", CreatedAt: 50}
	require.NoError(t, InsertDownload(db, d1))
	require.NoError(t, InsertDownload(db, d2))

	next, err := GetNextQueued(db)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "b", next.ID)
}

func TestDeleteDownloadAndDeleteFinished(t *testing.T) {
	db := openTestDB(t)
	insertTestDownload(t, db, "a")
	insertTestDownload(t, db, "b")
	require.NoError(t, CompleteDownload(db, "a", 1))

	n, err := DeleteFinished(db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := GetDownload(db, "a")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, DeleteDownload(db, "b"))
	got, err = GetDownload(db, "b")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCountActive(t *testing.T) {
	db := openTestDB(t)
	insertTestDownload(t, db, "a")
	d2 := &Download{ID: "b", URL: "u", Filename: "b.bin", FilePath: "/tmp/b.bin", Status: "paused", Protocol: "http"}
	require.NoError(t, InsertDownload(db, d2))

	n, err := CountActive(db)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertChunksGetChunksUpdateProgress(t *testing.T) {
	db := openTestDB(t)
	insertTestDownload(t, db, "a")

	chunks := []Chunk{
		{Offset: 0, Length: 500},
		{Offset: 500, Length: 500},
	}
	require.NoError(t, InsertChunks(db, "a", chunks))

	got, err := GetChunks(db, "a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(0), got[0].Offset)
	assert.Equal(t, "pending", got[0].Status)

	require.NoError(t, UpdateChunkProgress(db, "a", 0, 250))
	got, err = GetChunks(db, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(250), got[0].Downloaded)
	assert.Equal(t, "in_progress", got[0].Status)
	assert.Equal(t, int64(0), got[1].Downloaded)
}

func TestInsertChunksReplacesExistingPlan(t *testing.T) {
	db := openTestDB(t)
	insertTestDownload(t, db, "a")

	require.NoError(t, InsertChunks(db, "a", []Chunk{{Offset: 0, Length: 1000}}))
	require.NoError(t, InsertChunks(db, "a", []Chunk{{Offset: 0, Length: 500}, {Offset: 500, Length: 500}}))

	got, err := GetChunks(db, "a")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSetInfoHash(t *testing.T) {
	db := openTestDB(t)
	insertTestDownload(t, db, "a")

	require.NoError(t, SetInfoHash(db, "a", "deadbeef"))
	got, err := GetDownload(db, "a")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", got.InfoHash)
}
