package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKV_SetAndGet(t *testing.T) {
	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, db.SetKV(ctx, "challenges:1", `{"id":1}`, time.Minute))

	entry, err := db.GetKV(ctx, "challenges:1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, entry.Value)
	assert.True(t, entry.ExpiresAt.Valid)

	// Overwrite without expiry
	require.NoError(t, db.SetKV(ctx, "challenges:1", `{"id":2}`, 0))
	entry, err = db.GetKV(ctx, "challenges:1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":2}`, entry.Value)
	assert.False(t, entry.ExpiresAt.Valid)
}

func TestKV_MissingKey(t *testing.T) {
	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	_, err = db.GetKV(ctx, "challenges:404")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestKV_ExpiredEntriesAreHiddenAndCleaned(t *testing.T) {
	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	_, err = db.ExecContext(ctx,
		"INSERT INTO kv_entries (key, value, expires_at) VALUES ($1, $2, $3)",
		"challenges:old", "{}", time.Now().Add(-time.Minute),
	)
	require.NoError(t, err)
	require.NoError(t, db.SetKV(ctx, "challenges:new", "{}", time.Hour))

	_, err = db.GetKV(ctx, "challenges:old")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	removed, err := db.CleanupExpiredKV(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = db.GetKV(ctx, "challenges:new")
	assert.NoError(t, err)
}

func TestKV_CleanupJobStopsWithContext(t *testing.T) {
	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	_, err = db.ExecContext(ctx,
		"INSERT INTO kv_entries (key, value, expires_at) VALUES ($1, $2, $3)",
		"challenges:stale", "{}", time.Now().Add(-time.Minute),
	)
	require.NoError(t, err)

	jobCtx, cancel := context.WithCancel(ctx)
	db.StartCleanupJob(jobCtx, 50*time.Millisecond)

	assert.Eventually(t, func() bool {
		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv_entries").Scan(&count); err != nil {
			return false
		}
		return count == 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
}
