package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "challenges:1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "challenges:1", "one", 0))
	value, err := s.Get(ctx, "challenges:1")
	require.NoError(t, err)
	assert.Equal(t, "one", value)

	require.NoError(t, s.Set(ctx, "challenges:1", "uno", time.Minute))
	value, err = s.Get(ctx, "challenges:1")
	require.NoError(t, err)
	assert.Equal(t, "uno", value)

	assert.NoError(t, s.Ping(ctx))
	assert.NoError(t, s.Close())
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))

	now = now.Add(59 * time.Second)
	_, err := s.Get(ctx, "k")
	assert.NoError(t, err)

	now = now.Add(time.Second)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ExpiredEntriesAreDropped(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for i := 0; i < 1000; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("challenges:%d", i), "v", time.Minute))
	}
	require.NoError(t, s.Set(ctx, "permanent", "v", 0))
	require.Equal(t, 1001, s.Len())

	now = now.Add(time.Hour)

	_, err := s.Get(ctx, "challenges:0")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1000, s.Len(), "expired entry is dropped when read")

	require.NoError(t, s.Set(ctx, "challenges:new", "v", time.Minute))
	assert.Equal(t, 2, s.Len(), "expired entries are swept on write")

	value, err := s.Get(ctx, "permanent")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}

func TestMemoryStore_SweepIsRateLimited(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "a", "v", time.Second))

	now = now.Add(2 * time.Second)
	require.NoError(t, s.Set(ctx, "b", "v", time.Hour))
	assert.Equal(t, 2, s.Len(), "no sweep within the interval")

	now = now.Add(memorySweepInterval)
	require.NoError(t, s.Set(ctx, "c", "v", time.Minute))
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Set(ctx, "shared", "v", time.Minute)
			_, _ = s.Get(ctx, "shared")
		}()
	}
	wg.Wait()

	value, err := s.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}

func TestStorageError(t *testing.T) {
	cause := errors.New("connection refused")
	err := wrapErr("get", "challenges:9", cause)

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "get", storageErr.Op)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, `store get "challenges:9" failed: connection refused`, err.Error())

	assert.Equal(t, "store ping failed: connection refused", wrapErr("ping", "", cause).Error())
	assert.Nil(t, wrapErr("set", "k", nil))
}
