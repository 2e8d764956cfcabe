package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/liro/internal/config"
	"github.com/parsascontentcorner/liro/internal/testutil"
)

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	addr, cleanup, err := testutil.SetupTestRedis(ctx)
	require.NoError(t, err)
	defer cleanup()

	s, err := NewRedisStore(ctx, &config.RedisConfig{Addr: addr, KeyPrefix: "liro:"}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "challenges:missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set get with prefix and ttl", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "challenges:1", `{"id":1}`, time.Minute))

		value, err := s.Get(ctx, "challenges:1")
		require.NoError(t, err)
		assert.Equal(t, `{"id":1}`, value)

		raw := redis.NewClient(&redis.Options{Addr: addr})
		defer raw.Close()

		ttl, err := raw.TTL(ctx, "liro:challenges:1").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, 50*time.Second)
	})

	t.Run("expiry", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "challenges:short", "x", time.Second))
		assert.Eventually(t, func() bool {
			_, err := s.Get(ctx, "challenges:short")
			return err == ErrNotFound
		}, 5*time.Second, 100*time.Millisecond)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}

func TestRedisStore_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisStore(ctx, &config.RedisConfig{Addr: "127.0.0.1:1"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	s := NewRedisStoreWithClient(client, "", zap.NewNop())
	defer s.Close()

	_, err = s.Get(ctx, "challenges:1")
	var storageErr *StorageError
	assert.ErrorAs(t, err, &storageErr)
	assert.NotErrorIs(t, err, ErrNotFound)
}
