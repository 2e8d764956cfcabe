package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/liro/internal/config"
	"github.com/parsascontentcorner/liro/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	db, cleanup, err := testutil.SetupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	cfg := &config.Config{Store: config.StoreConfig{Backend: config.StoreBackendPostgres}}
	s, err := Open(ctx, cfg, db, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(ctx, "challenges:1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "challenges:1", "payload", time.Minute))
	value, err := s.Get(ctx, "challenges:1")
	require.NoError(t, err)
	assert.Equal(t, "payload", value)

	assert.NoError(t, s.Ping(ctx))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, &config.Config{Store: config.StoreConfig{Backend: config.StoreBackendMemory}}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(ctx, &config.Config{Store: config.StoreConfig{Backend: config.StoreBackendPostgres}}, nil, zap.NewNop())
	assert.Error(t, err)

	_, err = Open(ctx, &config.Config{Store: config.StoreConfig{Backend: "etcd"}}, nil, zap.NewNop())
	assert.Error(t, err)
}
