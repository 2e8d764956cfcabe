package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/liro/internal/config"
)

func TestNewDB_Success(t *testing.T) {
	ctx := context.Background()

	pgContainer, cfg, err := startPostgres(ctx)
	require.NoError(t, err)
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	db, err := NewDB(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, db)
	defer db.Close()

	assert.NoError(t, db.PingContext(ctx))
	assert.NoError(t, db.Health(ctx))
}

func TestNewDB_InvalidHost(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:         "invalid-host-that-does-not-exist",
		Port:         "5432",
		User:         "testuser",
		Password:     "testpass",
		Name:         "testdb",
		SSLMode:      "disable",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := NewDB(cfg, zap.NewNop())

	assert.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "failed to ping database")
}

func TestDBHealth_ClosedConnection(t *testing.T) {
	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	// Closing the underlying pool directly keeps the cleanup's Close harmless
	require.NoError(t, db.DB.Close())

	err = db.Health(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database health check failed")
}

func TestRunMigrations_CreatesTables(t *testing.T) {
	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	for _, table := range []string{"linked_accounts", "kv_entries", "schema_migrations"} {
		var exists bool
		err := db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	defer cleanup()

	// setupTestDB already migrated once
	assert.NoError(t, db.RunMigrations())
	assert.NoError(t, db.RunMigrations())
}
