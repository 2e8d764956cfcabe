package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/liro/internal/config"
	"github.com/parsascontentcorner/liro/internal/database"
)

// Open builds the backend selected by cfg.Store.Backend.
// db is only used by the postgres backend and may be nil otherwise.
func Open(ctx context.Context, cfg *config.Config, db *database.DB, logger *zap.Logger) (Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendRedis:
		return NewRedisStore(ctx, &cfg.Redis, logger)
	case config.StoreBackendPostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres store backend requires a database connection")
		}
		return NewPostgresStore(db), nil
	case config.StoreBackendMemory:
		logger.Warn("using in-memory store; challenges are lost on restart")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
