package store

import (
	"context"
	"errors"
	"time"

	"github.com/parsascontentcorner/liro/internal/database"
)

// PostgresStore keeps values in the kv_entries table.
// Expired rows are hidden on read and purged by the database cleanup job.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore wraps an open, migrated database
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get implements Store
func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	entry, err := s.db.GetKV(ctx, key)
	if errors.Is(err, database.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", wrapErr("get", key, err)
	}
	return entry.Value, nil
}

// Set implements Store
func (s *PostgresStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrapErr("set", key, s.db.SetKV(ctx, key, value, ttl))
}

// Ping implements Store
func (s *PostgresStore) Ping(ctx context.Context) error {
	return wrapErr("ping", "", s.db.Health(ctx))
}

// Close is a no-op; the database is owned by the caller
func (s *PostgresStore) Close() error {
	return nil
}
