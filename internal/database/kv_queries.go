package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/liro/internal/models"
)

// ErrKeyNotFound is returned when a key is absent or expired
var ErrKeyNotFound = errors.New("key not found")

// GetKV retrieves a live entry from the key-value table
func (db *DB) GetKV(ctx context.Context, key string) (*models.KVEntry, error) {
	query := `
		SELECT key, value, expires_at
		FROM kv_entries
		WHERE key = $1
	`

	entry := &models.KVEntry{}
	err := db.QueryRowContext(ctx, query, key).Scan(&entry.Key, &entry.Value, &entry.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv entry: %w", err)
	}

	// The cleanup job is periodic, so an expired row may still be present
	if entry.IsExpired() {
		return nil, ErrKeyNotFound
	}

	return entry, nil
}

// SetKV creates or overwrites an entry. A zero ttl stores the entry without expiry.
func (db *DB) SetKV(ctx context.Context, key, value string, ttl time.Duration) error {
	query := `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`

	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: time.Now().Add(ttl), Valid: true}
	}

	if _, err := db.ExecContext(ctx, query, key, value, expiresAt); err != nil {
		return fmt.Errorf("failed to set kv entry: %w", err)
	}

	return nil
}

// CleanupExpiredKV deletes expired key-value entries and returns how many were removed
func (db *DB) CleanupExpiredKV(ctx context.Context) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired kv entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// StartCleanupJob starts a background job to periodically remove expired entries
func (db *DB) StartCleanupJob(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				removed, err := db.CleanupExpiredKV(ctx)
				if err != nil {
					db.logger.Error("failed to cleanup expired kv entries", zap.Error(err))
					continue
				}
				if removed > 0 {
					db.logger.Debug("cleaned up expired kv entries", zap.Int64("removed", removed))
				}
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()

	db.logger.Info("started cleanup job", zap.Duration("interval", interval))
}
