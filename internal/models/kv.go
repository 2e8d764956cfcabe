package models

import (
	"database/sql"
	"time"
)

// KVEntry is one row of the Postgres-backed key-value store
type KVEntry struct {
	Key       string       `json:"key"`
	Value     string       `json:"value"`
	ExpiresAt sql.NullTime `json:"expires_at"`
}

// IsExpired checks if the entry carries an expiry that has passed
func (e *KVEntry) IsExpired() bool {
	return e.ExpiresAt.Valid && time.Now().After(e.ExpiresAt.Time)
}
