// Package store provides the key-value storage used for linking challenges.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or has expired
var ErrNotFound = errors.New("key not found")

// Store is a string key-value store with per-key expiry. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound
	Get(ctx context.Context, key string) (string, error)
	// Set overwrites key. A zero ttl means the key never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Ping reports whether the backend is reachable
	Ping(ctx context.Context) error
	Close() error
}

// StorageError reports a failed backend operation. Absence is never a StorageError.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func wrapErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Key: key, Err: err}
}
