// Package ratelimit tracks per-route request budgets for the Discord and Lichess REST clients.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Bucket holds the budget for one route
type Bucket struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
	limiter   *rate.Limiter
	mu        sync.Mutex
}

// Limiter manages route buckets. Routes are opaque keys chosen by the caller,
// typically "METHOD /path/with/{placeholders}".
type Limiter struct {
	buckets      map[string]*Bucket
	mu           sync.RWMutex
	defaultEvery time.Duration
	defaultBurst int
	logger       *zap.Logger
}

// NewLimiter creates a limiter whose fresh buckets allow burst requests, refilling one every interval
func NewLimiter(every time.Duration, burst int, logger *zap.Logger) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets:      make(map[string]*Bucket),
		defaultEvery: every,
		defaultBurst: burst,
		logger:       logger,
	}
}

// NewDiscordLimiter matches Discord's global limit of 50 requests per second
func NewDiscordLimiter(logger *zap.Logger) *Limiter {
	return NewLimiter(20*time.Millisecond, 5, logger)
}

// NewLichessLimiter keeps a single request in flight per route, as Lichess asks of API clients
func NewLichessLimiter(logger *zap.Logger) *Limiter {
	return NewLimiter(time.Second, 1, logger)
}

func (l *Limiter) getBucket(route string) *Bucket {
	l.mu.RLock()
	bucket, ok := l.buckets[route]
	l.mu.RUnlock()
	if ok {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if bucket, ok := l.buckets[route]; ok {
		return bucket
	}

	bucket = &Bucket{
		Remaining: l.defaultBurst,
		Limit:     l.defaultBurst,
		limiter:   rate.NewLimiter(rate.Every(l.defaultEvery), l.defaultBurst),
	}
	l.buckets[route] = bucket
	return bucket
}

// Wait blocks until a request on route is allowed or ctx is done
func (l *Limiter) Wait(ctx context.Context, route string) error {
	bucket := l.getBucket(route)

	bucket.mu.Lock()
	exhausted := bucket.Remaining <= 0 && time.Now().Before(bucket.ResetAt)
	waitDuration := time.Until(bucket.ResetAt)
	limiter := bucket.limiter
	bucket.mu.Unlock()

	if exhausted {
		l.logger.Warn("rate limit exhausted, waiting",
			zap.String("route", route),
			zap.Duration("wait_duration", waitDuration),
		)

		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limiter wait cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	return nil
}

// UpdateFromHeaders refreshes a bucket from X-RateLimit-* response headers.
// Reset-After (seconds, fractional) wins over the absolute Reset timestamp.
func (l *Limiter) UpdateFromHeaders(route string, headers http.Header) {
	bucket := l.getBucket(route)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	if val, err := strconv.Atoi(headers.Get("X-RateLimit-Remaining")); err == nil {
		bucket.Remaining = val
	}
	if val, err := strconv.Atoi(headers.Get("X-RateLimit-Limit")); err == nil && val > 0 {
		bucket.Limit = val
	}

	if secs, err := strconv.ParseFloat(headers.Get("X-RateLimit-Reset-After"), 64); err == nil {
		bucket.ResetAt = time.Now().Add(time.Duration(secs * float64(time.Second)))
	} else if epoch, err := strconv.ParseFloat(headers.Get("X-RateLimit-Reset"), 64); err == nil {
		bucket.ResetAt = time.Unix(0, int64(epoch*float64(time.Second)))
	}

	if window := time.Until(bucket.ResetAt); window > 0 && bucket.Limit > 0 {
		bucket.limiter = rate.NewLimiter(rate.Limit(float64(bucket.Limit)/window.Seconds()), bucket.Limit)
	}

	l.logger.Debug("updated rate limit from headers",
		zap.String("route", route),
		zap.Int("remaining", bucket.Remaining),
		zap.Int("limit", bucket.Limit),
		zap.Time("reset_at", bucket.ResetAt),
	)
}

// HandleRateLimitResponse marks the bucket exhausted after a 429 and returns the retry delay.
// Without usable headers it falls back to fallback.
func (l *Limiter) HandleRateLimitResponse(route string, headers http.Header, fallback time.Duration) time.Duration {
	var retryAfter time.Duration
	if secs, err := strconv.ParseFloat(headers.Get("Retry-After"), 64); err == nil {
		retryAfter = time.Duration(secs * float64(time.Second))
	}
	if retryAfter <= 0 {
		retryAfter = fallback
	}
	if retryAfter <= 0 {
		retryAfter = time.Second
	}

	bucket := l.getBucket(route)
	bucket.mu.Lock()
	bucket.Remaining = 0
	bucket.ResetAt = time.Now().Add(retryAfter)
	bucket.mu.Unlock()

	l.logger.Warn("rate limited by upstream API",
		zap.String("route", route),
		zap.Duration("retry_after", retryAfter),
	)

	return retryAfter
}

// Status returns the current budget for a route
func (l *Limiter) Status(route string) (remaining int, limit int, resetAt time.Time) {
	bucket := l.getBucket(route)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	return bucket.Remaining, bucket.Limit, bucket.ResetAt
}

// Reset clears all buckets
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buckets = make(map[string]*Bucket)
}
