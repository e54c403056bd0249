// Package ratelimit enforces a per-caller daily send limit with Redis
// counters keyed by caller IP and UTC day.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLimitExceeded is returned by Check when the caller has used its quota.
var ErrLimitExceeded = errors.New("daily send limit exceeded")

// Limiter counts sends per caller per UTC day.
type Limiter struct {
	client     *redis.Client
	dailyLimit int
	now        func() time.Time
}

// New creates a Limiter. A nil client or a non-positive limit disables it.
func New(client *redis.Client, dailyLimit int) *Limiter {
	return &Limiter{
		client:     client,
		dailyLimit: dailyLimit,
		now:        time.Now,
	}
}

// Enabled reports whether the limiter enforces anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.client != nil && l.dailyLimit > 0
}

// Check returns ErrLimitExceeded (wrapped with the counts) when callerIP
// has reached the daily limit. Redis failures are returned as other errors.
func (l *Limiter) Check(ctx context.Context, callerIP string) error {
	if !l.Enabled() {
		// No Redis client configured; skip rate limiting.
		return nil
	}

	count, err := l.client.Get(ctx, l.key(callerIP)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("check rate limit: %w", err)
	}

	if int(count) >= l.dailyLimit {
		return fmt.Errorf("%w (%d/%d)", ErrLimitExceeded, count, l.dailyLimit)
	}
	return nil
}

// Record increments callerIP's counter for today.
func (l *Limiter) Record(ctx context.Context, callerIP string) error {
	if !l.Enabled() {
		return nil
	}

	key := l.key(callerIP)

	pipe := l.client.Pipeline()
	pipe.Incr(ctx, key)
	// Expire at the end of the day plus a buffer for clock skew.
	pipe.Expire(ctx, key, l.untilEndOfDay()+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record send: %w", err)
	}
	return nil
}

// Count returns today's count for callerIP.
func (l *Limiter) Count(ctx context.Context, callerIP string) (int, error) {
	if !l.Enabled() {
		return 0, nil
	}
	count, err := l.client.Get(ctx, l.key(callerIP)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return count, err
}

func (l *Limiter) key(callerIP string) string {
	return fmt.Sprintf("ratelimit:dispatch:%s:%s", callerIP, l.now().UTC().Format("2006-01-02"))
}

func (l *Limiter) untilEndOfDay() time.Duration {
	now := l.now().UTC()
	year, month, day := now.Date()
	return time.Date(year, month, day+1, 0, 0, 0, 0, time.UTC).Sub(now)
}
