package store

import (
	"context"
	"strconv"
	"time"

	"github.com/fishroom/fishroom/internal/broker"
)

// RateLimiter throttles how many times a command may run in a room within
// a rolling window, per spec.md's per-(room,cmd) rate-limit record.
type RateLimiter interface {
	// Allow reports whether another trigger fits inside the window and
	// records it if so. A denied call records nothing, so a burst of
	// denied invocations cannot extend the lockout.
	Allow(ctx context.Context, room, cmd string, limit int, window time.Duration) (bool, error)
}

// RedisRateLimiter keeps a list of recent trigger timestamps per
// (room, cmd): on each check the list is trimmed to the last limit
// entries and the oldest survivor is compared against now minus the
// window. The clock is injectable for tests.
type RedisRateLimiter struct {
	client broker.Client
	prefix KeyPrefix
	now    func() time.Time
}

func NewRedisRateLimiter(client broker.Client, prefix KeyPrefix) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, room, cmd string, limit int, window time.Duration) (bool, error) {
	key := l.prefix.rateBucket(room, cmd)
	if err := l.client.LTrim(ctx, key, -int64(limit), -1); err != nil {
		return false, err
	}
	entries, err := l.client.LRange(ctx, key, 0, -1)
	if err != nil {
		return false, err
	}

	now := l.now().Unix()
	if limit > 0 && len(entries) >= limit {
		oldest, err := strconv.ParseInt(entries[0], 10, 64)
		if err == nil && now-oldest <= int64(window.Seconds()) {
			return false, nil
		}
	}

	if _, err := l.client.RPush(ctx, key, strconv.FormatInt(now, 10)); err != nil {
		return false, err
	}
	return true, nil
}
