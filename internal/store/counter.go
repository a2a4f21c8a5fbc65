package store

import (
	"context"

	"github.com/fishroom/fishroom/internal/broker"
)

// Counter is a named monotonic counter; mediastore.Redis uses it to name
// uploaded blobs uniquely. Chat-log message ids do not come from it (see
// ChatLog.Append).
type Counter interface {
	Incr(ctx context.Context, room string) (int64, error)
}

// RedisCounter is a broker-backed Counter.
type RedisCounter struct {
	client broker.Client
	prefix KeyPrefix
}

func NewRedisCounter(client broker.Client, prefix KeyPrefix) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

func (c *RedisCounter) Incr(ctx context.Context, room string) (int64, error) {
	return c.client.Incr(ctx, c.prefix.counter(room))
}
