// Package broker abstracts the key-value/list/pub-sub primitives fishroom
// needs from its backing store, so the bus and the stores can run against
// either a real Redis or an in-process fake in tests.
package broker

import "context"

// Client is the full set of primitives the rest of fishroom needs from its
// backing store. It intentionally stays narrow -- one method per Redis
// command actually used, rather than exposing a generic command runner.
type Client interface {
	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key, field string) error
	HExists(ctx context.Context, key, field string) (bool, error)

	// RPush appends value and returns the list's new length, which lets
	// the chat log derive a message id in the same call that records the
	// message.
	RPush(ctx context.Context, key string, value string) (int64, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, seconds int64) error

	Incr(ctx context.Context, key string) (int64, error)

	Publish(ctx context.Context, channel string, payload string) error
	// Subscribe delivers payloads published to channel on the returned
	// channel until ctx is canceled. The returned channel is closed when
	// the subscription ends.
	Subscribe(ctx context.Context, channel string) (<-chan string, error)

	Close() error
}
