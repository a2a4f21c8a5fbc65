package broker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the production Client backed by a real Redis server via
// go-redis/v9.
type Redis struct {
	rdb *redis.Client
}

// NewRedis builds a Client from a redis connection URL
// ("redis://host:port/db").
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Redis{rdb: redis.NewClient(opts)}, nil
}

func (r *Redis) HSet(ctx context.Context, key, field, value string) error {
	return r.rdb.HSet(ctx, key, field, value).Err()
}

func (r *Redis) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := r.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, key).Result()
}

func (r *Redis) HDel(ctx context.Context, key, field string) error {
	return r.rdb.HDel(ctx, key, field).Err()
}

func (r *Redis) HExists(ctx context.Context, key, field string) (bool, error) {
	return r.rdb.HExists(ctx, key, field).Result()
}

func (r *Redis) RPush(ctx context.Context, key string, value string) (int64, error) {
	return r.rdb.RPush(ctx, key, value).Result()
}

func (r *Redis) LTrim(ctx context.Context, key string, start, stop int64) error {
	return r.rdb.LTrim(ctx, key, start, stop).Err()
}

func (r *Redis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.rdb.LRange(ctx, key, start, stop).Result()
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.rdb.Set(ctx, key, value, 0).Err()
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Del(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

func (r *Redis) Expire(ctx context.Context, key string, seconds int64) error {
	return r.rdb.Expire(ctx, key, time.Duration(seconds)*time.Second).Err()
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.rdb.Incr(ctx, key).Result()
}

func (r *Redis) Publish(ctx context.Context, channel string, payload string) error {
	return r.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe reconnects with exponential backoff whenever the underlying
// pub/sub connection drops, so a transient Redis blip never silently kills
// an adapter's ingest loop.
func (r *Redis) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	out := make(chan string, 64)
	go func() {
		defer close(out)
		backoff := time.Second
		const maxBackoff = 30 * time.Second
		for {
			if ctx.Err() != nil {
				return
			}
			if err := r.subscribeOnce(ctx, channel, out); err != nil {
				if ctx.Err() != nil {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		}
	}()
	return out, nil
}

func (r *Redis) subscribeOnce(ctx context.Context, channel string, out chan<- string) error {
	sub := r.rdb.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
