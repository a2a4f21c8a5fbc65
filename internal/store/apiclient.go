package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"

	"github.com/fishroom/fishroom/internal/broker"
	"github.com/fishroom/fishroom/internal/model"
)

// ErrClientExists is returned by Add when the token id is already
// registered.
var ErrClientExists = errors.New("api client already registered")

// ErrUnauthorized is returned by Auth when the token id is not registered.
// A registered id with a wrong key yields (false, nil) instead.
var ErrUnauthorized = errors.New("unauthorized api client")

// maxBuffer bounds how many queued messages an idle api client accumulates
// before older ones are dropped, so a client that never polls cannot grow
// its queue without bound.
const maxBuffer = 15

// queueTTLSeconds matches spec.md's P:api:<token_id> TTL: an idle client's
// queue expires 60 seconds after the last message was enqueued to it.
const queueTTLSeconds = 60

// APIClientRegistry manages registered HTTP API clients: their token
// key (for auth), display name, and a bounded queue of messages routed to
// their channel while they are not actively long-polling.
type APIClientRegistry interface {
	Add(ctx context.Context, tokenID, tokenKey, name string) error
	Auth(ctx context.Context, tokenID, tokenKey string) (bool, error)
	Revoke(ctx context.Context, tokenID string) error
	Exists(ctx context.Context, tokenID string) (bool, error)
	Name(ctx context.Context, tokenID string) (string, bool, error)
	List(ctx context.Context) (map[string]string, error)
	Enqueue(ctx context.Context, tokenID string, m *model.Message) error
	Drain(ctx context.Context, tokenID string) ([]*model.Message, error)
	// Publish fans a routed message out to every registered client's
	// queue, exactly as the hub does for every message it routes
	// regardless of whether any client is actively long-polling.
	Publish(ctx context.Context, m *model.Message) error
}

// RedisAPIClientRegistry is a broker-backed APIClientRegistry.
type RedisAPIClientRegistry struct {
	client broker.Client
	prefix KeyPrefix
}

func NewRedisAPIClientRegistry(client broker.Client, prefix KeyPrefix) *RedisAPIClientRegistry {
	return &RedisAPIClientRegistry{client: client, prefix: prefix}
}

func hashTokenKey(tokenKey string) string {
	sum := sha1.Sum([]byte(tokenKey))
	return hex.EncodeToString(sum[:])
}

func (r *RedisAPIClientRegistry) Add(ctx context.Context, tokenID, tokenKey, name string) error {
	exists, err := r.client.HExists(ctx, r.prefix.clients(), tokenID)
	if err != nil {
		return err
	}
	if exists {
		return ErrClientExists
	}
	if err := r.client.HSet(ctx, r.prefix.clients(), tokenID, hashTokenKey(tokenKey)); err != nil {
		return err
	}
	return r.client.HSet(ctx, r.prefix.clientName(tokenID), "name", name)
}

func (r *RedisAPIClientRegistry) Auth(ctx context.Context, tokenID, tokenKey string) (bool, error) {
	stored, ok, err := r.client.HGet(ctx, r.prefix.clients(), tokenID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrUnauthorized
	}
	return stored == hashTokenKey(tokenKey), nil
}

// Revoke removes a registered client. It keys off the tokenID parameter
// passed to it, not any ambient/global state.
func (r *RedisAPIClientRegistry) Revoke(ctx context.Context, tokenID string) error {
	if err := r.client.HDel(ctx, r.prefix.clients(), tokenID); err != nil {
		return err
	}
	return r.client.Del(ctx, r.prefix.clientQueue(tokenID))
}

// Exists reports whether tokenID is currently registered. Like Revoke, it
// uses its own parameter rather than any shared/global token id.
func (r *RedisAPIClientRegistry) Exists(ctx context.Context, tokenID string) (bool, error) {
	return r.client.HExists(ctx, r.prefix.clients(), tokenID)
}

func (r *RedisAPIClientRegistry) Name(ctx context.Context, tokenID string) (string, bool, error) {
	return r.client.HGet(ctx, r.prefix.clientName(tokenID), "name")
}

func (r *RedisAPIClientRegistry) List(ctx context.Context) (map[string]string, error) {
	return r.client.HGetAll(ctx, r.prefix.clients())
}

func (r *RedisAPIClientRegistry) Enqueue(ctx context.Context, tokenID string, m *model.Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	key := r.prefix.clientQueue(tokenID)
	if _, err := r.client.RPush(ctx, key, string(data)); err != nil {
		return err
	}
	if err := r.client.LTrim(ctx, key, -maxBuffer, -1); err != nil {
		return err
	}
	return r.client.Expire(ctx, key, queueTTLSeconds)
}

// Publish fans m out to every registered client's queue. A per-client
// failure is logged by the caller (the hub) and does not stop delivery to
// the remaining clients -- one client's broker hiccup should not suppress
// fan-out to everyone else.
func (r *RedisAPIClientRegistry) Publish(ctx context.Context, m *model.Message) error {
	ids, err := r.List(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for tokenID := range ids {
		if err := r.Enqueue(ctx, tokenID, m); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *RedisAPIClientRegistry) Drain(ctx context.Context, tokenID string) ([]*model.Message, error) {
	key := r.prefix.clientQueue(tokenID)
	raw, err := r.client.LRange(ctx, key, 0, -1)
	if err != nil {
		return nil, err
	}
	if err := r.client.Del(ctx, key); err != nil {
		return nil, err
	}
	out := make([]*model.Message, 0, len(raw))
	for _, payload := range raw {
		out = append(out, model.Decode([]byte(payload)))
	}
	return out, nil
}
