package store

import (
	"context"
	"fmt"

	"github.com/fishroom/fishroom/internal/broker"
)

// NickStore maps a protocol-specific sender id to a display nickname,
// scoped per room. Adapters that have a native per-message display name
// (e.g. Telegram) seed this on first contact so later messages without a
// name still render one.
type NickStore interface {
	Get(ctx context.Context, room, senderID string) (string, bool, error)
	Set(ctx context.Context, room, senderID, nick string) error
}

// RedisNickStore is a broker-backed NickStore.
type RedisNickStore struct {
	client broker.Client
	prefix KeyPrefix
}

func NewRedisNickStore(client broker.Client, prefix KeyPrefix) *RedisNickStore {
	return &RedisNickStore{client: client, prefix: prefix}
}

func (s *RedisNickStore) Get(ctx context.Context, room, senderID string) (string, bool, error) {
	return s.client.HGet(ctx, s.prefix.nick(room), senderID)
}

func (s *RedisNickStore) Set(ctx context.Context, room, senderID, nick string) error {
	return s.client.HSet(ctx, s.prefix.nick(room), senderID, nick)
}

// TelegramSeedNick is the default nickname assigned to a Telegram user with
// no username, so every later message from them still has something to
// display instead of an empty string.
func TelegramSeedNick(userID int64) string {
	return fmt.Sprintf("tg-%d", userID)
}
