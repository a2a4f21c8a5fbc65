package store

import (
	"context"
	"time"

	"github.com/fishroom/fishroom/internal/broker"
	"github.com/fishroom/fishroom/internal/model"
)

// ChatLog appends every routed message to a per-room, per-day list, used by
// the deterministic text-overflow log-redirect URLs and by any external
// log viewer (itself out of scope here). Append returns the message's
// 0-based position in that day's list -- its msg_id -- which equals the
// list length before the push, so msg_id is stable and monotonically
// increasing per (room, date) with no separate counter needed.
type ChatLog interface {
	Append(ctx context.Context, room string, at time.Time, m *model.Message) (msgID int64, err error)
	Range(ctx context.Context, room, date string, from, to int64) ([]*model.Message, error)
}

// RedisChatLog is a broker-backed ChatLog.
type RedisChatLog struct {
	client broker.Client
	prefix KeyPrefix
}

func NewRedisChatLog(client broker.Client, prefix KeyPrefix) *RedisChatLog {
	return &RedisChatLog{client: client, prefix: prefix}
}

func (c *RedisChatLog) Append(ctx context.Context, room string, at time.Time, m *model.Message) (int64, error) {
	data, err := m.Encode()
	if err != nil {
		return 0, err
	}
	date := at.Format("2006-01-02")
	length, err := c.client.RPush(ctx, c.prefix.chatLog(room, date), string(data))
	if err != nil {
		return 0, err
	}
	return length - 1, nil
}

// Range returns the messages logged for room on date between list indices
// from and to inclusive (0-based, -1 meaning "to the end").
func (c *RedisChatLog) Range(ctx context.Context, room, date string, from, to int64) ([]*model.Message, error) {
	raw, err := c.client.LRange(ctx, c.prefix.chatLog(room, date), from, to)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Message, 0, len(raw))
	for _, payload := range raw {
		out = append(out, model.Decode([]byte(payload)))
	}
	return out, nil
}
