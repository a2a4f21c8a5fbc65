// Package bus implements the two direction-bound message buses described by
// the routing design: one carrying messages inbound from adapters toward
// the hub, one carrying messages outbound from the hub back to adapters.
// Both are thin wrappers over a broker.Client pub/sub channel, adapted from
// the in-process Subscribe/Publish shape of an earlier revision of this
// codebase's event bus, now backed by Redis so multiple adapter processes
// can share one hub.
package bus

import (
	"context"
	"log/slog"

	"github.com/fishroom/fishroom/internal/broker"
	"github.com/fishroom/fishroom/internal/model"
)

// Direction selects which of the two logical channels a Bus binds to.
type Direction string

const (
	// Ingress carries messages from adapters into the hub.
	Ingress Direction = "ingress"
	// Egress carries messages from the hub out to adapters.
	Egress Direction = "egress"
)

// Bus publishes and subscribes Messages on one direction of the pipeline.
type Bus struct {
	direction Direction
	channel   string
	client    broker.Client
	logger    *slog.Logger
}

// New builds a Bus bound to the given direction. channelPrefix is typically
// the configured Redis key prefix (e.g. "P"); the resulting pub/sub channel
// name is "<prefix>:im_msg_channel" for Ingress and
// "<prefix>:fish_msg_channel" for Egress, matching the broker key table.
func New(client broker.Client, direction Direction, channelPrefix string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	name := channelPrefix + ":im_msg_channel"
	if direction == Egress {
		name = channelPrefix + ":fish_msg_channel"
	}
	return &Bus{direction: direction, channel: name, client: client, logger: logger}
}

// Publish encodes and publishes a Message on this bus's channel.
func (b *Bus) Publish(ctx context.Context, m *model.Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, string(data))
}

// Subscribe returns a channel of decoded Messages. A payload that fails to
// decode is delivered as model.Errored() rather than dropped silently or
// terminating the stream, so a malformed publish from one buggy adapter
// cannot take down every other consumer.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *model.Message, error) {
	raw, err := b.client.Subscribe(ctx, b.channel)
	if err != nil {
		return nil, err
	}
	out := make(chan *model.Message, 64)
	go func() {
		defer close(out)
		for payload := range raw {
			msg := model.Decode([]byte(payload))
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
