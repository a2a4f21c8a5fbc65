package bus

import (
	"context"
	"testing"
	"time"

	"github.com/fishroom/fishroom/internal/broker"
	"github.com/fishroom/fishroom/internal/model"
)

func TestBusPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := broker.NewMemory()
	in := New(mem, Ingress, "P", nil)

	sub, err := in.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	msg := model.New(model.ChannelTelegram, "room1", "alice", "hello")
	if err := in.Publish(ctx, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-sub:
		if got.Sender != "alice" || got.Content != "hello" {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestBusDirectionsDoNotCross(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := broker.NewMemory()
	in := New(mem, Ingress, "P", nil)
	out := New(mem, Egress, "P", nil)

	outSub, err := out.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := in.Publish(ctx, model.New(model.ChannelIRC, "room1", "bob", "hi")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-outSub:
		t.Fatal("egress bus should not see ingress publishes")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusSubscribeDecodesMalformedAsSentinel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := broker.NewMemory()
	b := New(mem, Ingress, "P", nil)

	sub, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := mem.Publish(ctx, "P:im_msg_channel", "not json"); err != nil {
		t.Fatalf("publish raw: %v", err)
	}

	select {
	case got := <-sub:
		if got.Content != "Error" {
			t.Fatalf("expected sentinel, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}
