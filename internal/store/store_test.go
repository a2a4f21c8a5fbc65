package store

import (
	"context"
	"testing"
	"time"

	"github.com/fishroom/fishroom/internal/broker"
	"github.com/fishroom/fishroom/internal/model"
)

func TestNickStore(t *testing.T) {
	ctx := context.Background()
	ns := NewRedisNickStore(broker.NewMemory(), "P")

	if _, ok, _ := ns.Get(ctx, "room1", "42"); ok {
		t.Fatal("expected no nick before Set")
	}
	if err := ns.Set(ctx, "room1", "42", TelegramSeedNick(42)); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := ns.Get(ctx, "room1", "42")
	if err != nil || !ok || got != "tg-42" {
		t.Fatalf("got %q ok=%v err=%v", got, ok, err)
	}
}

func TestStickerCacheDedup(t *testing.T) {
	ctx := context.Background()
	sc := NewRedisStickerCache(broker.NewMemory(), "P")

	if err := sc.Store(ctx, "abc123", "https://cdn/abc123.png"); err != nil {
		t.Fatalf("store: %v", err)
	}
	url, ok, err := sc.Lookup(ctx, "abc123")
	if err != nil || !ok || url != "https://cdn/abc123.png" {
		t.Fatalf("lookup got %q ok=%v err=%v", url, ok, err)
	}
}

func TestCounterIncr(t *testing.T) {
	ctx := context.Background()
	c := NewRedisCounter(broker.NewMemory(), "P")
	for i := int64(1); i <= 3; i++ {
		got, err := c.Incr(ctx, "room1")
		if err != nil || got != i {
			t.Fatalf("incr #%d = %d, err=%v", i, got, err)
		}
	}
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	ctx := context.Background()
	rl := NewRedisRateLimiter(broker.NewMemory(), "P")

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "room1", "pia", 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("expected allow on attempt %d, got ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := rl.Allow(ctx, "room1", "pia", 3, time.Minute)
	if err != nil || ok {
		t.Fatalf("expected block on 4th attempt, got ok=%v err=%v", ok, err)
	}
	// A different command in the same room has its own independent window.
	ok, err = rl.Allow(ctx, "room1", "other", 3, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected other command unaffected, got ok=%v err=%v", ok, err)
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	ctx := context.Background()
	rl := NewRedisRateLimiter(broker.NewMemory(), "P")
	at := time.Unix(1000, 0)
	rl.now = func() time.Time { return at }

	// Two triggers at t=0s and t=1s fill a limit-2 window.
	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "lounge", "pia", 2, 30*time.Second)
		if err != nil || !ok {
			t.Fatalf("expected allow #%d, got ok=%v err=%v", i, ok, err)
		}
		at = at.Add(time.Second)
	}

	// t=2s: still inside the window, denied -- and the denial records
	// nothing, so it cannot extend the lockout.
	if ok, _ := rl.Allow(ctx, "lounge", "pia", 2, 30*time.Second); ok {
		t.Fatal("expected denial inside window")
	}

	// t=40s: the oldest recorded trigger is now outside the window.
	at = time.Unix(1040, 0)
	if ok, err := rl.Allow(ctx, "lounge", "pia", 2, 30*time.Second); err != nil || !ok {
		t.Fatalf("expected allow after window passed, got ok=%v err=%v", ok, err)
	}
}

func TestAPIClientRegistryLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := NewRedisAPIClientRegistry(broker.NewMemory(), "P")

	if err := reg.Add(ctx, "tok1", "secret", "alice's bridge"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := reg.Add(ctx, "tok1", "secret", "dup"); err != ErrClientExists {
		t.Fatalf("expected ErrClientExists, got %v", err)
	}

	ok, err := reg.Auth(ctx, "tok1", "secret")
	if err != nil || !ok {
		t.Fatalf("auth failed: ok=%v err=%v", ok, err)
	}
	ok, err = reg.Auth(ctx, "tok1", "wrong")
	if err != nil || ok {
		t.Fatalf("expected auth failure, got ok=%v err=%v", ok, err)
	}

	name, ok, err := reg.Name(ctx, "tok1")
	if err != nil || !ok || name != "alice's bridge" {
		t.Fatalf("name = %q ok=%v err=%v", name, ok, err)
	}

	msg := model.New(model.ChannelAPI, "room1", "alice", "hi")
	if err := reg.Enqueue(ctx, "tok1", msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	drained, err := reg.Drain(ctx, "tok1")
	if err != nil || len(drained) != 1 || drained[0].Content != "hi" {
		t.Fatalf("drain = %+v err=%v", drained, err)
	}

	exists, err := reg.Exists(ctx, "tok1")
	if err != nil || !exists {
		t.Fatalf("expected exists, got %v err=%v", exists, err)
	}
	if err := reg.Revoke(ctx, "tok1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	exists, err = reg.Exists(ctx, "tok1")
	if err != nil || exists {
		t.Fatalf("expected revoked, got %v err=%v", exists, err)
	}
}

func TestAPIClientQueueBoundedByMaxBuffer(t *testing.T) {
	ctx := context.Background()
	reg := NewRedisAPIClientRegistry(broker.NewMemory(), "P")
	_ = reg.Add(ctx, "tok1", "secret", "bridge")

	for i := 0; i < maxBuffer+10; i++ {
		_ = reg.Enqueue(ctx, "tok1", model.New(model.ChannelAPI, "room1", "alice", "msg"))
	}
	drained, err := reg.Drain(ctx, "tok1")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(drained) != maxBuffer {
		t.Fatalf("expected queue bounded to %d, got %d", maxBuffer, len(drained))
	}
}

func TestChatLogAppend(t *testing.T) {
	ctx := context.Background()
	mem := broker.NewMemory()
	cl := NewRedisChatLog(mem, "P")

	at := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	msg := model.New(model.ChannelIRC, "room1", "bob", "hello")
	id, err := cl.Append(ctx, "room1", at, msg)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected first msg_id to be 0, got %d", id)
	}
	id2, err := cl.Append(ctx, "room1", at, msg)
	if err != nil || id2 != 1 {
		t.Fatalf("expected second msg_id to be 1, got %d err=%v", id2, err)
	}

	got, err := mem.LRange(ctx, KeyPrefix("P").chatLog("room1", "2026-07-29"), 0, -1)
	if err != nil || len(got) != 2 {
		t.Fatalf("log entries = %v err=%v", got, err)
	}
}
