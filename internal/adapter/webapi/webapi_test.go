package webapi

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fishroom/fishroom/internal/broker"
	"github.com/fishroom/fishroom/internal/bus"
	"github.com/fishroom/fishroom/internal/model"
	"github.com/fishroom/fishroom/internal/store"
)

func newTestAdapter(t *testing.T) (*Adapter, store.APIClientRegistry) {
	t.Helper()
	mem := broker.NewMemory()
	ingress := bus.New(mem, bus.Ingress, "P", nil)
	egress := bus.New(mem, bus.Egress, "P", nil)
	clients := store.NewRedisAPIClientRegistry(mem, store.KeyPrefix("P"))
	ctx := context.Background()
	if err := clients.Add(ctx, "client1", "secret", "bridge-bot"); err != nil {
		t.Fatal(err)
	}
	return New(ingress, egress, clients, nil, nil), clients
}

func TestAPIMessagesGetRejectsMissingToken(t *testing.T) {
	a, _ := newTestAdapter(t)
	req := httptest.NewRequest("GET", "/api/messages", nil)
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	if rr.Code != 403 {
		t.Fatalf("got status %d", rr.Code)
	}
}

func TestAPIMessagesGetReturnsQueuedMessages(t *testing.T) {
	a, clients := newTestAdapter(t)
	ctx := context.Background()

	queued := model.New(model.ChannelIRC, "#l", "alice", "hi")
	queued.Room = "lounge"
	if err := clients.Enqueue(ctx, "client1", queued); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/api/messages?id=client1&key=secret", nil)
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("got status %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"content":"hi"`) {
		t.Fatalf("expected queued message in response, got %s", rr.Body.String())
	}
}

func TestAPIMessagesGetRoomFilter(t *testing.T) {
	a, clients := newTestAdapter(t)
	ctx := context.Background()

	for _, room := range []string{"lounge", "dev"} {
		m := model.New(model.ChannelIRC, "#"+room, "alice", "in "+room)
		m.Room = room
		if err := clients.Enqueue(ctx, "client1", m); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest("GET", "/api/messages?id=client1&key=secret&room=dev", nil)
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)

	body := rr.Body.String()
	if strings.Contains(body, "in lounge") || !strings.Contains(body, "in dev") {
		t.Fatalf("expected only dev-room messages, got %s", body)
	}
}

func TestAPIMessagesPostPublishesToIngress(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := a.ingress.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("POST", "/api/messages/lounge/", strings.NewReader(`{"sender":"alice","content":"hi"}`))
	req.Header.Set("X-TOKEN-ID", "client1")
	req.Header.Set("X-TOKEN-KEY", "secret")
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("got status %d", rr.Code)
	}
	msg := <-sub
	if msg.Room != "lounge" || msg.Sender != "alice" {
		t.Fatalf("got %+v", msg)
	}
	if msg.Channel != "api-bridge-bot" {
		t.Fatalf("expected channel tagged with the client name, got %q", msg.Channel)
	}
}

func TestAPIMessagesPostRejectsBadAuth(t *testing.T) {
	a, _ := newTestAdapter(t)
	req := httptest.NewRequest("POST", "/api/messages/lounge/", strings.NewReader(`{"sender":"alice","content":"hi"}`))
	req.Header.Set("X-TOKEN-ID", "client1")
	req.Header.Set("X-TOKEN-KEY", "wrong")
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	if rr.Code != 403 {
		t.Fatalf("got status %d", rr.Code)
	}
}

func TestAPIMessagesPostRejectsEmptyContent(t *testing.T) {
	a, _ := newTestAdapter(t)
	req := httptest.NewRequest("POST", "/api/messages/lounge/", strings.NewReader(`{"sender":"alice","content":""}`))
	req.Header.Set("X-TOKEN-ID", "client1")
	req.Header.Set("X-TOKEN-KEY", "secret")
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	if rr.Code != 400 {
		t.Fatalf("got status %d", rr.Code)
	}
}

func TestWebMessagesPostNeedsNoToken(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := a.ingress.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("POST", "/messages/lounge/", strings.NewReader(`{"nickname":"alice","content":"hi"}`))
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("got status %d", rr.Code)
	}
	msg := <-sub
	if msg.Channel != model.ChannelWeb || msg.Room != "lounge" || msg.Sender != "alice" {
		t.Fatalf("got %+v", msg)
	}
}

func TestWebMessagesPostRejectsBadNickname(t *testing.T) {
	a, _ := newTestAdapter(t)
	req := httptest.NewRequest("POST", "/messages/lounge/", strings.NewReader(`{"nickname":"<script>","content":"hi"}`))
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	if rr.Code != 400 {
		t.Fatalf("got status %d", rr.Code)
	}
}

func TestRoomFromPath(t *testing.T) {
	if got := roomFromPath("/api/messages/room1/"); got != "room1" {
		t.Fatalf("got %q", got)
	}
	if got := roomFromPath("/messages/room2/"); got != "room2" {
		t.Fatalf("got %q", got)
	}
}
