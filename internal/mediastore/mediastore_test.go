package mediastore

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fishroom/fishroom/internal/broker"
	"github.com/fishroom/fishroom/internal/store"
)

func TestRedisUploadAndServeRoundTrip(t *testing.T) {
	mem := broker.NewMemory()
	counter := store.NewRedisCounter(mem, "P")
	s := NewRedis(mem, counter, "P", "https://fish.example")

	ctx := context.Background()
	url, err := s.Upload(ctx, "sticker-abc", strings.NewReader("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(url, "https://fish.example/media/") {
		t.Fatalf("got url %q", url)
	}

	path := strings.TrimPrefix(url, "https://fish.example")
	req := httptest.NewRequest("GET", path, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("got status %d", rr.Code)
	}
	if rr.Body.String() != "png-bytes" {
		t.Fatalf("got body %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("got content type %q", ct)
	}
}

func TestRedisUploadNamesBlobsUniquely(t *testing.T) {
	mem := broker.NewMemory()
	counter := store.NewRedisCounter(mem, "P")
	s := NewRedis(mem, counter, "P", "https://fish.example")

	ctx := context.Background()
	u1, err := s.Upload(ctx, "x", strings.NewReader("a"), "image/png")
	if err != nil {
		t.Fatal(err)
	}
	u2, err := s.Upload(ctx, "x", strings.NewReader("b"), "image/png")
	if err != nil {
		t.Fatal(err)
	}
	if u1 == u2 {
		t.Fatalf("expected distinct urls for same name, got %q twice", u1)
	}
}

func TestHandlerUnknownIDIs404(t *testing.T) {
	mem := broker.NewMemory()
	s := NewRedis(mem, store.NewRedisCounter(mem, "P"), "P", "https://fish.example")
	req := httptest.NewRequest("GET", "/media/nope", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != 404 {
		t.Fatalf("got status %d", rr.Code)
	}
}

func TestNullDeclines(t *testing.T) {
	url, err := Null{}.Upload(context.Background(), "x", strings.NewReader("a"), "image/png")
	if err != nil || url != "" {
		t.Fatalf("got url=%q err=%v", url, err)
	}
}
