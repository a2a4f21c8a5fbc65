// Package webapi exposes fishroom's HTTP API and browser-facing surface:
// long-poll message retrieval/posting for registered API clients, a
// token-free browser post endpoint, and a websocket that mirrors one
// room's egress traffic live. Websocket framing via coder/websocket +
// wsjson, bearer/header auth pattern generalized from RPC-style request
// auth to fishroom's message send/receive surface.
package webapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/fishroom/fishroom/internal/adapter"
	"github.com/fishroom/fishroom/internal/bus"
	"github.com/fishroom/fishroom/internal/model"
	"github.com/fishroom/fishroom/internal/store"
)

// longPollWait is how long an empty GET /api/messages blocks before
// returning an empty batch.
const longPollWait = 10 * time.Second

// pollInterval is how often a blocked long-poll re-checks the client's
// queue.
const pollInterval = 500 * time.Millisecond

// nicknameRe is the minimal sanity check applied to browser-supplied
// nicknames: must start with a word character.
var nicknameRe = regexp.MustCompile(`^\w`)

type Adapter struct {
	ingress      *bus.Bus
	egress       *bus.Bus
	clients      store.APIClientRegistry
	allowOrigins []string
	logger       *slog.Logger
}

func New(ingress, egress *bus.Bus, clients store.APIClientRegistry, allowOrigins []string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{ingress: ingress, egress: egress, clients: clients, allowOrigins: allowOrigins, logger: logger}
}

func (a *Adapter) Tag() model.ChannelType { return model.ChannelWeb }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{SupportMultiline: true, SupportPhoto: false}
}

// ReceiveLoop has nothing to drive directly: inbound traffic arrives
// through Handler's POST endpoints, and outbound traffic is pushed to
// websocket clients by handleWS itself, which runs for the life of each
// websocket connection.
func (a *Adapter) ReceiveLoop(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// SendText is unused: the API surface has no single destination client to
// push a server-initiated send to outside of the per-room queue, which the
// hub's API-client fan-out fills.
func (a *Adapter) SendText(_ context.Context, _, _ string) error { return nil }

func (a *Adapter) SendPhoto(_ context.Context, _, _, _ string) error { return nil }

// Handler returns the mux the supervisor mounts for the web API.
func (a *Adapter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages", a.handleAPIMessagesGet)
	mux.HandleFunc("/api/messages/", a.handleAPIMessagesPost)
	mux.HandleFunc("/messages/", a.handleWebMessagesPost)
	mux.HandleFunc("/ws/", a.handleWS)
	return mux
}

// extractToken pulls the API client credentials off a request: the
// X-TOKEN-ID / X-TOKEN-KEY headers, the id/key query parameters (the
// long-poll GET's form), or an "Authorization: Bearer id:key" header.
func (a *Adapter) extractToken(r *http.Request) (id, key string, ok bool) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		raw := strings.TrimPrefix(auth, "Bearer ")
		parts := strings.SplitN(raw, ":", 2)
		if len(parts) == 2 {
			return parts[0], parts[1], true
		}
	}
	id = r.Header.Get("X-TOKEN-ID")
	key = r.Header.Get("X-TOKEN-KEY")
	if id != "" && key != "" {
		return id, key, true
	}
	id = r.URL.Query().Get("id")
	key = r.URL.Query().Get("key")
	return id, key, id != "" && key != ""
}

// authorize checks the request's token against the client registry. An auth
// failure is returned to the caller as 403 and is never logged as an error.
func (a *Adapter) authorize(ctx context.Context, r *http.Request) (string, bool) {
	id, key, ok := a.extractToken(r)
	if !ok {
		return "", false
	}
	authed, err := a.clients.Auth(ctx, id, key)
	if err != nil || !authed {
		return "", false
	}
	return id, true
}

// handleAPIMessagesGet is the long-poll retrieval endpoint: it drains the
// client's queue immediately when it has messages, otherwise blocks up to
// longPollWait before returning an empty batch. An optional ?room= filter
// narrows the result to one logical room.
func (a *Adapter) handleAPIMessagesGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tokenID, ok := a.authorize(r.Context(), r)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	msgs, err := a.drainWait(r.Context(), tokenID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if room := r.URL.Query().Get("room"); room != "" {
		filtered := msgs[:0]
		for _, m := range msgs {
			if m.Room == room {
				filtered = append(filtered, m)
			}
		}
		msgs = filtered
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": msgs})
}

func (a *Adapter) drainWait(ctx context.Context, tokenID string) ([]*model.Message, error) {
	deadline := time.Now().Add(longPollWait)
	for {
		msgs, err := a.clients.Drain(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		if !time.Now().Add(pollInterval).Before(deadline) {
			return []*model.Message{}, nil
		}
		select {
		case <-ctx.Done():
			return []*model.Message{}, nil
		case <-time.After(pollInterval):
		}
	}
}

// handleAPIMessagesPost injects a message from a registered API client into
// the ingress bus, tagged channel "api-<client name>" and pre-bound to the
// room named in the URL -- the hub looks the binding up by room name for
// these instead of matching a (channel, receiver) pair.
func (a *Adapter) handleAPIMessagesPost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tokenID, ok := a.authorize(r.Context(), r)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	room := roomFromPath(r.URL.Path)
	if room == "" {
		http.Error(w, "room required", http.StatusBadRequest)
		return
	}
	var body struct {
		Sender  string `json:"sender"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Content == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	name, found, err := a.clients.Name(r.Context(), tokenID)
	if err != nil || !found || name == "" {
		name = tokenID
	}
	sender := body.Sender
	if sender == "" {
		sender = name
	}

	msg := model.New(model.ChannelType(fmt.Sprintf("api-%s", name)), room, sender, body.Content)
	msg.Room = room
	a.publish(w, r, msg)
}

// handleWebMessagesPost is the browser surface: no token, a nickname
// instead of a registered sender, channel "web". Rate limiting is up to
// higher layers (a reverse proxy or the command rate limiter).
func (a *Adapter) handleWebMessagesPost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	room := roomFromPath(r.URL.Path)
	if room == "" {
		http.Error(w, "room required", http.StatusBadRequest)
		return
	}
	var body struct {
		Nickname string `json:"nickname"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Content == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !nicknameRe.MatchString(body.Nickname) {
		http.Error(w, "invalid nickname", http.StatusBadRequest)
		return
	}

	msg := model.New(model.ChannelWeb, room, body.Nickname, body.Content)
	msg.Room = room
	a.publish(w, r, msg)
}

func (a *Adapter) publish(w http.ResponseWriter, r *http.Request, msg *model.Message) {
	if err := a.ingress.Publish(r.Context(), msg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

// roomFromPath extracts the room segment from "/api/messages/<room>/" or
// "/messages/<room>/".
func roomFromPath(path string) string {
	path = strings.TrimPrefix(path, "/api/messages/")
	path = strings.TrimPrefix(path, "/messages/")
	return strings.Trim(path, "/")
}

func (a *Adapter) handleWS(w http.ResponseWriter, r *http.Request) {
	room := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/"), "/")
	if room == "" {
		http.Error(w, "room required", http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: a.allowOrigins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	sub, err := a.egress.Subscribe(r.Context())
	if err != nil {
		a.logger.Error("webapi: egress subscribe failed", "error", err)
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			if msg.Room != room {
				continue
			}
			if err := wsjson.Write(r.Context(), conn, msg); err != nil {
				return
			}
		}
	}
}
