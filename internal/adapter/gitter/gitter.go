// Package gitter implements a Gitter adapter: streaming GET against
// stream.gitter.im for receive, REST POST against api.gitter.im for send,
// grounded on the original bridge's gitter.py.
package gitter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fishroom/fishroom/internal/adapter"
	"github.com/fishroom/fishroom/internal/bus"
	"github.com/fishroom/fishroom/internal/model"
)

// Default Gitter endpoints; overridable for tests.
const (
	defaultAPIBase    = "https://api.gitter.im"
	defaultStreamBase = "https://stream.gitter.im"
)

type Adapter struct {
	token      string
	client     *http.Client
	ingress    *bus.Bus
	logger     *slog.Logger
	apiBase    string
	streamBase string
}

func New(token string, ingress *bus.Bus, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		token:      token,
		client:     &http.Client{Timeout: 0},
		ingress:    ingress,
		logger:     logger,
		apiBase:    defaultAPIBase,
		streamBase: defaultStreamBase,
	}
}

func (a *Adapter) Tag() model.ChannelType { return model.ChannelGitter }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{SupportMultiline: true, SupportPhoto: false}
}

type gitterMessage struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	FromUser struct {
		Username string `json:"username"`
	} `json:"fromUser"`
}

// ReceiveLoop streams nothing and returns nil at once. Gitter delivers one
// long-lived HTTP stream per room, so inbound messages come from StreamRoom,
// which the caller runs once for each bridged Gitter room id.
func (a *Adapter) ReceiveLoop(ctx context.Context) error {
	return nil
}

// StreamRoom streams one Gitter room's messages into the ingress bus until
// ctx is canceled, reconnecting with backoff on a dropped connection.
func (a *Adapter) StreamRoom(ctx context.Context, roomID string) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := a.streamOnce(ctx, roomID)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("gitter: stream disconnected, reconnecting", "room", roomID, "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (a *Adapter) streamOnce(ctx context.Context, roomID string) error {
	reqURL := fmt.Sprintf("%s/v1/rooms/%s/chatMessages", a.streamBase, roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gitter: stream status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue // keep-alive newline
		}
		var m gitterMessage
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		msg := model.New(model.ChannelGitter, roomID, m.FromUser.Username, m.Text)
		_ = a.ingress.Publish(ctx, msg)
	}
	return scanner.Err()
}

func (a *Adapter) SendText(ctx context.Context, room, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	reqURL := fmt.Sprintf("%s/v1/rooms/%s/chatMessages", a.apiBase, room)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("gitter: send status %d", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) SendPhoto(ctx context.Context, room, url, caption string) error {
	text := url
	if caption != "" {
		text = caption + " " + url
	}
	return a.SendText(ctx, room, text)
}
