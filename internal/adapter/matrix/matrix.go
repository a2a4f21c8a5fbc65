// Package matrix implements a Matrix adapter against the plain
// Client-Server REST API (/sync long-poll for receive, /send for egress).
// The original bridge's matrix.py already talked to Matrix through a thin
// REST wrapper rather than a bridge framework, so this package follows that
// shape directly on net/http instead of adopting a full homeserver-side
// bridge framework, which assumes an application-service deployment
// fishroom does not run.
package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fishroom/fishroom/internal/adapter"
	"github.com/fishroom/fishroom/internal/bus"
	"github.com/fishroom/fishroom/internal/model"
)

type Adapter struct {
	homeServer  string
	accessToken string
	userID      string
	client      *http.Client
	ingress     *bus.Bus
	logger      *slog.Logger
}

func New(homeServer, accessToken, userID string, ingress *bus.Bus, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		homeServer:  homeServer,
		accessToken: accessToken,
		userID:      userID,
		client:      &http.Client{Timeout: 60 * time.Second},
		ingress:     ingress,
		logger:      logger,
	}
}

func (a *Adapter) Tag() model.ChannelType { return model.ChannelMatrix }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{SupportMultiline: true, SupportPhoto: true}
}

type syncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     struct {
		Join map[string]struct {
			Timeline struct {
				Events []roomEvent `json:"events"`
			} `json:"timeline"`
		} `json:"join"`
	} `json:"rooms"`
}

type roomEvent struct {
	Type    string `json:"type"`
	Sender  string `json:"sender"`
	Content struct {
		MsgType string `json:"msgtype"`
		Body    string `json:"body"`
		URL     string `json:"url"`
	} `json:"content"`
}

func (a *Adapter) ReceiveLoop(ctx context.Context) error {
	since := ""
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		next, err := a.syncOnce(ctx, since)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("matrix: sync failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		since = next
	}
}

func (a *Adapter) syncOnce(ctx context.Context, since string) (string, error) {
	q := url.Values{}
	q.Set("access_token", a.accessToken)
	q.Set("timeout", "30000")
	if since != "" {
		q.Set("since", since)
	}
	reqURL := fmt.Sprintf("%s/_matrix/client/r0/sync?%s", a.homeServer, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return since, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return since, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return since, fmt.Errorf("matrix: sync status %d: %s", resp.StatusCode, string(body))
	}

	var sr syncResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return since, err
	}
	for roomID, room := range sr.Rooms.Join {
		for _, ev := range room.Timeline.Events {
			a.handleEvent(ctx, roomID, ev)
		}
	}
	return sr.NextBatch, nil
}

func (a *Adapter) handleEvent(ctx context.Context, roomID string, ev roomEvent) {
	if ev.Type != "m.room.message" || ev.Sender == a.userID {
		return
	}
	msg := model.New(model.ChannelMatrix, roomID, ev.Sender, ev.Content.Body)
	if ev.Content.MsgType == "m.image" && ev.Content.URL != "" {
		msg.MsgType = model.TypePhoto
		msg.Opt = model.Opt{model.OptPhotoURL: a.mxcToHTTP(ev.Content.URL)}
	}
	if err := a.ingress.Publish(ctx, msg); err != nil {
		a.logger.Error("matrix: publish to ingress failed", "error", err)
	}
}

func (a *Adapter) mxcToHTTP(mxc string) string {
	const prefix = "mxc://"
	if !strings.HasPrefix(mxc, prefix) {
		return mxc
	}
	return fmt.Sprintf("%s/_matrix/media/r0/download/%s", a.homeServer, mxc[len(prefix):])
}

func (a *Adapter) SendText(ctx context.Context, room, text string) error {
	return a.sendEvent(ctx, room, map[string]string{"msgtype": "m.text", "body": text})
}

// SendRichText renders styled segments as org.matrix.custom.html, the
// formatted-body convention Matrix clients understand; body carries the
// plain fallback for clients that don't.
func (a *Adapter) SendRichText(ctx context.Context, room string, rich model.RichText, fallback string) error {
	return a.sendEvent(ctx, room, map[string]string{
		"msgtype":        "m.text",
		"body":           fallback,
		"format":         "org.matrix.custom.html",
		"formatted_body": rich.HTML(),
	})
}

func (a *Adapter) SendPhoto(ctx context.Context, room, url, caption string) error {
	return a.sendEvent(ctx, room, map[string]string{"msgtype": "m.image", "body": caption, "url": url})
}

func (a *Adapter) sendEvent(ctx context.Context, room string, content map[string]string) error {
	txnID := uuid.NewString()
	reqURL := fmt.Sprintf("%s/_matrix/client/r0/rooms/%s/send/m.room.message/%s?access_token=%s",
		a.homeServer, url.PathEscape(room), txnID, url.QueryEscape(a.accessToken))
	body, err := json.Marshal(content)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("matrix: send status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

