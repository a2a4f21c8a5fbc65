// Package wechat implements a WeChat adapter as an inbound webhook rather
// than a WeChat client: the original bridge (wechat.py) drives the
// unofficial itchat web-login protocol directly, which has no Go
// equivalent anywhere in the retrieval pack. Here an external gateway
// process (running itchat or an equivalent bridge) posts received
// messages to an HTTP endpoint this adapter exposes, and outbound sends
// are relayed to that same gateway over a small REST contract.
package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fishroom/fishroom/internal/adapter"
	"github.com/fishroom/fishroom/internal/bus"
	"github.com/fishroom/fishroom/internal/model"
)

// inboundPayload is the JSON body an external WeChat gateway process POSTs
// to Handler for each received group message.
type inboundPayload struct {
	Room    string `json:"room"`
	Nick    string `json:"nick"`
	Content string `json:"content"`
	IsSelf  bool   `json:"is_self"`
}

type Adapter struct {
	gatewayURL string
	client     *http.Client
	ingress    *bus.Bus
	logger     *slog.Logger
}

func New(gatewayURL string, ingress *bus.Bus, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		gatewayURL: gatewayURL,
		client:     &http.Client{},
		ingress:    ingress,
		logger:     logger,
	}
}

func (a *Adapter) Tag() model.ChannelType { return model.ChannelWeChat }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{SupportMultiline: true, SupportPhoto: true}
}

// ReceiveLoop is a no-op: WeChat messages arrive via Handler, pushed by the
// external gateway process, rather than through a loop this adapter drives.
func (a *Adapter) ReceiveLoop(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Handler returns the http.Handler the supervisor mounts to receive
// messages pushed by the external WeChat gateway process.
func (a *Adapter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var p inboundPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if p.IsSelf {
			w.WriteHeader(http.StatusOK)
			return
		}
		msg := model.New(model.ChannelWeChat, p.Room, p.Nick, p.Content)
		if err := a.ingress.Publish(r.Context(), msg); err != nil {
			a.logger.Error("wechat: publish to ingress failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

type outboundPayload struct {
	Room    string `json:"room"`
	Content string `json:"content"`
}

func (a *Adapter) SendText(ctx context.Context, room, text string) error {
	body, err := json.Marshal(outboundPayload{Room: room, Content: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.gatewayURL+"/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("wechat: gateway send status %d", resp.StatusCode)
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
