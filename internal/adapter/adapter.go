// Package adapter defines the contract every protocol bridge implements,
// plus the shared egress procedure (ForwardFromHub) that turns a routed
// Message into one or more calls against that contract. Centralizing the
// procedure here means no adapter re-implements its own version of "how do
// I turn a rich-text message into calls to my protocol" -- every adapter
// just implements SendText/SendPhoto and gets the same behavior.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fishroom/fishroom/internal/bus"
	"github.com/fishroom/fishroom/internal/model"
)

// Capabilities describes what an adapter's protocol can natively express.
type Capabilities struct {
	SupportMultiline bool
	SupportPhoto     bool
}

// Adapter is the contract the hub's egress worker and the supervisor use to
// treat every protocol bridge identically.
type Adapter interface {
	Tag() model.ChannelType
	Capabilities() Capabilities
	// ReceiveLoop blocks, publishing inbound messages to ingress, until ctx
	// is canceled or the underlying connection fails fatally.
	ReceiveLoop(ctx context.Context) error
	SendText(ctx context.Context, room, text string) error
	SendPhoto(ctx context.Context, room, url, caption string) error
}

// RichTextSender is implemented by adapters whose protocol can render
// styled segments natively. ForwardFromHub prefers it over SendText on the
// one-call fast path when the message carries rich text; fallback is the
// plain rendering for protocols that reject the markup.
type RichTextSender interface {
	SendRichText(ctx context.Context, room string, rich model.RichText, fallback string) error
}

// photoProbeClient fetches a photo URL on the egress fast path just far
// enough to check what it serves.
var photoProbeClient = &http.Client{Timeout: 10 * time.Second}

// imageURLOK reports whether url answers with a Content-Type beginning
// "image/". The original procedure downloads the bytes before re-sending
// them; with the URL-based SendPhoto contract the same verification runs
// here, once, before any adapter is handed the URL. Swappable in tests.
var imageURLOK = func(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := photoProbeClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "image/")
}

// ForwardFromHub implements the shared egress procedure (spec.md section
// 4.4, steps 1-6): given a message the hub has routed, resolve this
// adapter's target address out of msg.Route, apply self-suppression, and
// turn the message into the minimal set of Send* calls the adapter's
// capabilities require. Adapted from the original bridge base class's
// forward_msg_from_fishroom: a photo fast path, an event fast path, a
// multiline fast path, and otherwise line-splitting with the first line
// carrying the sender's nick prefix (or the overflow URL, when set).
func ForwardFromHub(ctx context.Context, a Adapter, msg *model.Message) error {
	// Step 1: no route, or no entry for this adapter's tag, means drop.
	if msg.Route == nil {
		return nil
	}
	target, ok := msg.Route[string(a.Tag())]
	if !ok || target == "" {
		return nil
	}

	// Step 2: self-message suppression. A message is only delivered back
	// to the adapter it originated from when it is bot-generated
	// ("send-back"); a human's own message never loops back to them.
	if msg.Channel == a.Tag() && !msg.BotMsg {
		return nil
	}

	switch msg.MsgType {
	case model.TypePhoto, model.TypeSticker, model.TypeAnimation:
		url := msg.Opt.Get(model.OptPhotoURL)
		if url != "" && a.Capabilities().SupportPhoto && imageURLOK(ctx, url) {
			return a.SendPhoto(ctx, target, url, captionFor(msg))
		}
		// No photo support, no URL, or the URL doesn't serve an image:
		// degrade to one text line that still carries the link.
		text := captionFor(msg)
		if url != "" {
			text = text + " " + url
		}
		return a.SendText(ctx, target, text)

	case model.TypeEvent:
		return a.SendText(ctx, target, msg.Content)
	}

	if url := msg.Opt.Get(model.OptTextURL); url != "" && !a.Capabilities().SupportMultiline {
		return a.SendText(ctx, target, fmt.Sprintf("%s (long text)", url))
	}

	if a.Capabilities().SupportMultiline || !strings.Contains(msg.Content, "\n") {
		if len(msg.RichText) > 0 {
			if rs, ok := a.(RichTextSender); ok {
				rich := append(model.RichText{{Text: fmt.Sprintf("[%s] ", msg.Sender)}}, msg.RichText...)
				return rs.SendRichText(ctx, target, rich, withReplyQuote(msg))
			}
		}
		return a.SendText(ctx, target, withReplyQuote(msg))
	}

	// Split path for one-line-at-a-time protocols: the nick prefix and the
	// reply quote are attached exactly once, on the first line.
	lines := make([]string, 0, strings.Count(msg.Content, "\n")+1)
	for _, line := range strings.Split(msg.Content, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	for i, line := range lines {
		text := line
		if i == 0 {
			text = firstLine(msg, line)
		}
		if err := a.SendText(ctx, target, text); err != nil {
			return err
		}
	}
	return nil
}

// RunEgress subscribes to the egress bus and calls ForwardFromHub for every
// message the hub routes, until ctx is canceled or the subscription closes.
// Shaped as a supervisor.Component.Run so the composition root needs one of
// these per adapter alongside that adapter's ReceiveLoop.
func RunEgress(ctx context.Context, egress *bus.Bus, a Adapter, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	out, err := egress.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-out:
			if !ok {
				return nil
			}
			if err := ForwardFromHub(ctx, a, msg); err != nil {
				logger.Error("adapter: forward from hub failed", "channel", a.Tag(), "error", err)
			}
		}
	}
}

func captionFor(msg *model.Message) string {
	if msg.Content != "" {
		return fmt.Sprintf("[%s] %s", msg.Sender, msg.Content)
	}
	return fmt.Sprintf("[%s] sent a %s", msg.Sender, msg.MsgType)
}

// replyQuote renders the "> nick: snippet" marker when the message carries
// reply-to metadata, empty otherwise.
func replyQuote(msg *model.Message) string {
	nick := msg.Opt.Get(model.OptReplyNick)
	if nick == "" {
		return ""
	}
	snippet := msg.Opt.Get(model.OptReplyText)
	if len(snippet) > 60 {
		snippet = snippet[:60] + "..."
	}
	return fmt.Sprintf("> %s: %s", nick, snippet)
}

// withReplyQuote renders the whole body for a single-call send: when a quote
// is present, the nick prefix and the quote share the first line and the
// content follows on the next line; otherwise the nick-prefixed content.
func withReplyQuote(msg *model.Message) string {
	if q := replyQuote(msg); q != "" {
		return fmt.Sprintf("[%s] %s\n%s", msg.Sender, q, msg.Content)
	}
	return fmt.Sprintf("[%s] %s", msg.Sender, msg.Content)
}

// firstLine renders the first line of a split send; protocols without
// multi-line messages get the quote inline since there is no second line to
// put it on.
func firstLine(msg *model.Message, line string) string {
	if q := replyQuote(msg); q != "" {
		return fmt.Sprintf("[%s] %s | %s", msg.Sender, q, line)
	}
	return fmt.Sprintf("[%s] %s", msg.Sender, line)
}
