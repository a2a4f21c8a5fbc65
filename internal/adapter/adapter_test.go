package adapter

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fishroom/fishroom/internal/broker"
	"github.com/fishroom/fishroom/internal/bus"
	"github.com/fishroom/fishroom/internal/model"
)

type recordingAdapter struct {
	tag    model.ChannelType
	caps   Capabilities
	texts  []string
	photos []string
}

func (r *recordingAdapter) Tag() model.ChannelType                 { return r.tag }
func (r *recordingAdapter) Capabilities() Capabilities             { return r.caps }
func (r *recordingAdapter) ReceiveLoop(ctx context.Context) error  { return nil }
func (r *recordingAdapter) SendText(_ context.Context, _, text string) error {
	r.texts = append(r.texts, text)
	return nil
}
func (r *recordingAdapter) SendPhoto(_ context.Context, _, url, caption string) error {
	r.photos = append(r.photos, url+"|"+caption)
	return nil
}

// withRoute gives msg a route naming target for the adapter's own tag plus
// whatever else a real hub would attach, so ForwardFromHub's step 1 lookup
// succeeds in every test below unless the test is specifically exercising
// the "no route for me" drop case.
func withRoute(msg *model.Message, tag model.ChannelType, target string) *model.Message {
	msg.Route = model.Route{string(tag): target}
	return msg
}

func TestForwardFromHubDropsWithNoRoute(t *testing.T) {
	a := &recordingAdapter{tag: model.ChannelIRC}
	msg := model.New(model.ChannelTelegram, "-1001", "bob", "hi")
	if err := ForwardFromHub(context.Background(), a, msg); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(a.texts) != 0 {
		t.Fatalf("expected drop with no route, got %v", a.texts)
	}
}

func TestForwardFromHubDropsWhenRouteHasNoEntryForAdapter(t *testing.T) {
	a := &recordingAdapter{tag: model.ChannelIRC}
	msg := withRoute(model.New(model.ChannelTelegram, "-1001", "bob", "hi"), model.ChannelXMPP, "room@conf")
	if err := ForwardFromHub(context.Background(), a, msg); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(a.texts) != 0 {
		t.Fatalf("expected drop, got %v", a.texts)
	}
}

func TestForwardFromHubSuppressesSelfChannelUnlessBotMsg(t *testing.T) {
	a := &recordingAdapter{tag: model.ChannelIRC}
	msg := withRoute(model.New(model.ChannelIRC, "#room", "bob", "hi"), model.ChannelIRC, "#room")
	if err := ForwardFromHub(context.Background(), a, msg); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(a.texts) != 0 {
		t.Fatalf("expected suppression of human send-back, got %v", a.texts)
	}

	a2 := &recordingAdapter{tag: model.ChannelIRC}
	reply := withRoute(model.New(model.ChannelIRC, "#room", "fishroom", "pong"), model.ChannelIRC, "#room")
	reply.BotMsg = true
	if err := ForwardFromHub(context.Background(), a2, reply); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(a2.texts) != 1 {
		t.Fatalf("expected bot reply to be sent back to its own channel, got %v", a2.texts)
	}
}

func TestForwardFromHubMultilineFastPath(t *testing.T) {
	a := &recordingAdapter{tag: model.ChannelIRC, caps: Capabilities{SupportMultiline: true}}
	msg := withRoute(model.New(model.ChannelTelegram, "-1001", "bob", "line1\nline2"), model.ChannelIRC, "#room")
	if err := ForwardFromHub(context.Background(), a, msg); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(a.texts) != 1 {
		t.Fatalf("expected one send for multiline-capable adapter, got %v", a.texts)
	}
}

func TestForwardFromHubSplitsForSingleLineAdapter(t *testing.T) {
	a := &recordingAdapter{tag: model.ChannelIRC, caps: Capabilities{SupportMultiline: false}}
	msg := withRoute(model.New(model.ChannelTelegram, "-1001", "bob", "line1\nline2"), model.ChannelIRC, "#room")
	if err := ForwardFromHub(context.Background(), a, msg); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(a.texts) != 2 {
		t.Fatalf("expected 2 lines sent separately, got %v", a.texts)
	}
	if a.texts[0] != "[bob] line1" {
		t.Fatalf("expected nick prefix on first line, got %q", a.texts[0])
	}
}

func TestForwardFromHubOverflowSendsURLOnce(t *testing.T) {
	a := &recordingAdapter{tag: model.ChannelIRC, caps: Capabilities{SupportMultiline: false}}
	msg := withRoute(model.New(model.ChannelTelegram, "-1001", "bob", "line1\nline2\nline3"), model.ChannelIRC, "#room")
	msg.Opt = model.Opt{model.OptTextURL: "https://paste.example/abc"}
	if err := ForwardFromHub(context.Background(), a, msg); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(a.texts) != 1 || a.texts[0] != "https://paste.example/abc (long text)" {
		t.Fatalf("expected single overflow-url send, got %v", a.texts)
	}
}

// stubImageProbe replaces the egress photo content-type check for the
// duration of a test.
func stubImageProbe(t *testing.T, ok bool) {
	t.Helper()
	prev := imageURLOK
	imageURLOK = func(context.Context, string) bool { return ok }
	t.Cleanup(func() { imageURLOK = prev })
}

func TestForwardFromHubPhotoFastPath(t *testing.T) {
	stubImageProbe(t, true)
	a := &recordingAdapter{tag: model.ChannelIRC, caps: Capabilities{SupportPhoto: true}}
	msg := withRoute(model.New(model.ChannelTelegram, "-1001", "bob", ""), model.ChannelIRC, "#room")
	msg.MsgType = model.TypePhoto
	msg.Opt = model.Opt{model.OptPhotoURL: "https://img/1.png"}
	if err := ForwardFromHub(context.Background(), a, msg); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(a.photos) != 1 {
		t.Fatalf("expected photo send, got %v texts=%v", a.photos, a.texts)
	}
}

func TestForwardFromHubPhotoFallsBackToTextWhenUnsupported(t *testing.T) {
	a := &recordingAdapter{tag: model.ChannelIRC, caps: Capabilities{SupportPhoto: false}}
	msg := withRoute(model.New(model.ChannelTelegram, "-1001", "bob", ""), model.ChannelIRC, "#room")
	msg.MsgType = model.TypePhoto
	msg.Opt = model.Opt{model.OptPhotoURL: "https://img/1.png"}
	if err := ForwardFromHub(context.Background(), a, msg); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(a.photos) != 0 || len(a.texts) != 1 {
		t.Fatalf("expected text fallback, got photos=%v texts=%v", a.photos, a.texts)
	}
	if !strings.Contains(a.texts[0], "https://img/1.png") {
		t.Fatalf("expected fallback text to carry the media url, got %q", a.texts[0])
	}
}

func TestForwardFromHubPhotoProbeFailureFallsBackToURL(t *testing.T) {
	// The URL doesn't serve image/* (or the download fails): skip the
	// photo fast path even on a photo-capable adapter and send the URL
	// as text instead.
	stubImageProbe(t, false)
	a := &recordingAdapter{tag: model.ChannelIRC, caps: Capabilities{SupportPhoto: true}}
	msg := withRoute(model.New(model.ChannelTelegram, "-1001", "bob", ""), model.ChannelIRC, "#room")
	msg.MsgType = model.TypePhoto
	msg.Opt = model.Opt{model.OptPhotoURL: "https://img/1.png"}
	if err := ForwardFromHub(context.Background(), a, msg); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(a.photos) != 0 || len(a.texts) != 1 {
		t.Fatalf("expected text fallback on probe failure, got photos=%v texts=%v", a.photos, a.texts)
	}
	if !strings.Contains(a.texts[0], "https://img/1.png") {
		t.Fatalf("expected fallback text to carry the media url, got %q", a.texts[0])
	}
}

func TestForwardFromHubEventFastPath(t *testing.T) {
	a := &recordingAdapter{tag: model.ChannelIRC}
	msg := withRoute(model.New(model.ChannelTelegram, "-1001", "", "alice joined"), model.ChannelIRC, "#room")
	msg.MsgType = model.TypeEvent
	if err := ForwardFromHub(context.Background(), a, msg); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(a.texts) != 1 || a.texts[0] != "alice joined" {
		t.Fatalf("expected raw event text, got %v", a.texts)
	}
}

func TestForwardFromHubReplyQuote(t *testing.T) {
	a := &recordingAdapter{tag: model.ChannelIRC, caps: Capabilities{SupportMultiline: true}}
	msg := withRoute(model.New(model.ChannelTelegram, "-1001", "bob", "sounds good"), model.ChannelIRC, "#room")
	msg.Opt = model.Opt{model.OptReplyNick: "alice", model.OptReplyText: "what time works?"}
	if err := ForwardFromHub(context.Background(), a, msg); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(a.texts) != 1 {
		t.Fatalf("expected one send, got %v", a.texts)
	}
	if got := a.texts[0]; got == "" {
		t.Fatal("expected reply quote content")
	}
}

func TestForwardFromHubSplitQuoteAndPrefixOnFirstLineOnly(t *testing.T) {
	a := &recordingAdapter{tag: model.ChannelIRC, caps: Capabilities{SupportMultiline: false}}
	msg := withRoute(model.New(model.ChannelTelegram, "-1001", "bob", "line1\nline2"), model.ChannelIRC, "#room")
	msg.Opt = model.Opt{model.OptReplyNick: "alice", model.OptReplyText: "what time?"}
	if err := ForwardFromHub(context.Background(), a, msg); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(a.texts) != 2 {
		t.Fatalf("expected 2 lines, got %v", a.texts)
	}
	if a.texts[0] != "[bob] > alice: what time? | line1" {
		t.Fatalf("expected quote and nick prefix once on line 0, got %q", a.texts[0])
	}
	if a.texts[1] != "line2" {
		t.Fatalf("expected bare continuation line, got %q", a.texts[1])
	}
}

type richRecordingAdapter struct {
	recordingAdapter
	rich []string
}

func (r *richRecordingAdapter) SendRichText(_ context.Context, _ string, rich model.RichText, _ string) error {
	r.rich = append(r.rich, rich.Plain())
	return nil
}

func TestForwardFromHubPrefersRichTextSender(t *testing.T) {
	a := &richRecordingAdapter{recordingAdapter: recordingAdapter{
		tag: model.ChannelMatrix, caps: Capabilities{SupportMultiline: true},
	}}
	msg := withRoute(model.New(model.ChannelTelegram, "-1001", "bob", "bold bit"), model.ChannelMatrix, "!room")
	msg.RichText = model.RichText{{Style: model.StyleBold, Text: "bold bit"}}
	if err := ForwardFromHub(context.Background(), a, msg); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(a.texts) != 0 || len(a.rich) != 1 {
		t.Fatalf("expected one rich send and no plain send, got rich=%v texts=%v", a.rich, a.texts)
	}
	if a.rich[0] != "[bob] bold bit" {
		t.Fatalf("expected nick-prefixed rich segments, got %q", a.rich[0])
	}
}

func TestRunEgressForwardsUntilCancel(t *testing.T) {
	mem := broker.NewMemory()
	egress := bus.New(mem, bus.Egress, "P", nil)
	a := &recordingAdapter{tag: model.ChannelIRC}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunEgress(ctx, egress, a, nil) }()
	time.Sleep(20 * time.Millisecond)

	msg := withRoute(model.New(model.ChannelTelegram, "-1001", "bob", "hi"), model.ChannelIRC, "#room")
	if err := egress.Publish(ctx, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(time.Second)
	for len(a.texts) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for RunEgress to forward the message")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected ctx.Err() on cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RunEgress to exit after cancel")
	}
}
