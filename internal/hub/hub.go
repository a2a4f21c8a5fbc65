// Package hub implements the single-consumer routing engine: it reads
// every message off the ingress bus, resolves which logical room it
// belongs to, fans it out to registered API clients, logs it, dispatches
// commands, applies long-text overflow, and republishes the result on the
// egress bus with its route attached. Exactly spec.md section 4.3, steps
// 1-6.
package hub

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/fishroom/fishroom/internal/bus"
	"github.com/fishroom/fishroom/internal/command"
	"github.com/fishroom/fishroom/internal/config"
	"github.com/fishroom/fishroom/internal/model"
	otelpkg "github.com/fishroom/fishroom/internal/otel"
	"github.com/fishroom/fishroom/internal/shared"
	"github.com/fishroom/fishroom/internal/store"
	"github.com/fishroom/fishroom/internal/textstore"
)

// botName is the sender identity attached to a republished command reply.
const botName = "fishroom"

// overflow triggers exactly per spec.md's testable property: more than 5
// newlines, or a UTF-8 byte length of at least 400.
func overflows(content string) bool {
	if strings.Count(content, "\n") > 5 {
		return true
	}
	return len(content) >= 400
}

// Hub is the routing engine. One instance owns the single goroutine that
// consumes the ingress bus; every dependency it needs is passed in at
// construction so the loop itself stays free of global state (the
// composition root builds exactly one of everything -- see REDESIGN
// FLAGS' complaint about ad-hoc global singletons).
type Hub struct {
	cfgMu       sync.RWMutex
	cfg         config.Config
	ingress     *bus.Bus
	egress      *bus.Bus
	commands    *command.Registry
	apiClients  store.APIClientRegistry
	rateLimiter store.RateLimiter
	chatLog     store.ChatLog
	overflow    textstore.Store
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *otelpkg.Metrics
}

// Option configures optional Hub collaborators. Every store is optional so
// unit tests can exercise routing logic in isolation.
type Option func(*Hub)

func WithAPIClients(c store.APIClientRegistry) Option { return func(h *Hub) { h.apiClients = c } }
func WithRateLimiter(rl store.RateLimiter) Option      { return func(h *Hub) { h.rateLimiter = rl } }
func WithChatLog(cl store.ChatLog) Option              { return func(h *Hub) { h.chatLog = cl } }
func WithOverflow(ts textstore.Store) Option           { return func(h *Hub) { h.overflow = ts } }
func WithLogger(l *slog.Logger) Option                 { return func(h *Hub) { h.logger = l } }

// WithTelemetry attaches a tracer (one span per routed message) and the
// process-wide metric instruments to the routing loop.
func WithTelemetry(tr trace.Tracer, m *otelpkg.Metrics) Option {
	return func(h *Hub) {
		if tr != nil {
			h.tracer = tr
		}
		h.metrics = m
	}
}

// New builds a Hub. cfg supplies the bindings and rate-limit rules;
// commands is the process-wide command registry.
func New(cfg config.Config, ingress, egress *bus.Bus, commands *command.Registry, opts ...Option) *Hub {
	h := &Hub{
		cfg: cfg, ingress: ingress, egress: egress, commands: commands,
		logger: slog.Default(),
		tracer: nooptrace.NewTracerProvider().Tracer(otelpkg.TracerName),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetConfig atomically replaces the bindings and rate-limit rules the hub
// routes against -- the composition root calls this whenever
// config.Watcher reports a config.yaml change, so bindings and rate limits
// hot-reload without restarting adapter connections (spec.md section 4.8).
func (h *Hub) SetConfig(cfg config.Config) {
	h.cfgMu.Lock()
	h.cfg = cfg
	h.cfgMu.Unlock()
}

func (h *Hub) config() config.Config {
	h.cfgMu.RLock()
	defer h.cfgMu.RUnlock()
	return h.cfg
}

// Run consumes the ingress bus until ctx is canceled or the bus closes. A
// handler panic for one message is recovered and logged (spec.md section
// 4.8: "command handler raises: log + swallow"); it never takes down the
// loop, since the loop is the hub's only source of liveness.
func (h *Hub) Run(ctx context.Context) error {
	in, err := h.ingress.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			h.handleSafely(ctx, msg)
		}
	}
}

func (h *Hub) handleSafely(ctx context.Context, msg *model.Message) {
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	defer func() {
		if r := recover(); r != nil {
			h.logger.ErrorContext(ctx, "hub: recovered panic handling message", "panic", r,
				"channel", msg.Channel, "receiver", msg.Receiver)
		}
	}()
	h.handle(ctx, msg)
}

func (h *Hub) handle(ctx context.Context, msg *model.Message) {
	cfg := h.config()
	started := time.Now()

	ctx, span := otelpkg.StartSpan(ctx, h.tracer, "hub.route",
		otelpkg.AttrChannel.String(string(msg.Channel)),
		otelpkg.AttrMsgType.String(string(msg.MsgType)),
	)
	defer span.End()

	// Step 1: resolve the logical room. Most messages carry a bindable
	// (channel, receiver) pair; HTTP API injections instead arrive with
	// Room already named, so for those the binding is looked up by name.
	// No match either way means silently drop -- spec.md's DESIGN NOTES
	// flag the alternative (raise / nil-deref) as an unintentional older
	// policy; the newer, normative behavior is a silent drop.
	var (
		room  string
		route map[string]string
		ok    bool
	)
	if msg.Room != "" {
		room = msg.Room
		route, ok = cfg.BindingByName(room)
	} else {
		room, route, ok = cfg.ResolveRoom(string(msg.Channel), msg.Receiver)
	}
	if !ok {
		return
	}
	msg.Room = room
	span.SetAttributes(otelpkg.AttrRoom.String(room))

	// Step 2: fan out to every registered API client, command or not.
	if h.apiClients != nil {
		if err := h.apiClients.Publish(ctx, msg); err != nil {
			h.logger.ErrorContext(ctx, "hub: api client fan-out failed", "error", err, "room", room)
			if h.metrics != nil {
				h.metrics.APIFanoutDrops.Add(ctx, 1)
			}
		}
	}

	// Step 3: append to the chat log and capture msg_id.
	var msgID int64
	if h.chatLog != nil {
		id, err := h.chatLog.Append(ctx, room, time.Now(), msg)
		if err != nil {
			h.logger.ErrorContext(ctx, "hub: chat log append failed", "error", err, "room", room)
		} else {
			msgID = id
		}
	}

	// Step 4: command dispatch. A recognized command's reply (if any) is
	// wrapped as a new bot message and republished onto ingress, so it
	// flows through this same pipeline -- including this same logging and
	// fan-out -- rather than being forwarded directly.
	if msg.MsgType == model.TypeCommand || command.IsCommand(msg.Content) {
		if h.dispatchCommand(ctx, msg, room, cfg) {
			return
		}
		// Not a registered command (unknown name, or addressed to a
		// different bot in the room): demote to Text and continue as
		// ordinary chat, per spec.md section 4.3 step 4.
		msg.MsgType = model.TypeText
	}

	// Step 5: long-text overflow.
	out := *msg
	if overflows(out.Content) {
		if h.metrics != nil {
			h.metrics.OverflowTriggers.Add(ctx, 1)
		}
		if h.overflow == nil {
			h.logger.ErrorContext(ctx, "hub: overflow triggered but no text store configured, dropping", "room", room)
			return
		}
		url, err := h.overflow.NewPaste(ctx, out.Content, out.Sender, room, out.Date, out.Time, msgID)
		if err != nil || url == "" {
			h.logger.ErrorContext(ctx, "hub: overflow store returned no url, dropping message", "error", err, "room", room)
			return
		}
		// Clone rather than mutate in place: out.Opt may still alias
		// msg.Opt after the shallow struct copy above.
		opt := make(model.Opt, len(out.Opt)+1)
		for k, v := range out.Opt {
			opt[k] = v
		}
		opt[model.OptTextURL] = url
		out.Opt = opt
	}

	// Step 6: attach the full route and publish to egress.
	out.Route = route
	if err := h.egress.Publish(ctx, &out); err != nil {
		h.logger.ErrorContext(ctx, "hub: egress publish failed", "error", err, "room", room)
		return
	}
	if h.metrics != nil {
		h.metrics.MessagesRouted.Add(ctx, 1)
		h.metrics.RouteDuration.Record(ctx, time.Since(started).Seconds())
	}
}

// dispatchCommand runs a recognized command and republishes its reply.
// Returns true if content was consumed as a command invocation (whether or
// not a reply was produced) -- the caller must not also fan it out as an
// ordinary chat message.
func (h *Hub) dispatchCommand(ctx context.Context, msg *model.Message, room string, cfg config.Config) bool {
	args, ok := h.commands.Parse(msg.Content)
	if !ok {
		// Not recognized by this registry (unknown command, or addressed
		// to a different bot): demote to Text and let it fall through to
		// ordinary fan-out, per spec.md section 4.3 step 4.
		return false
	}
	cmd := args[0]
	trace.SpanFromContext(ctx).SetAttributes(otelpkg.AttrCommand.String(cmd))

	if h.rateLimiter != nil {
		if rule := cfg.RateLimitRule(room, cmd); rule != nil {
			allowed, err := h.rateLimiter.Allow(ctx, room, cmd, rule.Limit, time.Duration(rule.WindowSecs)*time.Second)
			if err != nil {
				h.logger.ErrorContext(ctx, "hub: rate limiter error", "error", err, "room", room, "cmd", cmd)
			} else if !allowed {
				if h.metrics != nil {
					h.metrics.RateLimitRejects.Add(ctx, 1)
				}
				return true
			}
		}
	}

	reply, handled, err := h.commands.Dispatch(ctx, msg)
	if err != nil {
		h.logger.ErrorContext(ctx, "hub: command handler error", "error", err, "content", msg.Content)
		return true
	}
	if !handled {
		return false
	}
	if h.metrics != nil {
		h.metrics.CommandsDispatched.Add(ctx, 1)
	}
	if reply != "" {
		botReply := model.New(msg.Channel, msg.Receiver, botName, reply)
		botReply.BotMsg = true
		botReply.Room = room
		if err := h.ingress.Publish(ctx, botReply); err != nil {
			h.logger.ErrorContext(ctx, "hub: failed to republish command reply", "error", err, "room", room)
		}
	}
	return true
}
