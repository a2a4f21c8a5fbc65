// Command fishroom runs the multi-protocol chat bridge: one composition
// root builds the broker connection, the stores, the hub, and every
// configured adapter, then hands them to a supervisor that tears the whole
// process down the moment any one of them exits (signal.NotifyContext,
// per-component goroutines, bounded-timeout shutdown notification).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fishroom/fishroom/internal/adapter"
	"github.com/fishroom/fishroom/internal/adapter/gitter"
	"github.com/fishroom/fishroom/internal/adapter/irc"
	"github.com/fishroom/fishroom/internal/adapter/matrix"
	"github.com/fishroom/fishroom/internal/adapter/telegram"
	"github.com/fishroom/fishroom/internal/adapter/webapi"
	"github.com/fishroom/fishroom/internal/adapter/wechat"
	"github.com/fishroom/fishroom/internal/adapter/xmpp"
	"github.com/fishroom/fishroom/internal/broker"
	"github.com/fishroom/fishroom/internal/bus"
	"github.com/fishroom/fishroom/internal/command"
	"github.com/fishroom/fishroom/internal/config"
	"github.com/fishroom/fishroom/internal/hub"
	"github.com/fishroom/fishroom/internal/mediastore"
	"github.com/fishroom/fishroom/internal/model"
	otelPkg "github.com/fishroom/fishroom/internal/otel"
	"github.com/fishroom/fishroom/internal/store"
	"github.com/fishroom/fishroom/internal/supervisor"
	"github.com/fishroom/fishroom/internal/telemetry"
	"github.com/fishroom/fishroom/internal/textstore"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=...".
var Version = "v0.1-dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 {
		switch args[0] {
		case "doctor":
			return runDoctorCommand(context.Background(), args[1:])
		case "status":
			return runStatusCommand(context.Background(), args[1:])
		case "api-client", "dumpload":
			return runStoreSubcommand(args[0], args[1:])
		case "-h", "--help", "help":
			printUsage()
			return 0
		}
	}
	return runDaemon(args)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [command]

  (no command)          run the bridge daemon in the foreground
  doctor [-json]         run diagnostic checks
  status                 query the running daemon's /healthz
  api-client <action>    manage HTTP API client tokens (list|add|revoke|test)
  dumpload <action>      export/import api-client metadata (dump|load)
`, os.Args[0])
}

// runStoreSubcommand wires just enough of the composition root (broker +
// api client registry) to serve the api-client/dumpload CLI surfaces
// without starting the bridge itself.
func runStoreSubcommand(name string, args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	client, err := newBrokerClient(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "broker connect: %v\n", err)
		return 1
	}
	defer client.Close()

	registry := store.NewRedisAPIClientRegistry(client, store.KeyPrefix(cfg.Redis.Prefix))
	ctx := context.Background()
	if name == "api-client" {
		return runAPIClientCommand(ctx, registry, args)
	}
	return runDumploadCommand(ctx, registry, args)
}

func newBrokerClient(cfg config.Config) (broker.Client, error) {
	if cfg.Redis.URL == "" {
		return broker.NewMemory(), nil
	}
	return broker.NewRedis(cfg.Redis.URL)
}

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("fishroom", flag.ContinueOnError)
	homeDir := fs.String("home", "", "override FISHROOM_HOME")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	if *homeDir != "" {
		cfg.HomeDir = *homeDir
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		return 1
	}
	defer closer.Close()
	slog.SetDefault(logger)

	if loc, lerr := time.LoadLocation(cfg.Timezone); lerr == nil {
		model.Location = loc
	} else {
		logger.Warn("invalid timezone, dates stay in UTC", "timezone", cfg.Timezone, "error", lerr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		SampleRate:     cfg.Telemetry.SampleRate,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	})
	if err != nil {
		logger.Error("otel init failed, continuing without telemetry", "error", err)
	} else {
		defer provider.Shutdown(context.Background())
	}

	client, err := newBrokerClient(cfg)
	if err != nil {
		logger.Error("broker connect failed", "error", err)
		return 1
	}
	defer client.Close()

	prefix := store.KeyPrefix(cfg.Redis.Prefix)
	ingress := bus.New(client, bus.Ingress, cfg.Redis.Prefix, logger)
	egress := bus.New(client, bus.Egress, cfg.Redis.Prefix, logger)

	registry := command.NewRegistry(cfg.CmdMe)
	registerBuiltinCommands(registry)

	nicks := store.NewRedisNickStore(client, prefix)
	apiClients := store.NewRedisAPIClientRegistry(client, prefix)
	rateLimiter := store.NewRedisRateLimiter(client, prefix)
	chatLog := store.NewRedisChatLog(client, prefix)
	stickers := store.NewRedisStickerCache(client, prefix)
	counter := store.NewRedisCounter(client, prefix)

	baseURL := strings.TrimRight(cfg.Channels.WebAPI.BaseURL, "/")
	overflow := textstore.NewRedis(client, cfg.Redis.Prefix, baseURL)
	media := mediastore.NewRedis(client, counter, cfg.Redis.Prefix, baseURL)

	hubOpts := []hub.Option{
		hub.WithAPIClients(apiClients),
		hub.WithRateLimiter(rateLimiter),
		hub.WithChatLog(chatLog),
		hub.WithOverflow(overflow),
		hub.WithLogger(logger),
	}
	if provider != nil {
		metrics, merr := otelPkg.NewMetrics(provider.Meter)
		if merr != nil {
			logger.Error("metric instruments init failed, continuing without metrics", "error", merr)
		} else {
			hubOpts = append(hubOpts, hub.WithTelemetry(provider.Tracer, metrics))
		}
	}
	h := hub.New(cfg, ingress, egress, registry, hubOpts...)

	var components []supervisor.Component
	components = append(components, supervisor.Component{Name: "hub", Run: h.Run})

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Error("config watcher failed to start, hot-reload disabled", "error", err)
	} else {
		components = append(components, supervisor.Component{
			Name: "config-watcher",
			Run: func(ctx context.Context) error {
				return runConfigWatcher(ctx, watcher, cfg.HomeDir, h, logger)
			},
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealthz)
	mux.Handle("/media/", media.Handler())

	ch := cfg.Channels

	if ch.Telegram.Enabled {
		tg, err := telegram.New(ch.Telegram.Token, ch.Telegram.AllowedChatIDs, ingress, nicks, logger,
			telegram.WithMediaStore(media), telegram.WithStickerCache(stickers))
		if err != nil {
			logger.Error("telegram adapter init failed", "error", err)
		} else {
			components = append(components, adapterComponents("telegram", tg, egress, logger)...)
		}
	}

	if ch.IRC.Enabled {
		a := irc.New(ch.IRC.Server, ch.IRC.Nick, ch.IRC.TLS, ch.IRC.Channels, ingress, logger)
		components = append(components, adapterComponents("irc", a, egress, logger)...)
	}

	if ch.XMPP.Enabled {
		a := xmpp.New(ch.XMPP.JID, ch.XMPP.Password, ch.XMPP.MUCHost, ch.XMPP.Rooms, ingress, logger)
		components = append(components, adapterComponents("xmpp", a, egress, logger)...)
	}

	if ch.Matrix.Enabled {
		a := matrix.New(ch.Matrix.HomeServer, ch.Matrix.AccessToken, ch.Matrix.UserID, ingress, logger)
		components = append(components, adapterComponents("matrix", a, egress, logger)...)
	}

	if ch.Gitter.Enabled {
		a := gitter.New(ch.Gitter.Token, ingress, logger)
		components = append(components, supervisor.Component{
			Name: "gitter:egress",
			Run:  func(ctx context.Context) error { return adapter.RunEgress(ctx, egress, a, logger) },
		})
		for _, roomID := range gitterRoomIDs(cfg) {
			roomID := roomID
			components = append(components, supervisor.Component{
				Name: "gitter:room:" + roomID,
				Run:  func(ctx context.Context) error { return a.StreamRoom(ctx, roomID) },
			})
		}
	}

	if ch.WeChat.Enabled {
		a := wechat.New(ch.WeChat.GatewayURL, ingress, logger)
		components = append(components, adapterComponents("wechat", a, egress, logger)...)
		path := ch.WeChat.WebhookPath
		if path == "" {
			path = "/wechat/webhook"
		}
		mux.Handle(path, a.Handler())
	}

	if ch.WebAPI.Enabled {
		a := webapi.New(ingress, egress, apiClients, cfg.AllowOrigins, logger)
		components = append(components, adapterComponents("webapi", a, egress, logger)...)
		mux.Handle("/", a.Handler())
	}

	bindAddr := ch.WebAPI.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1:18789"
	}
	srv := &http.Server{Addr: bindAddr, Handler: mux}
	components = append(components, supervisor.Component{
		Name: "http",
		Run:  func(ctx context.Context) error { return runHTTPServer(ctx, srv, logger) },
	})

	notify := makeNotifier(cfg, ingress, logger)
	sup := supervisor.New(logger, notify, components...)
	err = sup.Run(ctx)
	if err != nil && ctx.Err() == nil {
		logger.Error("fishroom shutting down due to component failure", "error", err)
		return 1
	}
	logger.Info("fishroom shut down cleanly")
	return 0
}

// registerBuiltinCommands registers the commands every fishroom deployment
// carries regardless of which plugins are configured. Command *plugins*
// beyond these are out of scope (spec.md section 1).
func registerBuiltinCommands(reg *command.Registry) {
	reg.Register("version", "show the running fishroom version", "version", func(_ context.Context, _ *model.Message, _ []string) (string, error) {
		return fmt.Sprintf("fishroom %s", Version), nil
	})
}

// adapterComponents builds the standard pair of supervisor components every
// protocol adapter needs: its inbound ReceiveLoop and the shared egress
// forwarder that turns routed messages into Send* calls.
func adapterComponents(name string, a adapter.Adapter, egress *bus.Bus, logger *slog.Logger) []supervisor.Component {
	return []supervisor.Component{
		{Name: name + ":receive", Run: a.ReceiveLoop},
		{Name: name + ":egress", Run: func(ctx context.Context) error { return adapter.RunEgress(ctx, egress, a, logger) }},
	}
}

// gitterRoomIDs collects every distinct Gitter room id bound in the
// configuration: Gitter's ReceiveLoop is a no-op (see
// internal/adapter/gitter), so the composition root must start one
// StreamRoom per bound room rather than a single adapter-wide loop.
func gitterRoomIDs(cfg config.Config) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, b := range cfg.Bindings {
		roomID, ok := b.Rooms["gitter"]
		if !ok {
			continue
		}
		if _, dup := seen[roomID]; dup {
			continue
		}
		seen[roomID] = struct{}{}
		ids = append(ids, roomID)
	}
	return ids
}

func runConfigWatcher(ctx context.Context, watcher *config.Watcher, homeDir string, h *hub.Hub, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-watcher.Events():
			if !ok {
				<-ctx.Done()
				return ctx.Err()
			}
			cfg, err := config.LoadFrom(homeDir + "/config.yaml")
			if err != nil {
				logger.Error("config reload failed, keeping previous bindings", "error", err)
				continue
			}
			h.SetConfig(cfg)
			logger.Info("config reloaded", "bindings", len(cfg.Bindings))
		}
	}
}

func runHTTPServer(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok"}`)
}

// makeNotifier fans a supervisor shutdown notice out to every adapter
// address bound under cfg.NotifyChannel, via the ingress bus -- so it
// reaches the same rooms a human would be watching -- falling back to a
// log line if no notify channel is configured or bound.
func makeNotifier(cfg config.Config, ingress *bus.Bus, logger *slog.Logger) supervisor.Notify {
	return func(ctx context.Context, text string) error {
		if cfg.NotifyChannel == "" {
			logger.Warn("shutdown notice (no notify_channel configured)", "text", text)
			return nil
		}
		for _, b := range cfg.Bindings {
			if b.Name != cfg.NotifyChannel {
				continue
			}
			for tag, addr := range b.Rooms {
				msg := model.New(model.ChannelType(tag), addr, "fishroom", text)
				msg.BotMsg = true
				if err := ingress.Publish(ctx, msg); err != nil {
					logger.Error("notify publish failed", "error", err, "channel", tag)
				}
			}
			return nil
		}
		logger.Warn("shutdown notice (notify_channel not bound)", "channel", cfg.NotifyChannel, "text", text)
		return nil
	}
}
