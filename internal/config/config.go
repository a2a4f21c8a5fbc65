// Package config loads and hot-reloads fishroom's YAML configuration:
// the broker connection, the bindings between rooms on different
// protocols, per-adapter credentials, and the rules the command registry
// and rate limiter are built from.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RedisConfig describes how to reach the broker.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Token          string  `yaml:"token"`
	AllowedChatIDs []int64 `yaml:"allowed_chat_ids"`
}

// IRCConfig configures the IRC adapter.
type IRCConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Server   string `yaml:"server"`
	Nick     string `yaml:"nick"`
	TLS      bool   `yaml:"tls"`
	Channels []string `yaml:"channels"`
}

// XMPPConfig configures the XMPP adapter.
type XMPPConfig struct {
	Enabled bool   `yaml:"enabled"`
	JID     string `yaml:"jid"`
	Password string `yaml:"password"`
	MUCHost string `yaml:"muc_host"`
	Rooms   []string `yaml:"rooms"`
}

// MatrixConfig configures the Matrix adapter.
type MatrixConfig struct {
	Enabled     bool   `yaml:"enabled"`
	HomeServer  string `yaml:"home_server"`
	AccessToken string `yaml:"access_token"`
	UserID      string `yaml:"user_id"`
}

// GitterConfig configures the Gitter adapter.
type GitterConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// WeChatConfig configures the WeChat webhook-receiving adapter: inbound
// messages arrive on WebhookPath, outbound sends are relayed to GatewayURL.
type WeChatConfig struct {
	Enabled     bool   `yaml:"enabled"`
	WebhookPath string `yaml:"webhook_path"`
	GatewayURL  string `yaml:"gateway_url"`
}

// WebAPIConfig configures the HTTP long-poll/websocket/browser surface.
type WebAPIConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BindAddr string `yaml:"bind_addr"`
	BaseURL  string `yaml:"base_url"`
}

// ChannelsConfig groups every adapter's configuration.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	IRC      IRCConfig      `yaml:"irc"`
	XMPP     XMPPConfig     `yaml:"xmpp"`
	Matrix   MatrixConfig   `yaml:"matrix"`
	Gitter   GitterConfig   `yaml:"gitter"`
	WeChat   WeChatConfig   `yaml:"wechat"`
	WebAPI   WebAPIConfig   `yaml:"webapi"`
}

// Binding is a named logical room mapped to one network address per
// adapter tag, exactly per spec.md section 3: "a named room maps to an
// ordered mapping adapter_tag -> network_address". A network address
// appears in at most one binding.
type Binding struct {
	Name  string            `yaml:"name"`
	Rooms map[string]string `yaml:"rooms"`
}

// RateLimitRule configures a RateLimiter window for a (room, command)
// pair. Cmd == "" matches every command in that room.
type RateLimitRule struct {
	Room       string `yaml:"room"`
	Cmd        string `yaml:"cmd"`
	Limit      int    `yaml:"limit"`
	WindowSecs int    `yaml:"window_secs"`
}

// TelemetryConfig configures OpenTelemetry tracing/metrics export.
type TelemetryConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"`
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	SampleRate     float64 `yaml:"sample_rate"`
	MetricsEnabled *bool   `yaml:"metrics_enabled,omitempty"`
}

// Config is fishroom's full runtime configuration.
type Config struct {
	HomeDir       string          `yaml:"-"`
	Redis         RedisConfig     `yaml:"redis"`
	Channels      ChannelsConfig  `yaml:"channels"`
	Bindings      []Binding       `yaml:"bindings"`
	RateLimits    []RateLimitRule `yaml:"rate_limits"`
	CmdMe         string          `yaml:"cmd_me"`
	Timezone      string          `yaml:"timezone"`
	NotifyChannel string          `yaml:"notify_channel"`
	LogLevel      string          `yaml:"log_level"`
	AllowOrigins  []string        `yaml:"allow_origins"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// DefaultHomeDir returns $FISHROOM_HOME or ~/.fishroom.
func DefaultHomeDir() string {
	if v := os.Getenv("FISHROOM_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fishroom"
	}
	return filepath.Join(home, ".fishroom")
}

// Load reads config.yaml from the home directory (FISHROOM_HOME or
// ~/.fishroom).
func Load() (Config, error) {
	home := DefaultHomeDir()
	return LoadFrom(filepath.Join(home, "config.yaml"))
}

// LoadFrom reads and parses a config.yaml at an explicit path.
func LoadFrom(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.HomeDir = filepath.Dir(path)
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "P"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	return cfg, nil
}

// ResolveRoom implements spec.md section 4.3 step 1: search the binding
// table for a binding whose entry for channel equals receiver. Returns the
// binding's name and its full adapter-tag -> address map (the value the
// hub later assigns verbatim to Message.Route), or ok=false if nothing
// binds this (channel, receiver) pair -- the caller's cue to drop silently
// per the spec's mandated policy for unbound messages.
func (c Config) ResolveRoom(channel, receiver string) (room string, route map[string]string, ok bool) {
	for _, b := range c.Bindings {
		if addr, exists := b.Rooms[channel]; exists && addr == receiver {
			return b.Name, b.Rooms, true
		}
	}
	return "", nil, false
}

// BindingByName returns the adapter-tag -> address map for a named room.
// Used when a message arrives with its room already known (the HTTP API
// names the room in the URL instead of carrying a bindable receiver).
func (c Config) BindingByName(name string) (map[string]string, bool) {
	for _, b := range c.Bindings {
		if b.Name == name {
			return b.Rooms, true
		}
	}
	return nil, false
}

// RateLimitRule returns the most specific configured rate-limit rule for a
// (room, cmd) pair: an exact (room,cmd) match wins over a room-wide
// (cmd=="") rule.
func (c Config) RateLimitRule(room, cmd string) *RateLimitRule {
	var wildcard *RateLimitRule
	for i := range c.RateLimits {
		r := &c.RateLimits[i]
		if r.Room != room {
			continue
		}
		if r.Cmd == cmd {
			return r
		}
		if r.Cmd == "" {
			wildcard = r
		}
	}
	return wildcard
}
