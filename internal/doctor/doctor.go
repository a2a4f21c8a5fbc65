// Package doctor runs fishroom's diagnostic checks: broker connectivity,
// binding coverage, adapter credentials, home directory permissions, and
// basic network reachability. Same CheckResult/Diagnosis/SystemInfo shape
// and check-list pattern as other diagnostic tooling, generalized here to
// fishroom's broker-and-bindings configuration.
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fishroom/fishroom/internal/broker"
	"github.com/fishroom/fishroom/internal/config"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes every diagnostic check and collects the results.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkBroker,
		checkBindings,
		checkAdapterCredentials,
		checkHomeDirWritable,
		checkNetwork,
	}
	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.HomeDir == "" {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "configuration not loaded"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("loaded from %s", cfg.HomeDir)}
}

func checkBroker(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.Redis.URL == "" {
		return CheckResult{Name: "Broker", Status: "SKIP", Message: "no redis url configured"}
	}
	client, err := broker.NewRedis(cfg.Redis.URL)
	if err != nil {
		return CheckResult{Name: "Broker", Status: "FAIL", Message: fmt.Sprintf("connect failed: %v", err)}
	}
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	probeKey := cfg.Redis.Prefix + ":doctor:probe"
	if err := client.Set(pingCtx, probeKey, "1"); err != nil {
		return CheckResult{Name: "Broker", Status: "FAIL", Message: fmt.Sprintf("probe write failed: %v", err)}
	}
	_ = client.Del(pingCtx, probeKey)
	return CheckResult{Name: "Broker", Status: "PASS", Message: "redis reachable"}
}

func checkBindings(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || len(cfg.Bindings) == 0 {
		return CheckResult{Name: "Bindings", Status: "WARN", Message: "no room bindings configured"}
	}

	seen := make(map[string]string)
	for _, b := range cfg.Bindings {
		for tag, addr := range b.Rooms {
			key := tag + ":" + addr
			if existing, dup := seen[key]; dup {
				return CheckResult{
					Name:    "Bindings",
					Status:  "FAIL",
					Message: fmt.Sprintf("address %q on %s bound to both %q and %q", addr, tag, existing, b.Name),
				}
			}
			seen[key] = b.Name
		}
	}
	return CheckResult{Name: "Bindings", Status: "PASS", Message: fmt.Sprintf("%d bindings, no address collisions", len(cfg.Bindings))}
}

func checkAdapterCredentials(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Adapter Credentials", Status: "SKIP", Message: "config missing"}
	}
	var missing []string
	ch := cfg.Channels
	if ch.Telegram.Enabled && ch.Telegram.Token == "" {
		missing = append(missing, "telegram.token")
	}
	if ch.IRC.Enabled && (ch.IRC.Server == "" || ch.IRC.Nick == "") {
		missing = append(missing, "irc.server/nick")
	}
	if ch.XMPP.Enabled && (ch.XMPP.JID == "" || ch.XMPP.Password == "") {
		missing = append(missing, "xmpp.jid/password")
	}
	if ch.Matrix.Enabled && ch.Matrix.AccessToken == "" {
		missing = append(missing, "matrix.access_token")
	}
	if ch.Gitter.Enabled && ch.Gitter.Token == "" {
		missing = append(missing, "gitter.token")
	}
	if ch.WeChat.Enabled && ch.WeChat.GatewayURL == "" {
		missing = append(missing, "wechat.gateway_url")
	}
	if len(missing) > 0 {
		return CheckResult{
			Name:    "Adapter Credentials",
			Status:  "FAIL",
			Message: fmt.Sprintf("%d enabled adapter(s) missing required credentials", len(missing)),
			Detail:  fmt.Sprintf("%v", missing),
		}
	}
	return CheckResult{Name: "Adapter Credentials", Status: "PASS", Message: "every enabled adapter has its required fields"}
}

func checkHomeDirWritable(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.HomeDir == "" {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "home directory writable"}
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.Redis.URL == "" {
		return CheckResult{Name: "Network", Status: "SKIP", Message: "no redis url configured"}
	}
	host := cfg.Redis.URL
	if u, err := parseHost(host); err == nil {
		host = u
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  "FAIL",
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("latency=%dms", latency.Milliseconds()),
		}
	}
	return CheckResult{
		Name:    "Network",
		Status:  "PASS",
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
	}
}

// parseHost extracts the hostname out of a redis:// or rediss:// URL,
// without pulling in net/url just to strip a scheme and port for a
// diagnostic-only DNS check.
func parseHost(rawURL string) (string, error) {
	s := rawURL
	for _, prefix := range []string{"redis://", "rediss://"} {
		if len(s) > len(prefix) && s[:len(prefix)] == prefix {
			s = s[len(prefix):]
			break
		}
	}
	if i := indexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}
	if i := indexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		return s, nil
	}
	return host, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
