// Package irc implements a minimal IRC adapter directly on net.Conn: no
// third-party IRC client appears anywhere in the retrieval pack, so this
// speaks the PRIVMSG/JOIN/PING-PONG subset of RFC 1459 by hand, grounded on
// the original bridge's irchandle.py. IRC has no native rich formatting, so
// every outgoing message degrades to plain content and is sent one line at
// a time -- SupportMultiline and SupportPhoto are both false.
package irc

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/fishroom/fishroom/internal/adapter"
	"github.com/fishroom/fishroom/internal/bus"
	"github.com/fishroom/fishroom/internal/model"
)

// Adapter is the IRC implementation of adapter.Adapter.
type Adapter struct {
	server   string
	nick     string
	useTLS   bool
	channels []string
	ingress  *bus.Bus
	logger   *slog.Logger

	mu   chan struct{} // 1-buffered mutex guarding conn
	conn net.Conn
}

func New(server, nick string, useTLS bool, channels []string, ingress *bus.Bus, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	mu := make(chan struct{}, 1)
	mu <- struct{}{}
	return &Adapter{server: server, nick: nick, useTLS: useTLS, channels: channels, ingress: ingress, logger: logger, mu: mu}
}

func (a *Adapter) Tag() model.ChannelType { return model.ChannelIRC }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{SupportMultiline: false, SupportPhoto: false}
}

func (a *Adapter) ReceiveLoop(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := a.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("irc: connection lost, reconnecting", "error", err, "backoff", backoff)
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

func (a *Adapter) runOnce(ctx context.Context) error {
	conn, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	a.setConn(conn)
	defer a.setConn(nil)

	fmt.Fprintf(conn, "NICK %s\r\n", a.nick)
	fmt.Fprintf(conn, "USER %s 0 * :fishroom bridge\r\n", a.nick)
	for _, ch := range a.channels {
		fmt.Fprintf(conn, "JOIN %s\r\n", ch)
	}

	reader := bufio.NewScanner(conn)
	reader.Buffer(make([]byte, 0, 4096), 1<<20)
	for reader.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := reader.Text()
		if err := a.handleLine(ctx, conn, line); err != nil {
			return err
		}
	}
	return reader.Err()
}

func (a *Adapter) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	if a.useTLS {
		return tls.DialWithDialer(&d, "tcp", a.server, nil)
	}
	return d.DialContext(ctx, "tcp", a.server)
}

func (a *Adapter) setConn(c net.Conn) {
	<-a.mu
	a.conn = c
	a.mu <- struct{}{}
}

func (a *Adapter) handleLine(ctx context.Context, conn net.Conn, line string) error {
	if strings.HasPrefix(line, "PING") {
		_, err := fmt.Fprintf(conn, "PONG%s\r\n", strings.TrimPrefix(line, "PING"))
		return err
	}

	msg, ok := parsePrivmsg(line)
	if !ok {
		return nil
	}
	return a.ingress.Publish(ctx, msg)
}

// parsePrivmsg parses an IRC wire line of the form
// ":nick!user@host PRIVMSG #channel :text" into a Message.
func parsePrivmsg(line string) (*model.Message, bool) {
	if !strings.HasPrefix(line, ":") {
		return nil, false
	}
	parts := strings.SplitN(line[1:], " ", 4)
	if len(parts) != 4 || parts[1] != "PRIVMSG" {
		return nil, false
	}
	prefix, _, room, rest := parts[0], parts[1], parts[2], parts[3]
	nick := prefix
	if bang := strings.IndexByte(prefix, '!'); bang >= 0 {
		nick = prefix[:bang]
	}
	text := strings.TrimPrefix(rest, ":")
	return model.New(model.ChannelIRC, room, nick, text), true
}

func (a *Adapter) SendText(_ context.Context, room, text string) error {
	<-a.mu
	conn := a.conn
	a.mu <- struct{}{}
	if conn == nil {
		return fmt.Errorf("irc: not connected")
	}
	for _, line := range strings.Split(text, "\n") {
		if _, err := fmt.Fprintf(conn, "PRIVMSG %s :%s\r\n", room, line); err != nil {
			return err
		}
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
