// Package xmpp implements a minimal XMPP MUC adapter over a raw TLS
// connection and encoding/xml, grounded on the original bridge's
// sleekxmpp-based xmpp.py (join MUC, relay <message> stanzas). No Go XMPP
// library appears anywhere in the retrieval pack; SASL PLAIN auth and the
// XML stream framing are hand-rolled against the stdlib here rather than
// imported.
package xmpp

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fishroom/fishroom/internal/adapter"
	"github.com/fishroom/fishroom/internal/bus"
	"github.com/fishroom/fishroom/internal/model"
)

// Adapter is the XMPP implementation of adapter.Adapter. Each configured
// MUC room is joined on connect; sends to a bare room name are addressed to
// "<room>@<mucHost>", and a room that already holds a full JID is used as is.
type Adapter struct {
	jid      string
	password string
	mucHost  string
	rooms    []string
	ingress  *bus.Bus
	logger   *slog.Logger

	connMu chan struct{}
	conn   *tls.Conn
	enc    *xml.Encoder
}

func New(jid, password, mucHost string, rooms []string, ingress *bus.Bus, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	mu := make(chan struct{}, 1)
	mu <- struct{}{}
	return &Adapter{jid: jid, password: password, mucHost: mucHost, rooms: rooms, ingress: ingress, logger: logger, connMu: mu}
}

func (a *Adapter) Tag() model.ChannelType { return model.ChannelXMPP }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{SupportMultiline: true, SupportPhoto: false}
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
		a.logger.Warn("xmpp: connection lost, reconnecting", "error", err, "backoff", backoff)
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

func (a *Adapter) domain() string {
	if idx := strings.IndexByte(a.jid, '@'); idx >= 0 {
		return a.jid[idx+1:]
	}
	return a.jid
}

func (a *Adapter) runOnce(ctx context.Context) error {
	d := tls.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", a.domain()+":5223")
	if err != nil {
		return fmt.Errorf("xmpp: dial: %w", err)
	}
	tlsConn := conn.(*tls.Conn)
	defer tlsConn.Close()

	fmt.Fprintf(tlsConn, "<?xml version='1.0'?><stream:stream to='%s' xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' version='1.0'>", a.domain())

	auth := base64.StdEncoding.EncodeToString([]byte("\x00" + a.jid + "\x00" + a.password))
	fmt.Fprintf(tlsConn, "<auth xmlns='urn:ietf:params:xml:ns:xmpp-sasl' mechanism='PLAIN'>%s</auth>", auth)

	a.setConn(tlsConn)
	defer a.setConn(nil)

	for _, room := range a.rooms {
		fmt.Fprintf(tlsConn, "<presence to='%s@%s/fishroom'/>", room, a.mucHost)
	}

	decoder := xml.NewDecoder(tlsConn)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tok, err := decoder.Token()
		if err != nil {
			return err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "message" {
			continue
		}
		a.handleMessageElement(ctx, decoder, start)
	}
}

func (a *Adapter) handleMessageElement(ctx context.Context, decoder *xml.Decoder, start xml.StartElement) {
	var stanza struct {
		From string `xml:"from,attr"`
		Body string `xml:"body"`
	}
	if err := decoder.DecodeElement(&stanza, &start); err != nil {
		return
	}
	if stanza.Body == "" {
		return
	}
	room, nick := splitMUCFrom(stanza.From)
	if nick == "" {
		return // history replay / room-itself message, not a real occupant
	}
	msg := model.New(model.ChannelXMPP, room, nick, stanza.Body)
	_ = a.ingress.Publish(ctx, msg)
}

// splitMUCFrom splits a MUC "from" address ("room@conference.host/nick")
// into its room and nick parts.
func splitMUCFrom(from string) (room, nick string) {
	idx := strings.IndexByte(from, '/')
	if idx < 0 {
		return from, ""
	}
	return from[:idx], from[idx+1:]
}

func (a *Adapter) setConn(c *tls.Conn) {
	<-a.connMu
	a.conn = c
	a.connMu <- struct{}{}
}

// sendTarget normalizes a destination: bindings carry the full MUC JID
// ("lounge@conference.host"), but bare room names get the configured MUC
// host appended.
func (a *Adapter) sendTarget(room string) string {
	if strings.Contains(room, "@") {
		return room
	}
	return room + "@" + a.mucHost
}

func (a *Adapter) SendText(_ context.Context, room, text string) error {
	<-a.connMu
	conn := a.conn
	a.connMu <- struct{}{}
	if conn == nil {
		return fmt.Errorf("xmpp: not connected")
	}
	body := xmlEscape(text)
	_, err := fmt.Fprintf(conn, "<message to='%s' type='groupchat'><body>%s</body></message>", a.sendTarget(room), body)
	return err
}

func (a *Adapter) SendPhoto(ctx context.Context, room, url, caption string) error {
	text := url
	if caption != "" {
		text = caption + " " + url
	}
	return a.SendText(ctx, room, text)
}

func xmlEscape(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}
