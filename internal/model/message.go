// Package model defines the wire-level message shared by every adapter and
// the hub: channel type, message type, rich text segments, and the Message
// envelope itself, plus its JSON codec.
package model

import (
	"encoding/json"
	"html"
	"strings"
	"time"
)

// ChannelType identifies which chat protocol a message originated from or is
// bound for.
type ChannelType string

const (
	ChannelIRC      ChannelType = "irc"
	ChannelXMPP     ChannelType = "xmpp"
	ChannelTelegram ChannelType = "telegram"
	ChannelGitter   ChannelType = "gitter"
	ChannelMatrix   ChannelType = "matrix"
	ChannelWeChat   ChannelType = "wechat"
	ChannelWeb      ChannelType = "web"
	ChannelAPI      ChannelType = "api"
	ChannelFishroom ChannelType = "fishroom"
)

// MessageType classifies the payload carried by a Message.
type MessageType string

const (
	TypeText      MessageType = "text"
	TypeCommand   MessageType = "command"
	TypePhoto     MessageType = "photo"
	TypeSticker   MessageType = "sticker"
	TypeAnimation MessageType = "animation"
	TypeVideo     MessageType = "video"
	TypeAudio     MessageType = "audio"
	TypeFile      MessageType = "file"
	TypeLocation  MessageType = "location"
	TypeEvent     MessageType = "event"
)

// TextStyle is a bitmask of the formatting applied to a RichText segment.
type TextStyle int

const (
	StyleNormal TextStyle = 0
	StyleColor  TextStyle = 1 << iota
	StyleItalic
	StyleBold
	StyleUnderline
)

func (s TextStyle) Has(flag TextStyle) bool { return s&flag != 0 }

func (s TextStyle) Toggle(flag TextStyle) TextStyle { return s ^ flag }

func (s TextStyle) Set(flag TextStyle) TextStyle { return s | flag }

func (s TextStyle) Clear(flag TextStyle) TextStyle { return s &^ flag }

// Color is a foreground/background pair, only meaningful when a Segment's
// Style has StyleColor set.
type Color struct {
	FG int `json:"fg"`
	BG int `json:"bg"`
}

// Segment is one (style, text) run of a RichText value.
type Segment struct {
	Style TextStyle `json:"-"`
	Color *Color    `json:"-"`
	Text  string    `json:"-"`
}

// RichText is an ordered list of styled segments that together form the
// formatted rendering of a message's content.
type RichText []Segment

// Plain concatenates a RichText's segment text, discarding all styling --
// the fallback rendering for adapters with no formatting support.
func (rt RichText) Plain() string {
	out := ""
	for _, seg := range rt {
		out += seg.Text
	}
	return out
}

// HTML renders the segments with the minimal tag set Matrix's custom-html
// format and Telegram's HTML parse mode both accept: <b>, <i>, <u>. Color
// has no portable equivalent across those targets and is dropped; the
// plain content remains the authoritative fallback.
func (rt RichText) HTML() string {
	var b strings.Builder
	for _, seg := range rt {
		var open, closing string
		if seg.Style.Has(StyleBold) {
			open += "<b>"
			closing = "</b>" + closing
		}
		if seg.Style.Has(StyleItalic) {
			open += "<i>"
			closing = "</i>" + closing
		}
		if seg.Style.Has(StyleUnderline) {
			open += "<u>"
			closing = "</u>" + closing
		}
		b.WriteString(open)
		b.WriteString(html.EscapeString(seg.Text))
		b.WriteString(closing)
	}
	return b.String()
}

// MarshalJSON encodes a RichText as a list of [styleObject, text] pairs.
// The style object holds the TextStyle bitmask as an integer under "style"
// and, when a color is set, "fg" and "bg"; styles are not written as a list
// of names and the color is not written as an array.
func (rt RichText) MarshalJSON() ([]byte, error) {
	out := make([][2]json.RawMessage, 0, len(rt))
	for _, seg := range rt {
		styleObj := struct {
			Style int    `json:"style"`
			FG    *int   `json:"fg,omitempty"`
			BG    *int   `json:"bg,omitempty"`
		}{Style: int(seg.Style)}
		if seg.Color != nil {
			styleObj.FG = &seg.Color.FG
			styleObj.BG = &seg.Color.BG
		}
		styleJSON, err := json.Marshal(styleObj)
		if err != nil {
			return nil, err
		}
		textJSON, err := json.Marshal(seg.Text)
		if err != nil {
			return nil, err
		}
		out = append(out, [2]json.RawMessage{styleJSON, textJSON})
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON.
func (rt *RichText) UnmarshalJSON(data []byte) error {
	var raw [][2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	segs := make(RichText, 0, len(raw))
	for _, pair := range raw {
		var styleObj struct {
			Style int  `json:"style"`
			FG    *int `json:"fg,omitempty"`
			BG    *int `json:"bg,omitempty"`
		}
		if err := json.Unmarshal(pair[0], &styleObj); err != nil {
			return err
		}
		var text string
		if err := json.Unmarshal(pair[1], &text); err != nil {
			return err
		}
		seg := Segment{Style: TextStyle(styleObj.Style), Text: text}
		if styleObj.FG != nil && styleObj.BG != nil {
			seg.Color = &Color{FG: *styleObj.FG, BG: *styleObj.BG}
		}
		segs = append(segs, seg)
	}
	*rt = segs
	return nil
}

// Opt carries the free-form, adapter-specific fields a Message may need
// (reply quoting, sticker ids, location coordinates) without forcing every
// adapter to agree on a fixed schema.
type Opt map[string]string

// Route is the per-message frozen mapping from adapter tag to destination
// address, computed once by the hub before a message is republished on the
// egress bus. A channel tag with no entry means "do not deliver there".
type Route map[string]string

// Location is the process-wide configured timezone used to stamp Date and
// Time on every new Message. The composition root sets this once from
// config.Config.Timezone at startup; it defaults to UTC so tests and
// standalone packages never need to thread a *time.Location through every
// call site that builds a Message.
var Location = time.UTC

// Message is the canonical envelope that flows through the bus between
// adapters and the hub. Field order and names follow spec.md section 3.
type Message struct {
	Channel  ChannelType `json:"channel"`
	Sender   string      `json:"sender"`
	Receiver string      `json:"receiver"`
	Content  string      `json:"content"`
	RichText RichText    `json:"rich_text,omitempty"`
	MsgType  MessageType `json:"mtype"`
	Date     string      `json:"date,omitempty"`
	Time     string      `json:"time,omitempty"`
	// BotMsg is true when a command handler produced this message rather
	// than a human on an external network. Only a bot-originated message
	// may be delivered back to the adapter it originated from
	// ("send-back").
	BotMsg bool `json:"botmsg,omitempty"`
	// Room is the resolved logical room id, filled in by the hub; empty
	// on ingress until a binding matches.
	Room string `json:"room,omitempty"`
	// Route is filled in by the hub immediately before an egress publish;
	// it is absent on every ingress message.
	Route Route `json:"route,omitempty"`
	Opt   Opt   `json:"opt,omitempty"`
}

// New builds a plain text Message stamped with the current time in the
// configured Location, the shape most adapters and tests need.
func New(channel ChannelType, receiver, sender, content string) *Message {
	m := &Message{
		Channel:  channel,
		Receiver: receiver,
		Sender:   sender,
		Content:  content,
		MsgType:  TypeText,
	}
	m.Stamp(time.Now())
	return m
}

// Stamp sets Date and Time from at, converted to the configured Location.
// Adapters call this when they first observe an inbound event; the hub
// calls it again for messages it synthesizes itself (command replies).
func (m *Message) Stamp(at time.Time) {
	local := at.In(Location)
	m.Date = local.Format("2006-01-02")
	m.Time = local.Format("15:04:05")
}

// Errored is the sentinel message returned by Decode when the input cannot
// be parsed. It carries no routing information on purpose so the hub drops
// it rather than forwarding garbage.
func Errored() *Message {
	return &Message{
		Channel: ChannelFishroom,
		Content: "Error",
		MsgType: TypeText,
	}
}

// Encode serializes a Message to its wire JSON form.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses the wire JSON form of a Message. On any parse failure it
// returns the Errored() sentinel instead of an error, mirroring the
// original codec's behavior of never letting a malformed payload abort the
// consuming loop.
func Decode(data []byte) *Message {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Errored()
	}
	return &m
}

// Well-known Opt keys: OptReplyNick/OptReplyText drive reply-quote
// rendering; the rest carry media, overflow and id details.
const (
	OptReplyNick = "reply_to"
	OptReplyText = "reply_text"
	OptPhotoURL  = "photo_url"
	OptStickerID = "sticker_id"
	OptMD5       = "md5"
	OptTextURL   = "text_url"
	OptMsgID     = "msg_id"
	OptUsername  = "username"
)

func (o Opt) Get(key string) string {
	if o == nil {
		return ""
	}
	return o[key]
}
