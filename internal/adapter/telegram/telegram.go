// Package telegram implements the Telegram adapter: long-poll receive loop
// on go-telegram-bot-api/v5, nick auto-seeding, sticker hosting with
// content-hash dedup, and the send side of the adapter contract. Adapted
// from this codebase's earlier Telegram channel (bot lifecycle,
// reconnect-with-backoff) and from the original Python bridge's
// telegram.py (nick seeding, sticker handling). Inbound text is published
// as plain text; this adapter does not classify commands, the hub does.
package telegram

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/fishroom/fishroom/internal/adapter"
	"github.com/fishroom/fishroom/internal/bus"
	"github.com/fishroom/fishroom/internal/mediastore"
	"github.com/fishroom/fishroom/internal/model"
	"github.com/fishroom/fishroom/internal/store"
)

// maxStickerBytes caps how large a sticker download this adapter will
// rehost before degrading to text.
const maxStickerBytes = 2 << 20

// Adapter is the Telegram implementation of adapter.Adapter.
type Adapter struct {
	bot      *tgbotapi.BotAPI
	ingress  *bus.Bus
	nicks    store.NickStore
	media    mediastore.Store
	stickers store.StickerCache
	httpc    *http.Client
	allowed  map[int64]bool
	logger   *slog.Logger
}

// Option configures optional Adapter collaborators.
type Option func(*Adapter)

// WithMediaStore attaches the host stickers are uploaded to, so target
// adapters receive a URL they can fetch without Telegram credentials.
func WithMediaStore(m mediastore.Store) Option { return func(a *Adapter) { a.media = m } }

// WithStickerCache attaches the content-hash dedup cache: stickers with
// identical artwork reuse one hosted URL across differing file ids.
func WithStickerCache(sc store.StickerCache) Option { return func(a *Adapter) { a.stickers = sc } }

// New constructs a Telegram adapter. allowedChatIDs restricts which chats
// are bridged; an empty list allows every chat the bot is a member of.
func New(token string, allowedChatIDs []int64, ingress *bus.Bus, nicks store.NickStore, logger *slog.Logger, opts ...Option) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: new bot api: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[int64]bool, len(allowedChatIDs))
	for _, id := range allowedChatIDs {
		allowed[id] = true
	}
	a := &Adapter{
		bot:     bot,
		ingress: ingress,
		nicks:   nicks,
		httpc:   &http.Client{Timeout: 15 * time.Second},
		allowed: allowed,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Adapter) Tag() model.ChannelType { return model.ChannelTelegram }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{SupportMultiline: true, SupportPhoto: true}
}

// ReceiveLoop polls Telegram for updates until ctx is canceled or the update
// channel closes. It does not retry by itself: consume never returns an
// error, so the backoff-and-reconnect branch below is not reached.
func (a *Adapter) ReceiveLoop(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		updates := a.bot.GetUpdatesChan(u)
		err := a.consume(ctx, updates)
		a.bot.StopReceivingUpdates()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		a.logger.Warn("telegram: update stream ended, reconnecting", "error", err, "backoff", backoff)
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

func (a *Adapter) consume(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if upd.Message == nil {
				continue
			}
			a.handleMessage(ctx, upd.Message)
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	chatID := m.Chat.ID
	if len(a.allowed) > 0 && !a.allowed[chatID] {
		return
	}
	room := strconv.FormatInt(chatID, 10)

	nick := displayName(m.From)
	if a.nicks != nil {
		_ = a.nicks.Set(ctx, room, strconv.FormatInt(m.From.ID, 10), nick)
	}

	msg := model.New(model.ChannelTelegram, room, nick, m.Text)

	if m.ReplyToMessage != nil {
		msg.Opt = model.Opt{
			model.OptReplyNick: displayName(m.ReplyToMessage.From),
			model.OptReplyText: m.ReplyToMessage.Text,
		}
	}

	switch {
	case len(m.Photo) > 0:
		msg.MsgType = model.TypePhoto
		largest := m.Photo[len(m.Photo)-1]
		url, err := a.bot.GetFileDirectURL(largest.FileID)
		if err == nil {
			if msg.Opt == nil {
				msg.Opt = model.Opt{}
			}
			msg.Opt[model.OptPhotoURL] = url
		}
	case m.Sticker != nil:
		msg.MsgType = model.TypeSticker
		if msg.Opt == nil {
			msg.Opt = model.Opt{}
		}
		msg.Opt[model.OptStickerID] = m.Sticker.FileID
		a.resolveSticker(ctx, m.Sticker.FileID, msg)
	}

	if err := a.ingress.Publish(ctx, msg); err != nil {
		a.logger.Error("telegram: publish to ingress failed", "error", err)
	}
}

// resolveSticker rehosts a sticker so downstream adapters only need a URL:
// download, dedup by content hash, upload on a cache miss. A failure
// anywhere degrades the message to a readable placeholder instead of
// suppressing it.
func (a *Adapter) resolveSticker(ctx context.Context, fileID string, msg *model.Message) {
	if a.media == nil {
		msg.Opt[model.OptMD5] = stickerHash(fileID)
		return
	}
	direct, err := a.bot.GetFileDirectURL(fileID)
	if err != nil {
		a.logger.Warn("telegram: sticker file lookup failed", "error", err)
		msg.Content = "[sticker upload failed]"
		return
	}
	url, sum, err := a.hostSticker(ctx, direct)
	if err != nil || url == "" {
		a.logger.Warn("telegram: sticker rehost failed", "error", err)
		msg.Content = "[sticker upload failed]"
		return
	}
	msg.Opt[model.OptMD5] = sum
	msg.Opt[model.OptPhotoURL] = url
}

// hostSticker downloads a sticker from its direct URL and returns a hosted
// URL for it, reusing the cached URL when a sticker with identical bytes
// was hosted before.
func (a *Adapter) hostSticker(ctx context.Context, directURL string) (url, md5sum string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, directURL, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := a.httpc.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("telegram: sticker download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxStickerBytes+1))
	if err != nil {
		return "", "", err
	}
	if len(data) > maxStickerBytes {
		return "", "", fmt.Errorf("telegram: sticker larger than %d bytes", maxStickerBytes)
	}

	sum := md5.Sum(data)
	md5sum = hex.EncodeToString(sum[:])

	if a.stickers != nil {
		if cached, ok, err := a.stickers.Lookup(ctx, md5sum); err == nil && ok {
			return cached, md5sum, nil
		}
	}

	url, err = a.media.Upload(ctx, "sticker-"+md5sum[:8], bytes.NewReader(data), resp.Header.Get("Content-Type"))
	if err != nil || url == "" {
		return "", md5sum, err
	}
	if a.stickers != nil {
		_ = a.stickers.Store(ctx, md5sum, url)
	}
	return url, md5sum, nil
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return "unknown"
	}
	if u.UserName != "" {
		return u.UserName
	}
	return store.TelegramSeedNick(u.ID)
}

// stickerHash is the fallback dedup key when no media store is configured:
// an md5 of the Telegram file id rather than of the artwork itself.
func stickerHash(fileID string) string {
	sum := md5.Sum([]byte(fileID))
	return hex.EncodeToString(sum[:])
}

func (a *Adapter) SendText(_ context.Context, room, text string) error {
	chatID, err := strconv.ParseInt(room, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid room %q: %w", room, err)
	}
	_, err = a.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// SendRichText sends the HTML rendering of the styled segments; on a
// parse-mode rejection from the API it falls back to the plain form rather
// than dropping the message.
func (a *Adapter) SendRichText(ctx context.Context, room string, rich model.RichText, fallback string) error {
	chatID, err := strconv.ParseInt(room, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid room %q: %w", room, err)
	}
	m := tgbotapi.NewMessage(chatID, rich.HTML())
	m.ParseMode = tgbotapi.ModeHTML
	if _, err := a.bot.Send(m); err != nil {
		return a.SendText(ctx, room, fallback)
	}
	return nil
}

func (a *Adapter) SendPhoto(_ context.Context, room, url, caption string) error {
	chatID, err := strconv.ParseInt(room, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid room %q: %w", room, err)
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url))
	photo.Caption = caption
	_, err = a.bot.Send(photo)
	return err
}
