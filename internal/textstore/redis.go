package textstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fishroom/fishroom/internal/broker"
)

// pasteRecord is the JSON shape stored under P:text_store:<id>, matching
// spec.md section 6's broker key table: {title, time, content}.
type pasteRecord struct {
	Title   string `json:"title"`
	Time    int64  `json:"time"`
	Content string `json:"content"`
}

// Redis is a self-hosted Store: it writes the paste into the broker under
// a sha1-derived id and returns a URL under the configured base URL.
// Adapted from original_source/fishroom/textstore.py's RedisStore paste
// backend.
type Redis struct {
	client  broker.Client
	prefix  string
	baseURL string
	now     func() time.Time
}

func NewRedis(client broker.Client, prefix, baseURL string) *Redis {
	return &Redis{client: client, prefix: prefix, baseURL: baseURL, now: time.Now}
}

func (r *Redis) NewPaste(ctx context.Context, content, sender, room, _, _ string, msgID int64) (string, error) {
	now := r.now()
	id := pasteID(room, msgID, now)
	rec := pasteRecord{Title: sender, Time: now.Unix(), Content: content}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s:text_store:%s", r.prefix, id)
	if err := r.client.Set(ctx, key, string(data)); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/text/%s", r.baseURL, id), nil
}

func pasteID(room string, msgID int64, now time.Time) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s:%d:%d", room, msgID, now.UnixNano())
	return hex.EncodeToString(h.Sum(nil))[:16]
}
