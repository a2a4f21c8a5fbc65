package textstore

import (
	"context"
	"fmt"
)

// LogRedirect is a no-storage textstore.Store: rather than hosting a copy of
// the overflowed text itself, it points at the message's own position in
// the chat log -- the hub has already appended the message and knows its
// msg_id by the time it calls NewPaste. No network call, no extra storage;
// the chat-log viewer that resolves these URLs is out of scope for this
// repository (spec.md section 1).
type LogRedirect struct {
	baseURL string
}

func NewLogRedirect(baseURL string) *LogRedirect {
	return &LogRedirect{baseURL: baseURL}
}

func (l *LogRedirect) NewPaste(_ context.Context, _, _, room, date, _ string, msgID int64) (string, error) {
	return fmt.Sprintf("%s/log/%s/%s/%d", l.baseURL, room, date, msgID), nil
}
