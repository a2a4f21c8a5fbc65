// Package textstore implements the text-overflow collaborator: when a
// message's content is too long or too multi-line for a target adapter,
// the hub asks a Store to host the full text and hands the adapter a short
// URL instead.
package textstore

import "context"

// Store hosts a paste and returns a URL a human can open to read it,
// exactly per spec.md section 4.7: NewPaste(content, sender, room, date,
// time, msg_id) -> url?. A Store that cannot host the text returns an
// empty url and a nil error; the hub treats that as "drop the message"
// per spec.md's overflow-store-failure policy (section 4.8), the same as
// a non-nil error.
type Store interface {
	NewPaste(ctx context.Context, content, sender, room, date, clock string, msgID int64) (url string, err error)
}
