// Package store implements the small, single-purpose collaborators the hub
// and adapters use to hold state across messages: nicknames, sticker URLs,
// counters, rate limits, API client credentials, and the chat log. Every
// key this package uses is generated from the templates in this file. The
// text-overflow and media stores (internal/textstore, internal/mediastore)
// and the bus build their own key and channel names and do not use these
// templates.
package store

import "fmt"

// KeyPrefix is the configured namespace every key in this package is built
// under (typically "P", matching the broker keys table).
type KeyPrefix string

func (p KeyPrefix) nick(room string) string         { return fmt.Sprintf("%s:nick:%s", p, room) }
func (p KeyPrefix) sticker(hash string) string       { return fmt.Sprintf("%s:sticker:%s", p, hash) }
func (p KeyPrefix) counter(room string) string       { return fmt.Sprintf("%s:counter:%s", p, room) }
func (p KeyPrefix) rateBucket(room, cmd string) string {
	return fmt.Sprintf("%s:rate_limit:%s:%s", p, room, cmd)
}
func (p KeyPrefix) clients() string                  { return fmt.Sprintf("%s:api:clients", p) }
func (p KeyPrefix) clientName(tokenID string) string { return fmt.Sprintf("%s:api:name:%s", p, tokenID) }
func (p KeyPrefix) clientQueue(tokenID string) string {
	return fmt.Sprintf("%s:api:%s", p, tokenID)
}
func (p KeyPrefix) chatLog(target, date string) string {
	return fmt.Sprintf("%s:log:%s:%s", p, target, date)
}
func (p KeyPrefix) textStore(id string) string { return fmt.Sprintf("%s:text_store:%s", p, id) }

// currentVote is reserved for a future vote command plugin; no handler uses
// it yet, but the key template lives here so that plugin won't need to
// invent a new prefix scheme when it's built.
func (p KeyPrefix) currentVote(room string) string { return fmt.Sprintf("%s:current_vote:%s", p, room) }
