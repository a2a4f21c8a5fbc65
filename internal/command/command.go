// Package command implements the hub's command registry: recognizing a
// leading-character command in an incoming message, POSIX-style argument
// splitting, and dispatch to registered handlers. Adapted from the
// shlex-based command parser and the register/dispatch pair of the original
// command module.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fishroom/fishroom/internal/model"
)

// LeadingChars are the characters that mark a message as a command
// invocation rather than ordinary chat text.
var LeadingChars = []byte{'/', '.'}

// Handler runs a command's body and returns the text to send back to the
// room it was invoked in.
type Handler func(ctx context.Context, m *model.Message, args []string) (string, error)

type entry struct {
	name    string
	desc    string
	usage   string
	handler Handler
}

// Registry holds every registered command, keyed by name. It is built once
// at startup and never mutated afterward, so concurrent ReceiveLoop
// goroutines can read it without locking.
type Registry struct {
	cmdMe    string
	entries  map[string]entry
	order    []string
}

// NewRegistry builds an empty Registry. cmdMe is the bot's own name/mention
// used to recognize "/cmd@botname" invocations; pass "" if the deployment
// has no bot mention convention.
func NewRegistry(cmdMe string) *Registry {
	r := &Registry{cmdMe: cmdMe, entries: make(map[string]entry)}
	r.Register("help", "list available commands", "help", r.helpHandler)
	return r
}

// Register adds a command handler under name. It panics if name is already
// registered -- a startup-time programming error, not a runtime condition
// callers should recover from, matching the original registrar's behavior
// of raising on duplicate registration.
func (r *Registry) Register(name, desc, usage string, h Handler) {
	if _, exists := r.entries[name]; exists {
		panic(fmt.Sprintf("command: duplicate registration for %q", name))
	}
	r.entries[name] = entry{name: name, desc: desc, usage: usage, handler: h}
	r.order = append(r.order, name)
}

// IsCommand reports whether content looks like a command invocation, per
// spec.md's testable property: len > 2, the first char is a leading char,
// and the second char is NOT -- so "//" or ".." (common in ordinary chat,
// e.g. an ellipsis or a doubled separator) is never mistaken for a command.
func IsCommand(content string) bool {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) <= 2 {
		return false
	}
	if !containsByte(LeadingChars, trimmed[0]) {
		return false
	}
	return !containsByte(LeadingChars, trimmed[1])
}

func containsByte(set []byte, b byte) bool {
	for _, c := range set {
		if c == b {
			return true
		}
	}
	return false
}

// Parse splits content into shell-style arguments and resolves the command
// name, stripping an optional "@botname" suffix. It returns ok=false if
// content is not a recognized command for this registry (not a command at
// all, or addressed to a different bot).
func (r *Registry) Parse(content string) (args []string, ok bool) {
	if !IsCommand(content) {
		return nil, false
	}
	fields, err := Split(content[1:])
	if err != nil || len(fields) == 0 {
		return nil, false
	}

	name := fields[0]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		botName := name[at+1:]
		name = name[:at]
		if r.cmdMe != "" && !strings.EqualFold(botName, r.cmdMe) {
			return nil, false
		}
	}
	fields[0] = name
	return fields, true
}

// Dispatch parses and runs the command in m.Content, returning the text
// reply and whether a command was actually recognized and run.
func (r *Registry) Dispatch(ctx context.Context, m *model.Message) (reply string, handled bool, err error) {
	args, ok := r.Parse(m.Content)
	if !ok {
		return "", false, nil
	}
	e, ok := r.entries[args[0]]
	if !ok {
		return "", false, nil
	}
	reply, err = e.handler(ctx, m, args[1:])
	return reply, true, err
}

func (r *Registry) helpHandler(_ context.Context, _ *model.Message, _ []string) (string, error) {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		e := r.entries[name]
		fmt.Fprintf(&b, "%s - %s\n", e.usage, e.desc)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
