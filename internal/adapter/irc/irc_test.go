package irc

import "testing"

func TestParsePrivmsg(t *testing.T) {
	msg, ok := parsePrivmsg(":alice!a@host PRIVMSG #room :hello there")
	if !ok {
		t.Fatal("expected parse ok")
	}
	if msg.Sender != "alice" || msg.Receiver != "#room" || msg.Content != "hello there" {
		t.Fatalf("got %+v", msg)
	}
}

func TestParsePrivmsgIgnoresOtherCommands(t *testing.T) {
	if _, ok := parsePrivmsg(":server 001 fishroom :Welcome"); ok {
		t.Fatal("expected non-PRIVMSG line to be ignored")
	}
}

func TestParsePrivmsgIgnoresMalformedLine(t *testing.T) {
	if _, ok := parsePrivmsg("PING :server"); ok {
		t.Fatal("expected PING line to be ignored by parsePrivmsg")
	}
}
