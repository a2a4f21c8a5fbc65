package command

import (
	"context"
	"testing"

	"github.com/fishroom/fishroom/internal/model"
)

func TestIsCommand(t *testing.T) {
	cases := map[string]bool{
		"/help":   true,
		".who":    true,
		"/h":      false,
		"hello":   false,
		"":        false,
		"/":       false,
		"//help":  false,
		"..who":   false,
	}
	for in, want := range cases {
		if got := IsCommand(in); got != want {
			t.Errorf("IsCommand(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSplitQuoting(t *testing.T) {
	got, err := Split(`foo "bar baz" 'qux quux' esc\ aped`)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	want := []string{"foo", "bar baz", "qux quux", "esc aped"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestSplitUnterminatedQuote(t *testing.T) {
	if _, err := Split(`foo "bar`); err != ErrUnterminatedQuote {
		t.Fatalf("expected unterminated quote error, got %v", err)
	}
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry("fishroombot")
	called := false
	reg.Register("echo", "echoes its args", "echo <text>", func(_ context.Context, _ *model.Message, args []string) (string, error) {
		called = true
		if len(args) != 1 {
			t.Fatalf("args = %v", args)
		}
		return args[0], nil
	})

	m := model.New(model.ChannelIRC, "room1", "alice", `/echo "hi there"`)
	reply, handled, err := reg.Dispatch(context.Background(), m)
	if err != nil || !handled || reply != "hi there" || !called {
		t.Fatalf("reply=%q handled=%v err=%v called=%v", reply, handled, err, called)
	}
}

func TestRegistryBotMentionFiltering(t *testing.T) {
	reg := NewRegistry("fishroombot")
	reg.Register("ping", "pong", "ping", func(_ context.Context, _ *model.Message, _ []string) (string, error) {
		return "pong", nil
	})

	m := model.New(model.ChannelIRC, "room1", "alice", "/ping@othorbot")
	_, handled, err := reg.Dispatch(context.Background(), m)
	if err != nil || handled {
		t.Fatalf("expected not handled for other bot, handled=%v err=%v", handled, err)
	}

	m2 := model.New(model.ChannelIRC, "room1", "alice", "/ping@fishroombot")
	reply, handled, err := reg.Dispatch(context.Background(), m2)
	if err != nil || !handled || reply != "pong" {
		t.Fatalf("reply=%q handled=%v err=%v", reply, handled, err)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	reg := NewRegistry("")
	noop := func(_ context.Context, _ *model.Message, _ []string) (string, error) { return "", nil }
	reg.Register("dup", "d", "dup", noop)
	reg.Register("dup", "d", "dup", noop)
}

func TestHelpListsCommands(t *testing.T) {
	reg := NewRegistry("")
	reply, handled, err := reg.Dispatch(context.Background(), model.New(model.ChannelIRC, "room1", "alice", "/help"))
	if err != nil || !handled || reply == "" {
		t.Fatalf("reply=%q handled=%v err=%v", reply, handled, err)
	}
}
