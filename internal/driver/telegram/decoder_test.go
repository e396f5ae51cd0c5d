package telegram

import (
	"errors"
	"testing"
	"time"

	"hookrelay/pkg/hookrelay"
)

func TestParseCommandText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		text        string
		wantMatched bool
		wantErr     bool
		wantName    string
		wantMention string
		wantTokens  []string
	}{
		{name: "plain text", text: "hello"},
		{name: "bare slash", text: "/"},
		{
			name:        "command only",
			text:        "/Ping",
			wantMatched: true,
			wantName:    "ping",
		},
		{
			name:        "mention and tokens",
			text:        "/test@HookBot https://example.com param1=a=1",
			wantMatched: true,
			wantName:    "test",
			wantMention: "hookbot",
			wantTokens:  []string{"https://example.com", "param1=a=1"},
		},
		{
			name:        "quoted value",
			text:        `/send caption="two words" note="say \"hi\""`,
			wantMatched: true,
			wantName:    "send",
			wantTokens:  []string{"caption=two words", `note=say "hi"`},
		},
		{
			name:        "unterminated quote",
			text:        `/send caption="open`,
			wantMatched: true,
			wantErr:     true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			parsed, matched, err := ParseCommandText(testCase.text)
			if matched != testCase.wantMatched {
				t.Fatalf("matched = %v, want %v", matched, testCase.wantMatched)
			}
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !matched {
				return
			}
			if parsed.Name != testCase.wantName || parsed.Mention != testCase.wantMention {
				t.Fatalf("parsed = %+v", parsed)
			}
			if len(parsed.Tokens) != len(testCase.wantTokens) {
				t.Fatalf("tokens = %q, want %q", parsed.Tokens, testCase.wantTokens)
			}
			for index := range parsed.Tokens {
				if parsed.Tokens[index] != testCase.wantTokens[index] {
					t.Fatalf("tokens[%d] = %q, want %q", index, parsed.Tokens[index], testCase.wantTokens[index])
				}
			}
		})
	}
}

func TestCommandDecoderDecode(t *testing.T) {
	t.Parallel()

	commands := []hookrelay.RegisteredCommand{
		{
			ModuleName: "webhook",
			Command: hookrelay.CommandDescriptor{
				Name: "test",
				Parameters: []hookrelay.ParameterSpec{
					{Name: "url", Kind: hookrelay.ParameterKindString, Required: true},
					{Name: "param1", Kind: hookrelay.ParameterKindString},
					{Name: "param2", Kind: hookrelay.ParameterKindString},
				},
			},
		},
		{ModuleName: "pingpong", Command: hookrelay.CommandDescriptor{Name: "ping"}},
	}
	occurredAt := time.Unix(1_700_000_000, 0).UTC()
	base := Update{
		ID:         "tg:100:7",
		OccurredAt: occurredAt,
		Chat:       ChatRef{ID: "100", Title: "builds", Type: hookrelay.ChannelTypeGroup},
		Actor:      ActorRef{ID: "42", Username: "alice", DisplayName: "Alice"},
		Message:    MessagePayload{ID: "7"},
	}

	tests := []struct {
		name      string
		text      string
		threadID  string
		wantNil   bool
		wantErr   bool
		wantName  string
		wantRaw   map[string]string
		wantTopic bool
	}{
		{name: "non command", text: "just chatting", wantNil: true},
		{name: "other bot", text: "/ping@otherbot", wantNil: true},
		{
			name:     "own mention",
			text:     "/ping@HookRelayBot",
			wantName: "ping",
			wantRaw:  map[string]string{},
		},
		{
			name:     "positional fills declared order",
			text:     "/test https://hooks.example.com/x?a=1 b=2",
			wantName: "test",
			wantRaw:  map[string]string{"url": "https://hooks.example.com/x?a=1", "param1": "b=2"},
		},
		{
			name:     "named and positional mix",
			text:     "/test param2=c=3 url=https://hooks.example.com a=1",
			wantName: "test",
			wantRaw: map[string]string{
				"url":    "https://hooks.example.com",
				"param1": "a=1",
				"param2": "c=3",
			},
		},
		{
			name:     "topic message",
			text:     "/ping",
			threadID: "55",
			wantName: "ping",
			wantRaw:  map[string]string{},
		},
		{name: "too many positionals", text: "/ping extra", wantErr: true},
		{name: "unterminated quote", text: `/test url="https://x`, wantErr: true},
		{name: "unregistered command ignores arguments", text: "/weather berlin city=paris", wantName: "weather"},
		{name: "unregistered command with broken quote", text: `/weather "berlin`, wantName: "weather"},
		{name: "unregistered command for other bot", text: `/weather@otherbot "berlin`, wantNil: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			decoder := NewCommandDecoder(commands, "@HookRelayBot")
			decoder.newID = func() string { return "inv-1" }

			update := base
			update.Message.Text = testCase.text
			update.Message.ThreadID = testCase.threadID

			invocation, err := decoder.Decode(update)
			if testCase.wantErr {
				var validationErr *hookrelay.ValidationError
				if !errors.As(err, &validationErr) {
					t.Fatalf("error = %v, want *hookrelay.ValidationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if testCase.wantNil {
				if invocation != nil {
					t.Fatalf("invocation = %+v, want nil", invocation)
				}
				return
			}
			if invocation == nil {
				t.Fatal("expected invocation")
			}
			if invocation.ID != "inv-1" || invocation.CommandName != testCase.wantName {
				t.Fatalf("invocation = %+v", invocation)
			}
			if !invocation.OccurredAt.Equal(occurredAt) {
				t.Fatalf("occurred at = %v, want %v", invocation.OccurredAt, occurredAt)
			}
			if invocation.Caller.ID != "42" || invocation.Caller.Username != "alice" {
				t.Fatalf("caller = %+v", invocation.Caller)
			}
			if len(invocation.RawArguments) != len(testCase.wantRaw) {
				t.Fatalf("raw = %v, want %v", invocation.RawArguments, testCase.wantRaw)
			}
			for key, want := range testCase.wantRaw {
				if got := invocation.RawArguments[key]; got != want {
					t.Fatalf("raw[%s] = %q, want %q", key, got, want)
				}
			}

			channel := invocation.Channel
			if testCase.threadID != "" {
				if !channel.IsThread || channel.ID != "100/55" || channel.ParentID != "100" || channel.ParentName != "builds" {
					t.Fatalf("channel = %+v", channel)
				}
			} else if channel.IsThread || channel.ID != "100" || channel.Name != "builds" {
				t.Fatalf("channel = %+v", channel)
			}
			if _, ok := channel.Handle.(ChatRef); !ok {
				t.Fatalf("handle type = %T, want ChatRef", channel.Handle)
			}
		})
	}
}
