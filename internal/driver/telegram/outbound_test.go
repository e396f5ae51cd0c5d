package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"hookrelay/pkg/hookrelay"
)

func TestOutboundResponderDeferThenReplyEditsPlaceholder(t *testing.T) {
	t.Parallel()

	outbound, rpc := newTestOutbound(t)
	responder := outbound.Responder(testUpdate())

	if err := responder.Defer(context.Background()); err != nil {
		t.Fatalf("defer failed: %v", err)
	}
	if err := responder.Defer(context.Background()); err != nil {
		t.Fatalf("second defer failed: %v", err)
	}
	if err := responder.Reply(context.Background(), hookrelay.Reply{Text: "done"}); err != nil {
		t.Fatalf("reply failed: %v", err)
	}

	if len(rpc.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(rpc.sends))
	}
	if rpc.sends[0].text != defaultDeferText || rpc.sends[0].replyTo != 7 {
		t.Fatalf("placeholder send = %+v", rpc.sends[0])
	}
	if len(rpc.edits) != 1 || rpc.edits[0].messageID != 901 || rpc.edits[0].text != "done" {
		t.Fatalf("edits = %+v", rpc.edits)
	}
}

func TestOutboundResponderReplyWithoutDeferSends(t *testing.T) {
	t.Parallel()

	outbound, rpc := newTestOutbound(t)
	responder := outbound.Responder(testUpdate())

	if err := responder.Reply(context.Background(), hookrelay.Reply{Text: "pong!"}); err != nil {
		t.Fatalf("reply failed: %v", err)
	}
	if len(rpc.sends) != 1 || rpc.sends[0].text != "pong!" || len(rpc.edits) != 0 {
		t.Fatalf("sends = %+v edits = %+v", rpc.sends, rpc.edits)
	}
}

func TestOutboundResponderFallsBackWhenEditFails(t *testing.T) {
	t.Parallel()

	outbound, rpc := newTestOutbound(t)
	rpc.editErr = errors.New("message not modified")
	responder := outbound.Responder(testUpdate())

	if err := responder.Defer(context.Background()); err != nil {
		t.Fatalf("defer failed: %v", err)
	}
	if err := responder.Reply(context.Background(), hookrelay.Reply{Text: "done"}); err != nil {
		t.Fatalf("reply failed: %v", err)
	}
	if len(rpc.sends) != 2 || rpc.sends[1].text != "done" {
		t.Fatalf("sends = %+v", rpc.sends)
	}
}

func TestOutboundSendReplyErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		chat     ChatRef
		reply    hookrelay.Reply
		rpcErr   error
		wantKind OutboundErrorKind
	}{
		{
			name:  "empty reply",
			chat:  ChatRef{ID: "100", Type: hookrelay.ChannelTypeGroup},
			reply: hookrelay.Reply{},
		},
		{
			name:  "unknown chat",
			chat:  ChatRef{ID: "999", Type: hookrelay.ChannelTypeGroup},
			reply: hookrelay.Reply{Text: "x"},
		},
		{
			name:     "flood wait",
			chat:     ChatRef{ID: "100", Type: hookrelay.ChannelTypeGroup},
			reply:    hookrelay.Reply{Text: "x"},
			rpcErr:   tgerr.New(420, "FLOOD_WAIT_3"),
			wantKind: OutboundErrorKindRateLimited,
		},
		{
			name:     "forbidden",
			chat:     ChatRef{ID: "100", Type: hookrelay.ChannelTypeGroup},
			reply:    hookrelay.Reply{Text: "x"},
			rpcErr:   tgerr.New(403, "CHAT_WRITE_FORBIDDEN"),
			wantKind: OutboundErrorKindPermanent,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			outbound, rpc := newTestOutbound(t)
			rpc.sendErr = testCase.rpcErr

			_, err := outbound.SendReply(context.Background(), testCase.chat, 0, testCase.reply)
			if err == nil {
				t.Fatal("expected error")
			}
			if testCase.wantKind == "" {
				return
			}
			outboundErr, ok := AsOutboundError(err)
			if !ok {
				t.Fatalf("error = %v, want *OutboundError", err)
			}
			if outboundErr.Kind != testCase.wantKind || outboundErr.Operation != OutboundOperationSendMessage {
				t.Fatalf("outbound error = %+v", outboundErr)
			}
		})
	}
}

func TestOutboundPublishCommands(t *testing.T) {
	t.Parallel()

	outbound, rpc := newTestOutbound(t)
	err := outbound.PublishCommands(context.Background(), []hookrelay.RegisteredCommand{
		{ModuleName: "pingpong", Command: hookrelay.CommandDescriptor{Name: "ping", Description: "Replies with pong"}},
		{
			ModuleName: "webhook",
			Command: hookrelay.CommandDescriptor{
				Name:       "test",
				Parameters: []hookrelay.ParameterSpec{{Name: "url", Required: true}},
			},
		},
	})
	if err != nil {
		t.Fatalf("publish commands failed: %v", err)
	}

	if len(rpc.commands) != 2 {
		t.Fatalf("commands = %+v", rpc.commands)
	}
	if rpc.commands[0].Command != "ping" || rpc.commands[0].Description != "Replies with pong" {
		t.Fatalf("commands[0] = %+v", rpc.commands[0])
	}
	if rpc.commands[1].Description != "/test url=<value>" {
		t.Fatalf("commands[1] description = %q, want usage", rpc.commands[1].Description)
	}
}

func TestRenderReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		reply        hookrelay.Reply
		wantText     string
		wantEntities int
		wantOffset   int
		wantLength   int
	}{
		{
			name:     "text only",
			reply:    hookrelay.Reply{Text: "pong!"},
			wantText: "pong!",
		},
		{
			name: "text and embed",
			reply: hookrelay.Reply{
				Text:  "✅ Sent",
				Embed: &hookrelay.Embed{Title: "Response 200 OK", Description: "ok"},
			},
			wantText:     "✅ Sent\n\nResponse 200 OK\nok",
			wantEntities: 1,
			wantOffset:   8,
			wantLength:   15,
		},
		{
			name: "astral characters count twice",
			reply: hookrelay.Reply{
				Text:  "📡",
				Embed: &hookrelay.Embed{Title: "Ready"},
			},
			wantText:     "📡\n\nReady",
			wantEntities: 1,
			wantOffset:   4,
			wantLength:   5,
		},
		{
			name:     "embed description only",
			reply:    hookrelay.Reply{Embed: &hookrelay.Embed{Description: "body"}},
			wantText: "body",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			text, entities := renderReply(testCase.reply)
			if text != testCase.wantText {
				t.Fatalf("text = %q, want %q", text, testCase.wantText)
			}
			if len(entities) != testCase.wantEntities {
				t.Fatalf("entities = %d, want %d", len(entities), testCase.wantEntities)
			}
			if len(entities) == 0 {
				return
			}
			if got := typeName(entities[0]); got != "*tg.MessageEntityBold" {
				t.Fatalf("entity type = %s", got)
			}
			if entities[0].GetOffset() != testCase.wantOffset || entities[0].GetLength() != testCase.wantLength {
				t.Fatalf("entity = [%d,+%d), want [%d,+%d)",
					entities[0].GetOffset(), entities[0].GetLength(), testCase.wantOffset, testCase.wantLength)
			}
		})
	}
}

func TestRenderReplyClipsLongMessages(t *testing.T) {
	t.Parallel()

	text, _ := renderReply(hookrelay.Reply{Text: strings.Repeat("a", maxMessageLength+10)})
	if len(text) != maxMessageLength {
		t.Fatalf("len = %d, want %d", len(text), maxMessageLength)
	}

	clipped := clipUTF16("a📡b", 2)
	if clipped != "a" {
		t.Fatalf("clipped = %q, want rune-safe cut", clipped)
	}
}

func newTestOutbound(t *testing.T) (*Outbound, *stubOutboundRPC) {
	t.Helper()

	cache := newTestPeerCache(t, 0)
	cache.RememberConversation(
		ChatRef{ID: "100", Type: hookrelay.ChannelTypeGroup},
		&tg.InputPeerChat{ChatID: 100},
	)

	rpc := &stubOutboundRPC{sendID: 901}
	outbound, err := newOutboundWithRPC(rpc, cache)
	if err != nil {
		t.Fatalf("new outbound failed: %v", err)
	}

	return outbound, rpc
}

func testUpdate() Update {
	return Update{
		ID:      "tg:100:7",
		Chat:    ChatRef{ID: "100", Title: "builds", Type: hookrelay.ChannelTypeGroup},
		Actor:   ActorRef{ID: "42"},
		Message: MessagePayload{ID: "7", Text: "/ping"},
	}
}

type sentText struct {
	text     string
	entities []tg.MessageEntityClass
	replyTo  int
}

type editedText struct {
	messageID int
	text      string
}

type stubOutboundRPC struct {
	sendID   int
	sendErr  error
	editErr  error
	sends    []sentText
	edits    []editedText
	commands []tg.BotCommand
}

func (s *stubOutboundRPC) SendText(
	_ context.Context,
	_ tg.InputPeerClass,
	text string,
	entities []tg.MessageEntityClass,
	replyTo int,
) (int, error) {
	s.sends = append(s.sends, sentText{text: text, entities: entities, replyTo: replyTo})
	if s.sendErr != nil {
		return 0, s.sendErr
	}

	return s.sendID, nil
}

func (s *stubOutboundRPC) EditText(
	_ context.Context,
	_ tg.InputPeerClass,
	messageID int,
	text string,
	_ []tg.MessageEntityClass,
) error {
	s.edits = append(s.edits, editedText{messageID: messageID, text: text})
	return s.editErr
}

func (s *stubOutboundRPC) SetCommands(_ context.Context, commands []tg.BotCommand) error {
	s.commands = append([]tg.BotCommand(nil), commands...)
	return nil
}

func typeName(value any) string {
	return fmt.Sprintf("%T", value)
}
