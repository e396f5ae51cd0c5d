package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/gotd/td/tg"
)

func TestGotdUpdateChannelUpdatesNilContext(t *testing.T) {
	t.Parallel()

	stream, err := NewGotdUpdateChannel(8)
	if err != nil {
		t.Fatalf("new gotd update channel failed: %v", err)
	}

	var nilCtx context.Context
	if _, err := stream.Updates(nilCtx); err == nil {
		t.Fatal("expected nil context error")
	}
}

func TestGotdUpdateChannelHandleKeepsNewMessages(t *testing.T) {
	t.Parallel()

	stream, err := NewGotdUpdateChannel(16)
	if err != nil {
		t.Fatalf("new gotd update channel failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := stream.Updates(ctx)
	if err != nil {
		t.Fatalf("open updates stream failed: %v", err)
	}

	batch := &tg.Updates{
		Date: 1_700_000_010,
		Updates: []tg.UpdateClass{
			&tg.UpdateDeleteChannelMessages{ChannelID: 500, Messages: []int{101, 102}},
			&tg.UpdateNewChannelMessage{Message: &tg.Message{ID: 7, Message: "/ping"}},
			&tg.UpdateNewMessage{Message: &tg.Message{ID: 8, Message: "/help"}},
		},
		Users: []tg.UserClass{&tg.User{ID: 42, Username: "alice"}},
		Chats: []tg.ChatClass{&tg.Channel{ID: 500, Title: "builds", Megagroup: true}},
	}
	if err := stream.Handle(ctx, batch); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	collected := make([]gotdUpdateEnvelope, 0, 2)
	for i := 0; i < 2; i++ {
		select {
		case item := <-updates:
			envelope, ok := item.(gotdUpdateEnvelope)
			if !ok {
				t.Fatalf("item type = %T, want gotdUpdateEnvelope", item)
			}
			collected = append(collected, envelope)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out receiving flattened updates")
		}
	}
	select {
	case extra := <-updates:
		t.Fatalf("unexpected extra update %T", extra)
	default:
	}

	if _, ok := collected[0].update.(*tg.UpdateNewChannelMessage); !ok {
		t.Fatalf("first update = %T, want channel message", collected[0].update)
	}
	if collected[0].usersByID[42] == nil {
		t.Fatal("users index missing batch user")
	}
	if info := collected[0].chatsByID[500]; info.title != "builds" || info.kind != "group" {
		t.Fatalf("chat info = %+v, want megagroup as group", info)
	}
	if !collected[1].occurredAt.Equal(time.Unix(1_700_000_010, 0).UTC()) {
		t.Fatalf("occurred at = %v", collected[1].occurredAt)
	}
}

func TestGotdUpdateChannelHandleShortMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		updates   tg.UpdatesClass
		wantCount int
	}{
		{
			name:      "incoming private message",
			updates:   &tg.UpdateShortMessage{ID: 1, UserID: 42, Message: "/ping", Date: 1_700_000_000},
			wantCount: 1,
		},
		{
			name:      "outgoing private message skipped",
			updates:   &tg.UpdateShortMessage{ID: 1, UserID: 42, Message: "pong!", Out: true},
			wantCount: 0,
		},
		{
			name:      "incoming group message",
			updates:   &tg.UpdateShortChatMessage{ID: 2, FromID: 42, ChatID: 9, Message: "/ping"},
			wantCount: 1,
		},
		{
			name:      "too long is ignored",
			updates:   &tg.UpdatesTooLong{},
			wantCount: 0,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			batch, err := flattenGotdUpdates(testCase.updates)
			if err != nil {
				t.Fatalf("flatten failed: %v", err)
			}
			if len(batch) != testCase.wantCount {
				t.Fatalf("batch = %d, want %d", len(batch), testCase.wantCount)
			}
			if testCase.wantCount == 0 {
				return
			}
			newMessage, ok := batch[0].update.(*tg.UpdateNewMessage)
			if !ok {
				t.Fatalf("update = %T, want *tg.UpdateNewMessage", batch[0].update)
			}
			message, ok := newMessage.Message.(*tg.Message)
			if !ok || message.Message != "/ping" {
				t.Fatalf("message = %+v", newMessage.Message)
			}
		})
	}
}

func TestGotdUpdateChannelHandleCanceledContext(t *testing.T) {
	t.Parallel()

	stream, err := NewGotdUpdateChannel(1)
	if err != nil {
		t.Fatalf("new gotd update channel failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	update := &tg.UpdateShortMessage{ID: 1, UserID: 42, Message: "/a"}
	if err := stream.Handle(context.Background(), update); err != nil {
		t.Fatalf("first handle failed: %v", err)
	}
	if err := stream.Handle(ctx, update); err == nil {
		t.Fatal("expected canceled publish on full buffer")
	}
}
