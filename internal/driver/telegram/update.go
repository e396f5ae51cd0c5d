package telegram

import (
	"context"
	"fmt"
	"time"

	"hookrelay/pkg/hookrelay"
)

// Update is one inbound Telegram message reduced to what command decoding needs.
type Update struct {
	// ID is "tg:<chat>:<message>" and unique per delivered message.
	ID string
	// OccurredAt is the message send time reported by Telegram.
	OccurredAt time.Time
	Chat       ChatRef
	Actor      ActorRef
	Message    MessagePayload
}

// ChatRef identifies the conversation a command was typed into.
//
// ID is also the key used to resolve an outbound peer from the peer cache.
type ChatRef struct {
	ID    string
	Title string
	Type  hookrelay.ChannelType
}

// ActorRef identifies the sender of a command message.
type ActorRef struct {
	ID          string
	Username    string
	DisplayName string
	// IsBot marks messages authored by bot accounts, which never invoke commands.
	IsBot bool
}

// MessagePayload carries the command text and its reply/thread anchors.
type MessagePayload struct {
	ID string
	// ThreadID is the forum topic id when the message was posted inside a topic.
	ThreadID  string
	ReplyToID string
	Text      string
}

// UpdateHandler receives each mapped update in arrival order.
type UpdateHandler func(ctx context.Context, update Update) error

// UpdateSource feeds updates to the driver until ctx ends.
type UpdateSource interface {
	// Consume blocks while delivering updates to handler.
	Consume(ctx context.Context, handler UpdateHandler) error
}

// ChannelSource delivers updates pushed onto Updates.
//
// It returns nil once Updates is closed or ctx is done.
type ChannelSource struct {
	Updates <-chan Update
}

// Consume delivers queued updates to handler.
func (s ChannelSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("consume channel updates: nil handler")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-s.Updates:
			if !ok {
				return nil
			}
			if err := handler(ctx, update); err != nil {
				return fmt.Errorf("consume channel update %s: %w", update.ID, err)
			}
		}
	}
}
