package hookrelay

import (
	"fmt"
	"time"
)

// ChannelType identifies the conversation shape an invocation arrived from.
type ChannelType string

const (
	// ChannelTypePrivate identifies one-to-one conversations.
	ChannelTypePrivate ChannelType = "private"
	// ChannelTypeGroup identifies multi-member group conversations.
	ChannelTypeGroup ChannelType = "group"
	// ChannelTypeChannel identifies broadcast channels.
	ChannelTypeChannel ChannelType = "channel"
)

// Caller identifies the user who triggered an invocation.
type Caller struct {
	// ID is the platform user identifier.
	ID string
	// Username is the platform handle when known.
	Username string
	// DisplayName is the human-readable name when known.
	DisplayName string
}

// Channel describes where an invocation was issued.
type Channel struct {
	// ID is the platform conversation identifier.
	ID string
	// Name is the conversation title when known.
	Name string
	// Type is the conversation shape.
	Type ChannelType
	// ParentID identifies the enclosing category or forum when known.
	ParentID string
	// ParentName is the enclosing category or forum title when known.
	ParentName string
	// IsThread reports whether the invocation arrived inside a thread.
	IsThread bool
	// Handle is the opaque platform handle owned by the adapter.
	Handle any
}

// Invocation is one command-triggering event from the chat platform.
//
// It is created by the platform adapter, consumed by the dispatcher, and
// discarded once the handler reaches a terminal state.
type Invocation struct {
	// ID uniquely identifies this invocation for logs and traces.
	ID string
	// CommandName is the normalized command name.
	CommandName string
	// RawArguments maps parameter names to raw string values.
	RawArguments map[string]string
	// Caller identifies the invoking user.
	Caller Caller
	// Channel identifies the invoking conversation.
	Channel Channel
	// OccurredAt is when the platform observed the invocation.
	OccurredAt time.Time
}

// Validate checks invocation contract fields.
func (i *Invocation) Validate() error {
	if i == nil {
		return fmt.Errorf("%w: nil invocation", ErrInvalidInvocation)
	}
	if normalizeName(i.CommandName) == "" {
		return fmt.Errorf("%w: missing command name", ErrInvalidInvocation)
	}

	return nil
}
