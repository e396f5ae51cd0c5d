package hookrelay

import (
	"context"
	"fmt"
)

// Embed is structured rich content attached to a reply or notification.
type Embed struct {
	// Title is the embed heading.
	Title string
	// Description is the embed body.
	Description string
	// Color is a 24-bit RGB accent color. Zero means platform default.
	Color int
}

// Reply is one caller-visible response.
type Reply struct {
	// Text is the main message body.
	Text string
	// Embed optionally attaches rich content.
	Embed *Embed
	// Ephemeral requests caller-only visibility when the platform supports it.
	Ephemeral bool
}

// Validate checks that a reply carries visible content.
func (r Reply) Validate() error {
	if r.Text == "" && (r.Embed == nil || (r.Embed.Title == "" && r.Embed.Description == "")) {
		return fmt.Errorf("%w: empty reply", ErrInvalidReply)
	}

	return nil
}

// Responder is the platform adapter's reply primitive for one invocation.
//
// Defer sends a lightweight acknowledgment so the platform does not time out
// while the handler is still working. Reply delivers the terminal response.
type Responder interface {
	// Defer acknowledges the invocation without a final answer.
	Defer(ctx context.Context) error
	// Reply delivers the terminal reply.
	Reply(ctx context.Context, reply Reply) error
}

// Embed colors used by built-in replies.
const (
	ColorSuccess = 0x57F287
	ColorFailure = 0xED4245
	ColorInfo    = 0x5865F2
	ColorReady   = 0x00FFFF
)

// FailureReply builds the terminal error reply for err.
//
// The text carries ReplyCause(err) so callers see the HTTP status or the
// offending parameter, never internal wrapping.
func FailureReply(err error) Reply {
	cause := ReplyCause(err)
	if cause == "" || cause == GenericErrorReply {
		return Reply{Text: GenericErrorReply, Ephemeral: true}
	}

	return Reply{
		Text:      "Command failed: " + cause,
		Ephemeral: true,
	}
}
