package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tgerr"
)

// OutboundOperation names one Telegram write operation.
type OutboundOperation string

const (
	// OutboundOperationSendMessage sends a new message.
	OutboundOperationSendMessage OutboundOperation = "send_message"
	// OutboundOperationEditMessage replaces a placeholder message.
	OutboundOperationEditMessage OutboundOperation = "edit_message"
	// OutboundOperationSetCommands publishes the bot command menu.
	OutboundOperationSetCommands OutboundOperation = "set_commands"
)

// OutboundErrorKind classifies Telegram RPC failures.
type OutboundErrorKind string

const (
	// OutboundErrorKindUnknown is an unclassified failure.
	OutboundErrorKindUnknown OutboundErrorKind = "unknown"
	// OutboundErrorKindRateLimited is a flood wait.
	OutboundErrorKindRateLimited OutboundErrorKind = "rate_limited"
	// OutboundErrorKindTemporary may succeed on retry.
	OutboundErrorKindTemporary OutboundErrorKind = "temporary"
	// OutboundErrorKindPermanent will not succeed on retry.
	OutboundErrorKindPermanent OutboundErrorKind = "permanent"
)

// OutboundError is a classified Telegram write failure.
type OutboundError struct {
	Operation  OutboundOperation
	Kind       OutboundErrorKind
	Code       int
	Type       string
	RetryAfter time.Duration
	Cause      error
}

// Error returns one operator-readable failure summary.
func (e *OutboundError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Type != "" {
		return fmt.Sprintf("telegram %s %s (%d %s): %v", e.Operation, e.Kind, e.Code, e.Type, e.Cause)
	}

	return fmt.Sprintf("telegram %s %s: %v", e.Operation, e.Kind, e.Cause)
}

// Unwrap exposes the RPC cause.
func (e *OutboundError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// AsOutboundError extracts an *OutboundError from err.
func AsOutboundError(err error) (*OutboundError, bool) {
	var outboundErr *OutboundError
	if !errors.As(err, &outboundErr) {
		return nil, false
	}

	return outboundErr, true
}

func mapTelegramOutboundError(operation OutboundOperation, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsOutboundError(err); ok {
		return err
	}

	outboundErr := &OutboundError{
		Operation: operation,
		Kind:      OutboundErrorKindUnknown,
		Cause:     err,
	}

	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		outboundErr.Kind = OutboundErrorKindRateLimited
		outboundErr.RetryAfter = retryAfter
		if rpcErr, hasRPC := tgerr.As(err); hasRPC {
			outboundErr.Code = rpcErr.Code
			outboundErr.Type = rpcErr.Type
		}

		return outboundErr
	}

	rpcErr, ok := tgerr.As(err)
	if !ok {
		return outboundErr
	}

	outboundErr.Code = rpcErr.Code
	outboundErr.Type = rpcErr.Type
	outboundErr.Kind = classifyTelegramRPCError(rpcErr)

	return outboundErr
}

func classifyTelegramRPCError(rpcErr *tgerr.Error) OutboundErrorKind {
	if rpcErr == nil {
		return OutboundErrorKindUnknown
	}

	errorType := strings.ToUpper(strings.TrimSpace(rpcErr.Type))
	if rpcErr.Code == 420 || rpcErr.Code == 429 || strings.Contains(errorType, "FLOOD") {
		return OutboundErrorKindRateLimited
	}

	switch rpcErr.Code {
	case 303:
		return OutboundErrorKindTemporary
	case 400, 401, 403, 404, 405, 406:
		return OutboundErrorKindPermanent
	}
	if rpcErr.Code >= 500 {
		return OutboundErrorKindTemporary
	}

	return OutboundErrorKindUnknown
}
