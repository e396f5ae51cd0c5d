package hookrelay

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInvocation indicates that an invocation does not satisfy protocol invariants.
	ErrInvalidInvocation = errors.New("hookrelay: invalid invocation")
	// ErrInvalidReply indicates that a reply carries no visible content.
	ErrInvalidReply = errors.New("hookrelay: invalid reply")
	// ErrInvalidRelayRequest indicates that a relay request cannot be issued.
	ErrInvalidRelayRequest = errors.New("hookrelay: invalid relay request")
	// ErrCommandAlreadyRegistered indicates duplicate command registration.
	ErrCommandAlreadyRegistered = errors.New("hookrelay: command already registered")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("hookrelay: module already registered")
	// ErrDriverAlreadyRegistered indicates duplicate driver registration.
	ErrDriverAlreadyRegistered = errors.New("hookrelay: driver already registered")
	// ErrUnknownCommand indicates a dispatch for a name that is not registered.
	ErrUnknownCommand = errors.New("hookrelay: unknown command")
	// ErrAlreadyReplied indicates a second terminal reply for one invocation.
	ErrAlreadyReplied = errors.New("hookrelay: invocation already replied")
)

// ValidationError reports a missing or malformed command argument.
//
// It is raised before any network call is made.
type ValidationError struct {
	// Command is the command whose arguments failed validation.
	Command string
	// Parameter is the offending parameter name when known.
	Parameter string
	// Reason is a short human-readable cause.
	Reason string
}

// Error returns one operator-readable failure summary.
func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Parameter == "" {
		return fmt.Sprintf("validate %s: %s", e.Command, e.Reason)
	}

	return fmt.Sprintf("validate %s: %s: %s", e.Command, e.Parameter, e.Reason)
}

// RelayErrorKind classifies outbound relay failures.
type RelayErrorKind string

const (
	// RelayErrorKindNetwork indicates connection, DNS, or timeout failure.
	RelayErrorKindNetwork RelayErrorKind = "network_failure"
	// RelayErrorKindHTTP indicates a non-2xx backend response.
	RelayErrorKindHTTP RelayErrorKind = "http_error"
	// RelayErrorKindDecode indicates an unreadable response body.
	RelayErrorKindDecode RelayErrorKind = "decode_failure"
)

// RelayError carries structured metadata for one failed relay call.
type RelayError struct {
	// Kind classifies the failure.
	Kind RelayErrorKind
	// URL is the requested URL.
	URL string
	// StatusCode is the backend HTTP status for HTTP errors.
	StatusCode int
	// Status is the backend HTTP status text, e.g. "500 Internal Server Error".
	Status string
	// Cause is the wrapped transport error.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *RelayError) Error() string {
	if e == nil {
		return "<nil>"
	}

	fields := make([]string, 0, 3)
	if kind := strings.TrimSpace(string(e.Kind)); kind != "" {
		fields = append(fields, "kind="+kind)
	}
	if e.StatusCode != 0 {
		fields = append(fields, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.URL != "" {
		fields = append(fields, "url="+e.URL)
	}

	message := "relay error"
	if len(fields) > 0 {
		message += ": " + strings.Join(fields, " ")
	}
	if e.Cause != nil {
		message += ": " + e.Cause.Error()
	}

	return message
}

// Unwrap returns the wrapped root cause.
func (e *RelayError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// ShortCause returns a short caller-facing description of the failure.
func (e *RelayError) ShortCause() string {
	if e == nil {
		return ""
	}

	switch e.Kind {
	case RelayErrorKindHTTP:
		status := strings.TrimSpace(e.Status)
		if status == "" {
			status = fmt.Sprintf("%d", e.StatusCode)
		}
		if !strings.HasPrefix(status, fmt.Sprintf("%d", e.StatusCode)) {
			status = fmt.Sprintf("%d %s", e.StatusCode, status)
		}
		return "HTTP " + status
	case RelayErrorKindDecode:
		return "could not read response body"
	default:
		if e.Cause != nil {
			return e.Cause.Error()
		}
		return "network failure"
	}
}

// AsRelayError extracts one RelayError from wrapped error chains.
func AsRelayError(err error) (*RelayError, bool) {
	if err == nil {
		return nil, false
	}

	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr, true
	}

	return nil, false
}

// SinkErrorKind classifies notification sink failures.
type SinkErrorKind string

const (
	// SinkErrorKindUnreachable indicates the sink endpoint could not be reached.
	SinkErrorKindUnreachable SinkErrorKind = "unreachable"
	// SinkErrorKindRejected indicates the sink answered with a non-2xx status.
	SinkErrorKindRejected SinkErrorKind = "rejected"
)

// SinkError carries structured metadata for one failed notification post.
type SinkError struct {
	// Kind classifies the failure.
	Kind SinkErrorKind
	// StatusCode is the sink HTTP status for rejected posts.
	StatusCode int
	// Cause is the wrapped transport error.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *SinkError) Error() string {
	if e == nil {
		return "<nil>"
	}

	message := "sink error: kind=" + string(e.Kind)
	if e.StatusCode != 0 {
		message += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Cause != nil {
		message += ": " + e.Cause.Error()
	}

	return message
}

// Unwrap returns the wrapped root cause.
func (e *SinkError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// AsSinkError extracts one SinkError from wrapped error chains.
func AsSinkError(err error) (*SinkError, bool) {
	if err == nil {
		return nil, false
	}

	var sinkErr *SinkError
	if errors.As(err, &sinkErr) {
		return sinkErr, true
	}

	return nil, false
}

// DispatchError reports an invocation for a command name with no registration.
type DispatchError struct {
	// CommandName is the unresolved name.
	CommandName string
}

// Error returns one operator-readable failure summary.
func (e *DispatchError) Error() string {
	if e == nil {
		return "<nil>"
	}

	return fmt.Sprintf("dispatch %s: %v", e.CommandName, ErrUnknownCommand)
}

// Unwrap exposes ErrUnknownCommand for errors.Is matching.
func (e *DispatchError) Unwrap() error {
	return ErrUnknownCommand
}

// GenericErrorReply is the caller-visible text used when no better cause is known.
const GenericErrorReply = "There was an error while executing this command!"

// ReplyCause derives a short human-readable cause suitable for a public reply.
//
// It never includes stack traces or wrapped operator context.
func ReplyCause(err error) string {
	if err == nil {
		return ""
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		if validationErr.Parameter == "" {
			return validationErr.Reason
		}
		return validationErr.Parameter + ": " + validationErr.Reason
	}
	if relayErr, ok := AsRelayError(err); ok {
		return relayErr.ShortCause()
	}

	return GenericErrorReply
}
