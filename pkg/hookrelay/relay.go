package hookrelay

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Method identifies the HTTP method of one relay call.
type Method string

const (
	// MethodGet issues a GET request with parameters in the query string.
	MethodGet Method = http.MethodGet
	// MethodPost issues a POST request with a JSON body.
	MethodPost Method = http.MethodPost
)

// ParseMethod normalizes one configured method name. Empty means GET.
func ParseMethod(raw string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", http.MethodGet:
		return MethodGet, nil
	case http.MethodPost:
		return MethodPost, nil
	default:
		return "", fmt.Errorf("parse method: unsupported method %q", raw)
	}
}

// RelayRequest describes one outbound backend call.
//
// It is built fresh per invocation and never reused.
type RelayRequest struct {
	// URL is the final request URL including any query string.
	URL string
	// Method is GET or POST.
	Method Method
	// Body is the optional request payload.
	Body []byte
	// Headers carries extra request headers.
	Headers map[string]string
}

// Validate checks the request envelope before it is issued.
func (r RelayRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("%w: missing url", ErrInvalidRelayRequest)
	}
	switch r.Method {
	case MethodGet, MethodPost:
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidRelayRequest, r.Method)
	}

	return nil
}

// RelayResponse is a normalized backend response.
type RelayResponse struct {
	// StatusCode is the backend HTTP status code.
	StatusCode int
	// Status is the backend HTTP status text.
	Status string
	// ContentType is the declared response content type when present.
	ContentType string
	// BodyText is the display body, already truncated with a visible marker.
	BodyText string
	// Message is the backend's top-level JSON "message" string when present.
	Message string
}

// RelayClient performs one outbound backend call.
type RelayClient interface {
	// Fetch issues request once and classifies the response.
	Fetch(ctx context.Context, request RelayRequest) (RelayResponse, error)
}

// NotificationResult identifies a message confirmed by the notification sink.
type NotificationResult struct {
	// MessageID is the sink-side message identifier.
	MessageID string
	// MessageURL links to the posted message when it can be derived.
	MessageURL string
}

// NotificationSink posts best-effort status broadcasts to a fixed channel.
//
// Implementations are immutable after construction and safe for concurrent use.
// A nil result with a nil error means the message was sent but no receipt is known.
type NotificationSink interface {
	// Post publishes content with an optional embed.
	Post(ctx context.Context, content string, embed *Embed) (*NotificationResult, error)
}
