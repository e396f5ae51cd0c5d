// Package relay performs outbound backend calls and normalizes their responses
// for display in chat replies.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hookrelay/pkg/hookrelay"
)

const (
	// MaxBodyChars is the display ceiling for relayed response bodies.
	MaxBodyChars = 1900
	// TruncationMarker is appended on its own line when a body is cut.
	TruncationMarker = "...[truncated]"
)

var _ hookrelay.RelayClient = (*Client)(nil)

var prettyOptions = &pretty.Options{Width: 80, Prefix: "", Indent: "  ", SortKeys: false}

// Client issues one-shot HTTP calls against workflow backends.
//
// Client is immutable after New and safe for concurrent use.
type Client struct {
	cfg config
}

// New creates a relay client.
func New(options ...Option) *Client {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &Client{cfg: cfg}
}

// Fetch issues request once and classifies the response.
//
// Transport failures, non-2xx statuses, and unreadable bodies are returned as
// *hookrelay.RelayError. Calls are never retried.
func (c *Client) Fetch(ctx context.Context, request hookrelay.RelayRequest) (hookrelay.RelayResponse, error) {
	ctx, span := c.cfg.tracer.Start(ctx, "relay.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", string(request.Method)),
			attribute.String("relay.host", hostOf(request.URL)),
		),
	)
	defer span.End()

	response, err := c.fetch(ctx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "relay fetch failed")
		if relayErr, ok := hookrelay.AsRelayError(err); ok && relayErr.StatusCode != 0 {
			span.SetAttributes(attribute.Int("http.status_code", relayErr.StatusCode))
		}
		return hookrelay.RelayResponse{}, err
	}
	span.SetAttributes(attribute.Int("http.status_code", response.StatusCode))

	return response, nil
}

func (c *Client) fetch(ctx context.Context, request hookrelay.RelayRequest) (hookrelay.RelayResponse, error) {
	if err := request.Validate(); err != nil {
		return hookrelay.RelayResponse{}, &hookrelay.RelayError{
			Kind:  hookrelay.RelayErrorKindNetwork,
			URL:   request.URL,
			Cause: err,
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.timeout)
	defer cancel()

	var body io.Reader
	if len(request.Body) > 0 {
		body = bytes.NewReader(request.Body)
	}
	httpRequest, err := http.NewRequestWithContext(callCtx, string(request.Method), request.URL, body)
	if err != nil {
		return hookrelay.RelayResponse{}, &hookrelay.RelayError{
			Kind:  hookrelay.RelayErrorKindNetwork,
			URL:   request.URL,
			Cause: fmt.Errorf("%w: %w", hookrelay.ErrInvalidRelayRequest, err),
		}
	}
	httpRequest.Header.Set("User-Agent", c.cfg.userAgent)
	if request.Method == hookrelay.MethodPost {
		httpRequest.Header.Set("Content-Type", "application/json")
	}
	for key, value := range request.Headers {
		httpRequest.Header.Set(key, value)
	}

	started := time.Now()
	httpResponse, err := c.cfg.httpClient.Do(httpRequest)
	if err != nil {
		c.cfg.logger.WarnContext(ctx, "relay call failed",
			"method", request.Method,
			"host", hostOf(request.URL),
			"duration", time.Since(started),
			"error", err,
		)
		return hookrelay.RelayResponse{}, &hookrelay.RelayError{
			Kind:  hookrelay.RelayErrorKindNetwork,
			URL:   request.URL,
			Cause: unwrapURLError(err),
		}
	}
	defer func() {
		_ = httpResponse.Body.Close()
	}()

	c.cfg.logger.DebugContext(ctx, "relay call completed",
		"method", request.Method,
		"host", hostOf(request.URL),
		"status", httpResponse.StatusCode,
		"duration", time.Since(started),
	)

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return hookrelay.RelayResponse{}, &hookrelay.RelayError{
			Kind:       hookrelay.RelayErrorKindHTTP,
			URL:        request.URL,
			StatusCode: httpResponse.StatusCode,
			Status:     httpResponse.Status,
		}
	}

	raw, err := io.ReadAll(io.LimitReader(httpResponse.Body, c.cfg.maxBodyBytes))
	if err != nil {
		return hookrelay.RelayResponse{}, &hookrelay.RelayError{
			Kind:       hookrelay.RelayErrorKindDecode,
			URL:        request.URL,
			StatusCode: httpResponse.StatusCode,
			Status:     httpResponse.Status,
			Cause:      fmt.Errorf("read response body: %w", err),
		}
	}

	contentType := httpResponse.Header.Get("Content-Type")
	text, message := Normalize(contentType, raw)

	return hookrelay.RelayResponse{
		StatusCode:  httpResponse.StatusCode,
		Status:      httpResponse.Status,
		ContentType: contentType,
		BodyText:    Truncate(text),
		Message:     message,
	}, nil
}

// Normalize renders a response body for display.
//
// JSON bodies are pretty-printed and their top-level "message" string is
// returned separately. Invalid JSON degrades to the raw text.
func Normalize(contentType string, body []byte) (text string, message string) {
	if !strings.Contains(strings.ToLower(contentType), "application/json") {
		return string(body), ""
	}
	if !gjson.ValidBytes(body) {
		return string(body), ""
	}

	if field := gjson.GetBytes(body, "message"); field.Type == gjson.String {
		message = field.Str
	}
	formatted := pretty.PrettyOptions(body, prettyOptions)

	return strings.TrimRight(string(formatted), "\n"), message
}

// Truncate cuts text longer than MaxBodyChars characters and appends the
// truncation marker on a new line.
func Truncate(text string) string {
	if utf8.RuneCountInString(text) <= MaxBodyChars {
		return text
	}

	runes := []rune(text)

	return string(runes[:MaxBodyChars]) + "\n" + TruncationMarker
}

func hostOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	return parsed.Host
}

// unwrapURLError drops the *url.Error envelope so replies do not echo the
// full request URL.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}

	return err
}
