// Package notify posts status broadcasts to a fixed webhook channel.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"hookrelay/pkg/hookrelay"
)

const (
	// DefaultAPIBase is the webhook execute API root.
	DefaultAPIBase = "https://discord.com/api/v10"
	// DefaultLinkBase is the root used to derive message links.
	DefaultLinkBase = "https://discord.com"

	maxContentChars     = 2000
	maxDescriptionChars = 4096
	maxTitleChars       = 256
	maxResponseBytes    = 64 << 10
	defaultTimeout      = 10 * time.Second
)

var _ hookrelay.NotificationSink = (*WebhookSink)(nil)

// Credentials identify one webhook.
type Credentials struct {
	// ID is the webhook identifier.
	ID string
	// Token is the webhook secret.
	Token string
}

// Validate checks that both credential parts are present.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("validate webhook credentials: missing id")
	}
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("validate webhook credentials: missing token")
	}

	return nil
}

// String hides the token.
func (c Credentials) String() string {
	return "webhook(" + c.ID + ")"
}

type config struct {
	apiBase    string
	linkBase   string
	username   string
	guildID    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// Option mutates sink construction configuration.
type Option func(*config)

func defaultConfig() config {
	return config{
		apiBase:    DefaultAPIBase,
		linkBase:   DefaultLinkBase,
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
}

// WithAPIBase overrides the webhook execute API root.
func WithAPIBase(base string) Option {
	return func(cfg *config) {
		if trimmed := strings.TrimRight(strings.TrimSpace(base), "/"); trimmed != "" {
			cfg.apiBase = trimmed
		}
	}
}

// WithLinkBase overrides the root used for message links.
func WithLinkBase(base string) Option {
	return func(cfg *config) {
		if trimmed := strings.TrimRight(strings.TrimSpace(base), "/"); trimmed != "" {
			cfg.linkBase = trimmed
		}
	}
}

// WithUsername overrides the display name of posted messages.
func WithUsername(username string) Option {
	return func(cfg *config) {
		cfg.username = strings.TrimSpace(username)
	}
}

// WithGuildID sets the guild used for links when responses omit it.
func WithGuildID(guildID string) Option {
	return func(cfg *config) {
		cfg.guildID = strings.TrimSpace(guildID)
	}
}

// WithTimeout bounds each post. Non-positive values are ignored.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *config) {
		if client != nil {
			cfg.httpClient = client
		}
	}
}

// WithLogger configures the sink logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WebhookSink posts messages through the webhook execute API.
//
// Credentials and endpoints are fixed at construction. WebhookSink is safe for
// concurrent use.
type WebhookSink struct {
	cfg      config
	endpoint string
}

// NewWebhookSink creates a sink for one webhook.
func NewWebhookSink(credentials Credentials, options ...Option) (*WebhookSink, error) {
	if err := credentials.Validate(); err != nil {
		return nil, fmt.Errorf("new webhook sink: %w", err)
	}

	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}
	if _, err := url.Parse(cfg.apiBase); err != nil {
		return nil, fmt.Errorf("new webhook sink: parse api base: %w", err)
	}

	endpoint := cfg.apiBase + "/webhooks/" +
		url.PathEscape(strings.TrimSpace(credentials.ID)) + "/" +
		url.PathEscape(strings.TrimSpace(credentials.Token)) + "?wait=true"

	return &WebhookSink{cfg: cfg, endpoint: endpoint}, nil
}

type webhookPayload struct {
	Content  string         `json:"content,omitempty"`
	Username string         `json:"username,omitempty"`
	Embeds   []webhookEmbed `json:"embeds,omitempty"`
}

type webhookEmbed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color,omitempty"`
}

// Post publishes content with an optional embed.
//
// A 2xx response without a message id yields a nil result and nil error.
func (s *WebhookSink) Post(ctx context.Context, content string, embed *hookrelay.Embed) (*hookrelay.NotificationResult, error) {
	payload := webhookPayload{
		Content:  clip(content, maxContentChars),
		Username: s.cfg.username,
	}
	if embed != nil {
		payload.Embeds = []webhookEmbed{{
			Title:       clip(embed.Title, maxTitleChars),
			Description: clip(embed.Description, maxDescriptionChars),
			Color:       embed.Color,
		}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("post webhook: marshal payload: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(callCtx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &hookrelay.SinkError{Kind: hookrelay.SinkErrorKindUnreachable, Cause: fmt.Errorf("build request: %w", redact(err))}
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.cfg.httpClient.Do(request)
	if err != nil {
		return nil, &hookrelay.SinkError{Kind: hookrelay.SinkErrorKindUnreachable, Cause: redact(err)}
	}
	defer func() {
		_ = response.Body.Close()
	}()

	raw, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if response.StatusCode < 200 || response.StatusCode > 299 {
		sinkErr := &hookrelay.SinkError{Kind: hookrelay.SinkErrorKindRejected, StatusCode: response.StatusCode}
		if detail := strings.TrimSpace(clip(string(raw), 200)); detail != "" {
			sinkErr.Cause = errors.New(detail)
		}
		return nil, sinkErr
	}
	if readErr != nil {
		s.cfg.logger.WarnContext(ctx, "webhook receipt unreadable", "error", readErr)
		return nil, nil
	}

	return s.result(raw), nil
}

func (s *WebhookSink) result(raw []byte) *hookrelay.NotificationResult {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return nil
	}

	fields := gjson.GetManyBytes(raw, "id", "channel_id", "guild_id")
	messageID := fields[0].String()
	if messageID == "" {
		return nil
	}

	result := &hookrelay.NotificationResult{MessageID: messageID}
	channelID := fields[1].String()
	if channelID == "" {
		return result
	}
	guildID := fields[2].String()
	if guildID == "" {
		guildID = s.cfg.guildID
	}
	if guildID == "" {
		guildID = "@me"
	}
	result.MessageURL = s.cfg.linkBase + "/channels/" + guildID + "/" + channelID + "/" + messageID

	return result
}

// redact strips the request URL, which embeds the webhook token.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}

	return err
}

func clip(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}

	return string([]rune(text)[:limit])
}
