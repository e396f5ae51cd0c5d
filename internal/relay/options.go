package relay

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 1 << 20
	defaultUserAgent    = "hookrelay/1.0"
	tracerName          = "hookrelay/internal/relay"
)

// config stores resolved client settings after option application.
type config struct {
	timeout      time.Duration
	maxBodyBytes int64
	userAgent    string
	httpClient   *http.Client
	logger       *slog.Logger
	tracer       trace.Tracer
}

// Option mutates relay client construction configuration.
type Option func(*config)

func defaultConfig() config {
	return config{
		timeout:      defaultTimeout,
		maxBodyBytes: defaultMaxBodyBytes,
		userAgent:    defaultUserAgent,
		httpClient:   &http.Client{},
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
	}
}

// WithTimeout bounds every outbound call. Non-positive values are ignored.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithMaxBodyBytes caps how many response bytes are read.
func WithMaxBodyBytes(limit int64) Option {
	return func(cfg *config) {
		if limit > 0 {
			cfg.maxBodyBytes = limit
		}
	}
}

// WithUserAgent overrides the User-Agent request header.
func WithUserAgent(userAgent string) Option {
	return func(cfg *config) {
		if trimmed := strings.TrimSpace(userAgent); trimmed != "" {
			cfg.userAgent = trimmed
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

// WithLogger configures the logger used for call diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithTracer configures the tracer used for relay.fetch spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(cfg *config) {
		if tracer != nil {
			cfg.tracer = tracer
		}
	}
}
