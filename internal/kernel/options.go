package kernel

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultModuleHookTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultHandlerTimeout    = 30 * time.Second
	tracerName               = "hookrelay/internal/kernel"
)

// config stores resolved kernel runtime settings after option application.
type config struct {
	moduleHookTimeout time.Duration
	shutdownTimeout   time.Duration
	handlerTimeout    time.Duration
	logger            *slog.Logger
	tracer            trace.Tracer
	newID             func() string
	onAsyncError      func(context.Context, string, error)
}

// Option mutates kernel construction configuration.
type Option func(*config)

// defaultConfig returns production-safe defaults for kernel runtime controls.
func defaultConfig() config {
	logger := slog.Default()

	return config{
		moduleHookTimeout: defaultModuleHookTimeout,
		shutdownTimeout:   defaultShutdownTimeout,
		handlerTimeout:    defaultHandlerTimeout,
		logger:            logger,
		tracer:            otel.Tracer(tracerName),
		newID:             uuid.NewString,
		onAsyncError: func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "hookrelay async error", "scope", scope, "error", err)
		},
	}
}

// WithModuleHookTimeout configures OnStart/OnShutdown timeout boundaries.
func WithModuleHookTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.moduleHookTimeout = timeout
		}
	}
}

// WithShutdownTimeout configures overall kernel shutdown timeout, including
// the drain window for in-flight invocations.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.shutdownTimeout = timeout
		}
	}
}

// WithHandlerTimeout bounds one command handler run.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.handlerTimeout = timeout
		}
	}
}

// WithLogger configures logger used by kernel and default async error sink.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			return
		}

		cfg.logger = logger
		cfg.onAsyncError = func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "hookrelay async error", "scope", scope, "error", err)
		}
	}
}

// WithAsyncErrorHandler configures reporting for errors raised on background goroutines.
func WithAsyncErrorHandler(handler func(context.Context, string, error)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// WithTracer configures the tracer used for hookrelay.dispatch spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(cfg *config) {
		if tracer != nil {
			cfg.tracer = tracer
		}
	}
}

// WithIDGenerator overrides how missing invocation ids are assigned.
func WithIDGenerator(generator func() string) Option {
	return func(cfg *config) {
		if generator != nil {
			cfg.newID = generator
		}
	}
}
