// Package webhook serves configured commands that relay invocations to a
// workflow backend and broadcast the outcome to a notification channel.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hookrelay/pkg/hookrelay"
)

const moduleName = "webhook"

// Option mutates module construction configuration.
type Option func(*Module)

// WithNotificationSink enables best-effort broadcasts to sink.
func WithNotificationSink(sink hookrelay.NotificationSink) Option {
	return func(m *Module) {
		m.sink = sink
	}
}

// WithLogger configures the module logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Module) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source used for payload timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Module) {
		if now != nil {
			m.now = now
		}
	}
}

// Module relays configured commands to workflow backends.
//
// The relay client and notification sink are injected once and shared by
// every concurrent invocation.
type Module struct {
	cfg    Config
	relay  hookrelay.RelayClient
	sink   hookrelay.NotificationSink
	logger *slog.Logger
	now    func() time.Time
}

// New creates a webhook module serving cfg.Commands through relay.
func New(cfg Config, relay hookrelay.RelayClient, options ...Option) (*Module, error) {
	if relay == nil {
		return nil, fmt.Errorf("new webhook module: nil relay client")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new webhook module: %w", err)
	}

	module := &Module{
		cfg:    cfg,
		relay:  relay,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, option := range options {
		option(module)
	}

	return module, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return moduleName
}

// Spec declares one command binding per configured command.
func (m *Module) Spec() hookrelay.ModuleSpec {
	bindings := make([]hookrelay.CommandBinding, 0, len(m.cfg.Commands))
	for _, command := range m.cfg.Commands {
		bindings = append(bindings, hookrelay.CommandBinding{
			Descriptor: command.Descriptor(),
			Handler:    m.handlerFor(command),
		})
	}

	return hookrelay.ModuleSpec{Commands: bindings}
}

// OnStart announces readiness to the notification channel.
//
// Announcement failure is logged and never blocks startup.
func (m *Module) OnStart(ctx context.Context) error {
	if m.sink == nil || m.cfg.ReadyMessage == "" {
		return nil
	}

	_, err := m.sink.Post(ctx, m.cfg.ReadyMessage, &hookrelay.Embed{
		Title: "Ready",
		Color: hookrelay.ColorReady,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "webhook ready announcement failed", "error", err)
		return nil
	}
	m.logger.InfoContext(ctx, "webhook ready announcement posted", "commands", len(m.cfg.Commands))

	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handlerFor(command CommandConfig) hookrelay.CommandHandler {
	if command.Kind == CommandKindLink {
		return func(ctx context.Context, call hookrelay.Call) error {
			return m.handleLink(ctx, command, call)
		}
	}

	return func(ctx context.Context, call hookrelay.Call) error {
		return m.handleRelay(ctx, command, call)
	}
}
