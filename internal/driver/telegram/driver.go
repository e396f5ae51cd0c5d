package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"hookrelay/pkg/hookrelay"
)

const defaultSubmitTimeout = 2 * time.Second

// driverConfig contains runtime controls for submit timeout and logging.
type driverConfig struct {
	name          string
	submitTimeout time.Duration
	logger        *slog.Logger
	botUsername   string
}

// DriverOption mutates Telegram driver configuration.
type DriverOption func(*driverConfig)

// WithName configures the driver identity exposed to the kernel.
func WithName(name string) DriverOption {
	return func(cfg *driverConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithSubmitTimeout bounds the time spent replying to a rejected invocation.
func WithSubmitTimeout(timeout time.Duration) DriverOption {
	return func(cfg *driverConfig) {
		if timeout > 0 {
			cfg.submitTimeout = timeout
		}
	}
}

// WithDriverLogger configures structured logging for the update loop.
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(cfg *driverConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithBotUsername seeds the username used to filter /cmd@bot mentions.
func WithBotUsername(username string) DriverOption {
	return func(cfg *driverConfig) {
		cfg.botUsername = username
	}
}

// ReplyTransport is the outbound surface the driver needs.
type ReplyTransport interface {
	// Responder binds a reply primitive to one command message.
	Responder(update Update) hookrelay.Responder
	// SendReply posts a standalone reply into chat.
	SendReply(ctx context.Context, chat ChatRef, replyTo int, reply hookrelay.Reply) (int, error)
	// PublishCommands replaces the platform command menu.
	PublishCommands(ctx context.Context, commands []hookrelay.RegisteredCommand) error
}

// Driver adapts Telegram command messages into hookrelay invocations.
type Driver struct {
	cfg       driverConfig
	source    UpdateSource
	transport ReplyTransport

	mu      sync.RWMutex
	sink    hookrelay.InvocationSink
	decoder *CommandDecoder
}

// NewDriver creates a Telegram driver.
func NewDriver(source UpdateSource, transport ReplyTransport, options ...DriverOption) (*Driver, error) {
	if source == nil {
		return nil, fmt.Errorf("new telegram driver: nil source")
	}
	if transport == nil {
		return nil, fmt.Errorf("new telegram driver: nil transport")
	}

	cfg := driverConfig{
		name:          DriverType,
		submitTimeout: defaultSubmitTimeout,
		logger:        slog.Default(),
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{
		cfg:       cfg,
		source:    source,
		transport: transport,
	}, nil
}

// Name returns the stable driver identifier.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Start consumes Telegram updates and submits decoded invocations to sink.
func (d *Driver) Start(ctx context.Context, sink hookrelay.InvocationSink) error {
	if sink == nil {
		return fmt.Errorf("start telegram driver: nil sink")
	}

	commands, err := sink.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("start telegram driver: list commands: %w", err)
	}

	d.mu.Lock()
	d.sink = sink
	d.decoder = NewCommandDecoder(commands, d.cfg.botUsername)
	d.mu.Unlock()

	if err := d.source.Consume(ctx, d.handleUpdate); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}

		return fmt.Errorf("start telegram driver: consume updates: %w", err)
	}

	return nil
}

// SessionReady records the authenticated bot identity and publishes the
// command menu.
//
// Menu publication failure is logged and does not stop the session.
func (d *Driver) SessionReady(ctx context.Context, username string) error {
	d.mu.Lock()
	d.cfg.botUsername = username
	sink := d.sink
	d.mu.Unlock()
	if sink == nil {
		return fmt.Errorf("telegram session ready: driver not started")
	}

	commands, err := sink.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("telegram session ready: list commands: %w", err)
	}

	d.mu.Lock()
	d.decoder = NewCommandDecoder(commands, username)
	d.mu.Unlock()

	if err := d.transport.PublishCommands(ctx, commands); err != nil {
		d.cfg.logger.WarnContext(ctx, "telegram command menu publish failed", "driver", d.cfg.name, "error", err)
	}
	d.cfg.logger.InfoContext(ctx, "telegram session ready",
		"driver", d.cfg.name,
		"bot_username", username,
		"commands", len(commands),
	)

	return nil
}

// handleUpdate decodes one update and submits it without waiting for the handler.
//
// Only a failure to reach the kernel aborts the update loop.
func (d *Driver) handleUpdate(ctx context.Context, update Update) error {
	if update.Actor.IsBot {
		return nil
	}

	d.mu.RLock()
	decoder := d.decoder
	sink := d.sink
	d.mu.RUnlock()

	invocation, err := d.decodeSafely(decoder, update)
	if err != nil {
		var validationErr *hookrelay.ValidationError
		if errors.As(err, &validationErr) {
			d.replyRejected(ctx, update, err)
			return nil
		}
		d.cfg.logger.ErrorContext(ctx, "telegram decode failed", "update_id", update.ID, "error", err)
		return nil
	}
	if invocation == nil {
		return nil
	}

	logger := d.cfg.logger.With(
		"driver", d.cfg.name,
		"invocation_id", invocation.ID,
		"command", invocation.CommandName,
		"chat", update.Chat.ID,
	)
	logger.DebugContext(ctx, "telegram invocation decoded")

	if err := sink.Submit(ctx, invocation, d.transport.Responder(update)); err != nil {
		logger.WarnContext(ctx, "telegram invocation rejected", "error", err)
	}

	return nil
}

func (d *Driver) replyRejected(ctx context.Context, update Update, cause error) {
	replyCtx := ctx
	cancel := func() {}
	if d.cfg.submitTimeout > 0 {
		replyCtx, cancel = context.WithTimeout(ctx, d.cfg.submitTimeout)
	}
	defer cancel()

	replyTo, _ := strconv.Atoi(update.Message.ID)
	if _, err := d.transport.SendReply(replyCtx, update.Chat, replyTo, hookrelay.FailureReply(cause)); err != nil {
		d.cfg.logger.WarnContext(ctx, "telegram rejection reply failed", "update_id", update.ID, "error", err)
	}
}

// decodeSafely protects decoder panics at the adapter boundary.
func (d *Driver) decodeSafely(decoder *CommandDecoder, update Update) (decoded *hookrelay.Invocation, err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err = fmt.Errorf("decode telegram update %s panic: %v", update.ID, recovered)
	}()

	if decoder == nil {
		return nil, fmt.Errorf("decode telegram update %s: driver not started", update.ID)
	}

	return decoder.Decode(update)
}

// Shutdown releases resources not controlled by Start context.
func (d *Driver) Shutdown(_ context.Context) error {
	return nil
}
