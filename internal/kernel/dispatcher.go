package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hookrelay/pkg/hookrelay"
)

// ErrDraining indicates that the kernel no longer accepts invocations.
var ErrDraining = errors.New("kernel: draining")

// Submit hands one invocation to its own goroutine and returns immediately.
//
// Invocations never wait on each other and may complete in any order.
func (k *Kernel) Submit(ctx context.Context, invocation *hookrelay.Invocation, responder hookrelay.Responder) error {
	if err := invocation.Validate(); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if responder == nil {
		return fmt.Errorf("submit %s: nil responder", invocation.CommandName)
	}

	k.inflightMu.Lock()
	if k.draining {
		k.inflightMu.Unlock()
		return fmt.Errorf("submit %s: %w", invocation.CommandName, ErrDraining)
	}
	k.inflight.Add(1)
	k.inflightMu.Unlock()

	go func() {
		defer k.inflight.Done()

		err := runSafely("dispatch "+invocation.CommandName, func() error {
			return k.Dispatch(ctx, invocation, responder)
		})
		if err != nil && !errors.Is(err, hookrelay.ErrUnknownCommand) {
			k.cfg.onAsyncError(ctx, "submit invocation", err)
		}
	}()

	return nil
}

// Dispatch runs the handler registered for invocation and guarantees exactly
// one terminal reply for every registered command.
//
// Unknown command names are logged and returned as *hookrelay.DispatchError
// without a reply. Handler errors and panics are converted into the error
// reply and do not propagate. A non-nil return otherwise means the terminal
// reply could not be delivered.
func (k *Kernel) Dispatch(ctx context.Context, invocation *hookrelay.Invocation, responder hookrelay.Responder) error {
	if err := invocation.Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if responder == nil {
		return fmt.Errorf("dispatch %s: nil responder", invocation.CommandName)
	}
	if invocation.ID == "" {
		invocation.ID = k.cfg.newID()
	}

	name := hookrelay.NormalizeCommandName(invocation.CommandName)
	logger := k.cfg.logger.With(
		"invocation_id", invocation.ID,
		"command", name,
		"caller_id", invocation.Caller.ID,
	)

	ctx, span := k.cfg.tracer.Start(ctx, "hookrelay.dispatch",
		trace.WithAttributes(
			attribute.String("hookrelay.invocation_id", invocation.ID),
			attribute.String("hookrelay.command", name),
		),
	)
	defer span.End()

	registration, exists := k.lookupCommand(name)
	if !exists {
		logger.WarnContext(ctx, "dispatch unknown command")
		span.SetStatus(codes.Error, "unknown command")
		return &hookrelay.DispatchError{CommandName: name}
	}

	handlerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.handlerTimeout)
	defer cancel()

	guard := newTerminalGuard(responder, logger)
	handlerErr := k.runHandler(handlerCtx, registration, invocation, guard)
	if handlerErr != nil {
		span.RecordError(handlerErr)
		span.SetStatus(codes.Error, "handler failed")
		if panicErr, ok := AsPanicError(handlerErr); ok {
			logger.ErrorContext(ctx, "command handler panicked", "error", panicErr, "stack", string(panicErr.Stack))
		} else {
			logger.WarnContext(ctx, "command handler failed", "error", handlerErr)
		}
	}
	if guard.Replied() {
		return nil
	}

	fallback := hookrelay.FailureReply(handlerErr)
	var validationErr *hookrelay.ValidationError
	if errors.As(handlerErr, &validationErr) {
		fallback.Text += "\nusage: " + registration.descriptor.Usage()
	}
	if handlerErr == nil {
		logger.ErrorContext(ctx, "command handler returned without a terminal reply")
	}
	if err := guard.Reply(handlerCtx, fallback); err != nil {
		logger.ErrorContext(ctx, "deliver terminal reply failed", "error", err)
		return fmt.Errorf("dispatch %s: deliver terminal reply: %w", name, err)
	}

	return nil
}

// runHandler binds arguments and invokes the handler behind a panic boundary.
func (k *Kernel) runHandler(
	ctx context.Context,
	registration commandRegistration,
	invocation *hookrelay.Invocation,
	responder hookrelay.Responder,
) error {
	arguments, err := hookrelay.BindArguments(registration.descriptor, invocation.RawArguments)
	if err != nil {
		return err
	}

	return runSafely("command "+registration.descriptor.Name, func() error {
		return registration.handler(ctx, hookrelay.Call{
			Invocation: invocation,
			Arguments:  arguments,
			Responder:  responder,
		})
	})
}

// terminalGuard wraps a Responder so that only the first terminal reply is delivered.
type terminalGuard struct {
	responder hookrelay.Responder
	logger    *slog.Logger

	mu       sync.Mutex
	deferred bool
	terminal bool
}

func newTerminalGuard(responder hookrelay.Responder, logger *slog.Logger) *terminalGuard {
	return &terminalGuard{responder: responder, logger: logger}
}

// Defer forwards the first acknowledgment and ignores repeats or late calls.
func (g *terminalGuard) Defer(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.deferred || g.terminal {
		g.logger.DebugContext(ctx, "ignored redundant defer")
		return nil
	}
	g.deferred = true

	if err := g.responder.Defer(ctx); err != nil {
		return fmt.Errorf("defer: %w", err)
	}

	return nil
}

// Reply delivers the terminal reply once; later calls return ErrAlreadyReplied.
func (g *terminalGuard) Reply(ctx context.Context, reply hookrelay.Reply) error {
	if err := reply.Validate(); err != nil {
		return fmt.Errorf("reply: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.terminal {
		g.logger.WarnContext(ctx, "dropped reply after terminal reply")
		return hookrelay.ErrAlreadyReplied
	}
	g.terminal = true

	if err := g.responder.Reply(ctx, reply); err != nil {
		return fmt.Errorf("reply: %w", err)
	}

	return nil
}

// Replied reports whether a terminal reply was attempted.
func (g *terminalGuard) Replied() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.terminal
}

var _ hookrelay.InvocationSink = (*Kernel)(nil)
