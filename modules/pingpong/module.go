// Package pingpong serves liveness commands answered locally without a relay call.
package pingpong

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hookrelay/pkg/hookrelay"
)

const (
	moduleName       = "pingpong"
	pingCommandName  = "ping"
	helloCommandName = "hello"
	contentParameter = "content"
	commandCooldown  = 3
)

// Option configures Module.
type Option func(*Module)

// WithClock overrides the time source used to measure latency.
func WithClock(now func() time.Time) Option {
	return func(m *Module) {
		if now != nil {
			m.now = now
		}
	}
}

// Module answers /ping with the observed latency and /hello with a greeting.
type Module struct {
	now func() time.Time
}

// New creates a ping-pong module.
func New(options ...Option) *Module {
	module := &Module{now: time.Now}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return moduleName
}

// Spec declares /ping and /hello.
func (m *Module) Spec() hookrelay.ModuleSpec {
	content := hookrelay.ParameterSpec{
		Name:        contentParameter,
		Kind:        hookrelay.ParameterKindString,
		Description: "text echoed back in the reply",
	}

	return hookrelay.ModuleSpec{
		Commands: []hookrelay.CommandBinding{
			{
				Descriptor: hookrelay.CommandDescriptor{
					Name:            pingCommandName,
					Description:     "check that the bot is alive",
					Parameters:      []hookrelay.ParameterSpec{content},
					CooldownSeconds: commandCooldown,
				},
				Handler: m.handlePing,
			},
			{
				Descriptor: hookrelay.CommandDescriptor{
					Name:            helloCommandName,
					Description:     "say hi",
					CooldownSeconds: commandCooldown,
				},
				Handler: m.handleHello,
			},
		},
	}
}

// OnStart is a no-op.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown is a no-op.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handlePing(ctx context.Context, call hookrelay.Call) error {
	lines := []string{"👋 Hi!"}
	if call.Invocation != nil && !call.Invocation.OccurredAt.IsZero() {
		latency := m.now().Sub(call.Invocation.OccurredAt)
		if latency < 0 {
			latency = 0
		}
		lines = append(lines, "Latency: "+latency.Round(time.Millisecond).String())
	}
	if content := call.Arguments.Value(contentParameter); content != "" {
		lines = append(lines, "Your input: "+content)
	}

	reply := hookrelay.Reply{
		Text: "pong!",
		Embed: &hookrelay.Embed{
			Title:       "Pong",
			Description: strings.Join(lines, "\n"),
			Color:       hookrelay.ColorInfo,
		},
	}
	if err := call.Responder.Reply(ctx, reply); err != nil {
		return fmt.Errorf("pingpong send pong message: %w", err)
	}

	return nil
}

func (m *Module) handleHello(ctx context.Context, call hookrelay.Call) error {
	name := "there"
	if call.Invocation != nil {
		switch caller := call.Invocation.Caller; {
		case caller.DisplayName != "":
			name = caller.DisplayName
		case caller.Username != "":
			name = "@" + caller.Username
		}
	}

	if err := call.Responder.Reply(ctx, hookrelay.Reply{Text: "👋 Hello, " + name + "!"}); err != nil {
		return fmt.Errorf("pingpong send hello message: %w", err)
	}

	return nil
}

var _ hookrelay.Module = (*Module)(nil)
