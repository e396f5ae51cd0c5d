// Package help answers /help with the registered command reference.
package help

import (
	"context"
	"fmt"
	"strings"

	"hookrelay/pkg/hookrelay"
)

const (
	moduleName       = "help"
	helpCommandName  = "help"
	commandParameter = "command"
)

// Module renders help text from the live command catalog.
type Module struct {
	catalog hookrelay.CommandCatalog
}

// New creates a help module reading commands from catalog.
func New(catalog hookrelay.CommandCatalog) *Module {
	return &Module{catalog: catalog}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return moduleName
}

// Spec declares /help with an optional command filter.
func (m *Module) Spec() hookrelay.ModuleSpec {
	return hookrelay.ModuleSpec{
		Commands: []hookrelay.CommandBinding{
			{
				Descriptor: hookrelay.CommandDescriptor{
					Name:        helpCommandName,
					Description: "show available commands",
					Parameters: []hookrelay.ParameterSpec{
						{Name: commandParameter, Description: "command to describe in detail"},
					},
				},
				Handler: m.handleHelp,
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

func (m *Module) handleHelp(ctx context.Context, call hookrelay.Call) error {
	if m.catalog == nil {
		return fmt.Errorf("help: command catalog not configured")
	}

	commands, err := m.catalog.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("help list commands: %w", err)
	}

	var reply hookrelay.Reply
	if name := call.Arguments.Value(commandParameter); name != "" {
		reply = detailReply(commands, hookrelay.NormalizeCommandName(strings.TrimPrefix(name, "/")))
	} else {
		reply = hookrelay.Reply{Text: renderIndex(commands)}
	}
	if err := call.Responder.Reply(ctx, reply); err != nil {
		return fmt.Errorf("help send reply: %w", err)
	}

	return nil
}

// renderIndex lists one line per command; commands arrive sorted by name.
func renderIndex(commands []hookrelay.RegisteredCommand) string {
	if len(commands) == 0 {
		return "Available commands:\n(none)"
	}

	var builder strings.Builder
	builder.WriteString("Available commands:")
	for _, command := range commands {
		builder.WriteString("\n/")
		builder.WriteString(hookrelay.NormalizeCommandName(command.Command.Name))
		if description := strings.TrimSpace(command.Command.Description); description != "" {
			builder.WriteString(" - ")
			builder.WriteString(description)
		}
	}
	builder.WriteString("\n\nSend /help <command> for usage.")

	return builder.String()
}

func detailReply(commands []hookrelay.RegisteredCommand, name string) hookrelay.Reply {
	for _, command := range commands {
		if hookrelay.NormalizeCommandName(command.Command.Name) == name {
			return hookrelay.Reply{
				Text: "/" + name,
				Embed: &hookrelay.Embed{
					Title:       "/" + name,
					Description: renderDetail(command),
					Color:       hookrelay.ColorInfo,
				},
			}
		}
	}

	return hookrelay.Reply{Text: fmt.Sprintf("❓ Unknown command /%s. Send /help for the list.", name)}
}

func renderDetail(command hookrelay.RegisteredCommand) string {
	descriptor := command.Command
	lines := make([]string, 0, len(descriptor.Parameters)+4)
	if description := strings.TrimSpace(descriptor.Description); description != "" {
		lines = append(lines, description)
	}
	lines = append(lines, "usage: "+descriptor.Usage())
	for _, parameter := range descriptor.Parameters {
		line := "• " + parameter.Name
		if parameter.Required {
			line += " (required)"
		}
		if parameter.Description != "" {
			line += ": " + parameter.Description
		}
		lines = append(lines, line)
	}
	if descriptor.CooldownSeconds > 0 {
		lines = append(lines, fmt.Sprintf("cooldown: %ds", descriptor.CooldownSeconds))
	}
	if owner := strings.TrimSpace(command.ModuleName); owner != "" {
		lines = append(lines, "("+owner+")")
	}

	return strings.Join(lines, "\n")
}

var _ hookrelay.Module = (*Module)(nil)
