package kernel

import (
	"context"
	"fmt"
	"sort"

	"hookrelay/pkg/hookrelay"
)

type commandRegistration struct {
	moduleName string
	descriptor hookrelay.CommandDescriptor
	handler    hookrelay.CommandHandler
}

// registerModuleCommandsLocked validates and registers module-owned command
// bindings. The caller holds k.mu.
//
// Registration is all-or-nothing: a name already owned by any module rejects
// the whole batch.
func (k *Kernel) registerModuleCommandsLocked(moduleName string, bindings []hookrelay.CommandBinding) error {
	if len(bindings) == 0 {
		return nil
	}

	normalized := make([]commandRegistration, 0, len(bindings))
	seenInModule := make(map[string]struct{}, len(bindings))
	for index, binding := range bindings {
		if err := binding.Descriptor.Validate(); err != nil {
			return fmt.Errorf("register command[%d] for module %s: %w", index, moduleName, err)
		}
		if binding.Handler == nil {
			return fmt.Errorf("register command %s for module %s: nil handler", binding.Descriptor.Name, moduleName)
		}

		descriptor := hookrelay.CloneDescriptor(binding.Descriptor)
		if _, exists := seenInModule[descriptor.Name]; exists {
			return fmt.Errorf(
				"register command %s for module %s: duplicate declaration: %w",
				descriptor.Name,
				moduleName,
				hookrelay.ErrCommandAlreadyRegistered,
			)
		}
		seenInModule[descriptor.Name] = struct{}{}
		normalized = append(normalized, commandRegistration{
			moduleName: moduleName,
			descriptor: descriptor,
			handler:    binding.Handler,
		})
	}

	for _, registration := range normalized {
		if existing, exists := k.commands[registration.descriptor.Name]; exists {
			return fmt.Errorf(
				"register command %s for module %s: already registered by module %s: %w",
				registration.descriptor.Name,
				moduleName,
				existing.moduleName,
				hookrelay.ErrCommandAlreadyRegistered,
			)
		}
	}
	for _, registration := range normalized {
		k.commands[registration.descriptor.Name] = registration
	}

	return nil
}

// lookupCommand resolves one registration by normalized name.
func (k *Kernel) lookupCommand(name string) (commandRegistration, bool) {
	k.mu.RLock()
	registration, exists := k.commands[hookrelay.NormalizeCommandName(name)]
	k.mu.RUnlock()

	return registration, exists
}

// ListCommands returns all registered commands sorted by name.
func (k *Kernel) ListCommands(ctx context.Context) ([]hookrelay.RegisteredCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}

	k.mu.RLock()
	commands := make([]hookrelay.RegisteredCommand, 0, len(k.commands))
	for _, registration := range k.commands {
		commands = append(commands, hookrelay.RegisteredCommand{
			ModuleName: registration.moduleName,
			Command:    hookrelay.CloneDescriptor(registration.descriptor),
		})
	}
	k.mu.RUnlock()

	sort.Slice(commands, func(i, j int) bool {
		return commands[i].Command.Name < commands[j].Command.Name
	})

	return commands, nil
}

var _ hookrelay.CommandCatalog = (*Kernel)(nil)
