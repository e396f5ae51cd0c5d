package hookrelay

import "context"

// Call is the bound input handed to one command handler.
type Call struct {
	// Invocation is the originating platform event.
	Invocation *Invocation
	// Arguments are the invocation arguments bound against the command descriptor.
	Arguments Arguments
	// Responder delivers the deferred acknowledgment and terminal reply.
	Responder Responder
}

// CommandHandler processes one bound invocation.
//
// Returning an error before a terminal reply makes the dispatcher reply with
// ReplyCause(err). Handlers must not retain call after returning.
type CommandHandler func(ctx context.Context, call Call) error

// CommandBinding pairs one descriptor with its handler.
type CommandBinding struct {
	// Descriptor declares command metadata and parameter schema.
	Descriptor CommandDescriptor
	// Handler processes invocations for Descriptor.Name.
	Handler CommandHandler
}

// ModuleSpec declares everything one module contributes to the registry.
type ModuleSpec struct {
	// Commands declares module-owned commands.
	Commands []CommandBinding
}

// Module is a lifecycle-aware command provider.
//
// Handlers may run concurrently for independent invocations.
type Module interface {
	// Name returns a stable module identifier.
	Name() string
	// Spec returns declarative command bindings.
	Spec() ModuleSpec
	// OnStart is called when the kernel begins runtime execution.
	OnStart(ctx context.Context) error
	// OnShutdown is called during orderly shutdown.
	OnShutdown(ctx context.Context) error
}

// RegisteredCommand describes one runtime command registration entry.
type RegisteredCommand struct {
	// ModuleName identifies which module registered this command.
	ModuleName string
	// Command is the registered command descriptor.
	Command CommandDescriptor
}

// CommandCatalog provides read access to registered command descriptors.
type CommandCatalog interface {
	// ListCommands returns all registered commands sorted by name.
	//
	// Returned entries are copies; caller mutation does not affect the registry.
	ListCommands(ctx context.Context) ([]RegisteredCommand, error)
}

// InvocationSink accepts invocations produced by a platform adapter.
type InvocationSink interface {
	CommandCatalog
	// Submit hands one invocation to the dispatcher without waiting for completion.
	Submit(ctx context.Context, invocation *Invocation, responder Responder) error
}

// Driver adapts an external chat platform into invocations.
type Driver interface {
	// Name returns a stable driver identifier.
	Name() string
	// Start consumes platform updates until ctx is done or a fatal error occurs.
	Start(ctx context.Context, sink InvocationSink) error
	// Shutdown releases resources not tied to the Start context.
	Shutdown(ctx context.Context) error
}
