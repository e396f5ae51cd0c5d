// Package driver builds configured platform adapters from their JSON
// definitions.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"hookrelay/pkg/hookrelay"
)

// Definition is one entry of the drivers config array.
type Definition struct {
	// Name identifies the driver instance in logs and kernel registration.
	Name string
	// Type selects the builder.
	Type string
	// Enabled gates whether the definition is built.
	Enabled bool
	// Config is the type-specific JSON payload handed to the builder verbatim.
	Config []byte
}

// BuilderFunc turns one definition into a platform adapter.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (hookrelay.Driver, error)

// Descriptor pairs a type token (for example "telegram") with its builder.
type Descriptor struct {
	Type    string
	Builder BuilderFunc
}

// Registry resolves definitions to builders. It is immutable once created.
type Registry struct {
	builders map[string]BuilderFunc
}

// NewRegistry indexes descriptors by type.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	registry := &Registry{builders: make(map[string]BuilderFunc, len(descriptors))}
	for index, descriptor := range descriptors {
		switch {
		case descriptor.Type == "":
			return nil, fmt.Errorf("new registry: descriptors[%d]: empty descriptor type", index)
		case descriptor.Builder == nil:
			return nil, fmt.Errorf("new registry: type %s: nil builder", descriptor.Type)
		}
		if registry.Supports(descriptor.Type) {
			return nil, fmt.Errorf("new registry: type %s: duplicate", descriptor.Type)
		}
		registry.builders[descriptor.Type] = descriptor.Builder
	}

	return registry, nil
}

// Supports reports whether driverType has a builder.
func (r *Registry) Supports(driverType string) bool {
	if r == nil {
		return false
	}
	_, ok := r.builders[driverType]

	return ok
}

// Types lists supported driver types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	return slices.Sorted(maps.Keys(r.builders))
}

// BuildEnabled builds every enabled definition in declaration order.
//
// Disabled definitions are skipped before any validation. Each builder gets a
// logger scoped with the driver name and type.
func (r *Registry) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	logger *slog.Logger,
) ([]hookrelay.Driver, error) {
	if r == nil {
		return nil, fmt.Errorf("build drivers: nil registry")
	}
	if logger == nil {
		logger = slog.Default()
	}

	built := make([]hookrelay.Driver, 0, len(definitions))
	names := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if err := r.checkDefinition(definition, names); err != nil {
			return nil, err
		}
		names[definition.Name] = struct{}{}

		scoped := logger.With("driver", definition.Name, "driver_type", definition.Type)
		adapter, err := r.builders[definition.Type](ctx, definition, scoped)
		if err != nil {
			return nil, fmt.Errorf("build driver %s type %s: %w", definition.Name, definition.Type, err)
		}
		if adapter == nil {
			return nil, fmt.Errorf("build driver %s type %s: nil driver", definition.Name, definition.Type)
		}
		scoped.DebugContext(ctx, "driver built")

		built = append(built, adapter)
	}

	return built, nil
}

func (r *Registry) checkDefinition(definition Definition, seen map[string]struct{}) error {
	if definition.Name == "" {
		return fmt.Errorf("build driver: empty name")
	}
	if _, dup := seen[definition.Name]; dup {
		return fmt.Errorf("build driver %s: duplicate name", definition.Name)
	}
	if definition.Type == "" {
		return fmt.Errorf("build driver %s: empty type", definition.Name)
	}
	if !r.Supports(definition.Type) {
		return fmt.Errorf("build driver %s type %s: unsupported type", definition.Name, definition.Type)
	}

	return nil
}
