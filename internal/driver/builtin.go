package driver

import (
	"context"
	"fmt"
	"log/slog"

	"hookrelay/internal/driver/telegram"
	"hookrelay/pkg/hookrelay"
)

// NewBuiltinRegistry returns a registry holding every adapter shipped with
// the binary. Telegram is currently the only one.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{Type: telegram.DriverType, Builder: buildTelegram},
	})
}

func buildTelegram(_ context.Context, definition Definition, logger *slog.Logger) (hookrelay.Driver, error) {
	adapter, err := telegram.BuildRuntimeFromConfig(definition.Name, logger, definition.Config)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	return adapter, nil
}
