package driver

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"hookrelay/internal/driver/telegram"
)

func TestNewBuiltinRegistryIncludesTelegram(t *testing.T) {
	t.Parallel()

	registry, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("new builtin registry failed: %v", err)
	}

	types := registry.Types()
	if len(types) != 1 || types[0] != telegram.DriverType {
		t.Fatalf("types = %v, want [%s]", types, telegram.DriverType)
	}
}

func TestBuiltinRegistryBuildsTelegramDriver(t *testing.T) {
	t.Parallel()

	registry, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("new builtin registry failed: %v", err)
	}

	sessionPath := filepath.ToSlash(filepath.Join(t.TempDir(), "session.json"))
	drivers, err := registry.BuildEnabled(context.Background(), []Definition{
		{
			Name:    "tg-main",
			Type:    telegram.DriverType,
			Enabled: true,
			Config:  []byte(`{"app_id":1,"app_hash":"hash","bot_token":"1:abc","session_file":"` + sessionPath + `"}`),
		},
	}, slog.Default())
	if err != nil {
		t.Fatalf("build enabled failed: %v", err)
	}
	if len(drivers) != 1 || drivers[0].Name() != "tg-main" {
		t.Fatalf("drivers = %+v", drivers)
	}
}
