package driver

import (
	"context"
	"log/slog"
	"testing"

	"memoria/internal/driver/telegram"
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

func TestBuiltinTelegramRejectsMissingToken(t *testing.T) {
	t.Parallel()

	registry, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("new builtin registry failed: %v", err)
	}

	_, err = registry.BuildEnabled(context.Background(), []Definition{
		{
			Name:    "telegram",
			Type:    telegram.DriverType,
			Enabled: true,
			Config:  []byte(`{"app_id":1,"app_hash":"hash"}`),
		},
	}, slog.New(slog.DiscardHandler))
	if err == nil {
		t.Fatal("expected error for missing bot token")
	}
}
