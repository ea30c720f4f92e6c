package config

import (
	"os"
	"testing"
	"time"
)

func TestWatcherReloadsOnWriteAndPinsAPI(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, err := NewWatcher(path, initial, HotReloadConfig{CooldownTime: 0})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	ch := make(chan AppConfig, 1)
	w.Start(func(cfg AppConfig) { ch <- cfg })

	updated := validYAML + "\n" // trigger a write event; spread band unchanged
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.API.Key != initial.API.Key {
			t.Fatalf("api.key must be pinned to the startup value, got %q", cfg.API.Key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reload callback after the file write")
	}
}
