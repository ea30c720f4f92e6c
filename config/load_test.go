package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validYAML = `
strategy:
  symbol: BTCUSDT
  min_spread: 0.002
  max_spread: 0.004
  min_order_value: 10000
  target_orders_per_side: 3
  drift_threshold: 0.005
  rebalance_interval: 5
  modify_threshold: 0.0005
  max_modify_deviation: 0.01
order_management:
  reset_interval: 3600
  max_pending_modifications: 5
  modification_timeout: 30
  cleanup_interval: 600
price:
  method: EMA
  window_size: 50
  smoothing_factor: 0.2
  change_threshold: 0.0001
  anomaly_threshold: 0.05
execution:
  worker_count: 4
  batch_size: 10
  rate_limit: 10
  max_retries: 3
  retry_delay: 0.5
  modify_worker_count: 2
  modify_rate_limit: 5
risk:
  max_position: 1
  max_order_count: 20
  max_daily_loss: 500
  max_price_change: 0.02
  check_interval: 10
api:
  key: test-key
  secret: test-secret
  testnet: true
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Strategy.Symbol != "BTCUSDT" || cfg.API.Key != "test-key" {
		t.Fatalf("unexpected cfg values: %+v", cfg)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	t.Setenv("MM_API_KEY", "env-key")
	t.Setenv("MM_API_SECRET", "env-secret")
	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.Key != "env-key" || cfg.API.Secret != "env-secret" {
		t.Fatalf("env overrides not applied: %+v", cfg.API)
	}
}

func TestValidateRejectsEmptyConfig(t *testing.T) {
	if err := Validate(AppConfig{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestValidateRejectsInvertedSpreadBand(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Strategy.MinSpread, cfg.Strategy.MaxSpread = cfg.Strategy.MaxSpread+1, cfg.Strategy.MinSpread
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for min_spread > max_spread")
	}
}

func TestValidateRejectsUnknownPriceMethod(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Price.Method = "MEDIAN"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for an unsupported price.method")
	}
}

func TestAsDurationsConvertsSecondsFields(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := cfg.AsDurations()
	if d.ResetInterval.Seconds() != 3600 {
		t.Fatalf("ResetInterval = %v, want 3600s", d.ResetInterval)
	}
	if d.RebalanceInterval.Seconds() != 5 {
		t.Fatalf("RebalanceInterval = %v, want 5s", d.RebalanceInterval)
	}
}
