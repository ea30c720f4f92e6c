package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML document at path and validates it against spec.md §6.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides api credentials from env
// vars when present, so secrets need not live in the YAML file on disk.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("MM_API_KEY"); v != "" {
		cfg.API.Key = v
	}
	if v := os.Getenv("MM_API_SECRET"); v != "" {
		cfg.API.Secret = v
	}
	return cfg, Validate(cfg)
}

// Validate enforces spec.md §6's required fields and the numeric bounds a
// band-maintenance strategy needs to not be nonsensical (ordered band
// edges, positive windows, non-negative tunables).
func Validate(cfg AppConfig) error {
	s := cfg.Strategy
	if s.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	if s.MinSpread <= 0 || s.MaxSpread <= 0 {
		return fmt.Errorf("strategy.min_spread/max_spread must be > 0")
	}
	if s.MinSpread > s.MaxSpread {
		return fmt.Errorf("strategy.min_spread must be <= max_spread")
	}
	if s.MinOrderValue <= 0 {
		return fmt.Errorf("strategy.min_order_value must be > 0")
	}
	if s.TargetOrdersPerSide <= 0 {
		return fmt.Errorf("strategy.target_orders_per_side must be > 0")
	}
	if s.DriftThreshold < 0 {
		return fmt.Errorf("strategy.drift_threshold must be >= 0")
	}
	if s.RebalanceInterval < 0 {
		return fmt.Errorf("strategy.rebalance_interval must be >= 0")
	}
	if s.ModifyThreshold < 0 || s.MaxModifyDeviation < 0 {
		return fmt.Errorf("strategy.modify_threshold/max_modify_deviation must be >= 0")
	}
	if s.ModifyThreshold > s.MaxModifyDeviation {
		return fmt.Errorf("strategy.modify_threshold must be <= max_modify_deviation")
	}

	om := cfg.OrderManagement
	if om.ResetInterval <= 0 {
		return fmt.Errorf("order_management.reset_interval must be > 0")
	}
	if om.MaxPendingModifications <= 0 {
		return fmt.Errorf("order_management.max_pending_modifications must be > 0")
	}
	if om.ModificationTimeout <= 0 {
		return fmt.Errorf("order_management.modification_timeout must be > 0")
	}
	if om.CleanupInterval <= 0 {
		return fmt.Errorf("order_management.cleanup_interval must be > 0")
	}

	p := cfg.Price
	switch p.Method {
	case "TWAP", "VWAP", "EMA", "HYBRID":
	default:
		return fmt.Errorf("price.method must be one of TWAP/VWAP/EMA/HYBRID, got %q", p.Method)
	}
	if p.WindowSize <= 0 {
		return fmt.Errorf("price.window_size must be > 0")
	}
	if p.SmoothingFactor <= 0 || p.SmoothingFactor > 1 {
		return fmt.Errorf("price.smoothing_factor must be in (0, 1]")
	}
	if p.ChangeThreshold < 0 || p.AnomalyThreshold < 0 {
		return fmt.Errorf("price.change_threshold/anomaly_threshold must be >= 0")
	}

	e := cfg.Execution
	if e.WorkerCount <= 0 || e.ModifyWorkerCount <= 0 {
		return fmt.Errorf("execution.worker_count/modify_worker_count must be > 0")
	}
	if e.BatchSize <= 0 {
		return fmt.Errorf("execution.batch_size must be > 0")
	}
	if e.RateLimit <= 0 || e.ModifyRateLimit <= 0 {
		return fmt.Errorf("execution.rate_limit/modify_rate_limit must be > 0")
	}
	if e.MaxRetries < 0 {
		return fmt.Errorf("execution.max_retries must be >= 0")
	}
	if e.RetryDelay < 0 {
		return fmt.Errorf("execution.retry_delay must be >= 0")
	}

	r := cfg.Risk
	if r.MaxPosition < 0 {
		return fmt.Errorf("risk.max_position must be >= 0")
	}
	if r.MaxOrderCount < 0 {
		return fmt.Errorf("risk.max_order_count must be >= 0")
	}
	if r.MaxDailyLoss < 0 {
		return fmt.Errorf("risk.max_daily_loss must be >= 0")
	}
	if r.MaxPriceChange < 0 {
		return fmt.Errorf("risk.max_price_change must be >= 0")
	}
	if r.CheckInterval <= 0 {
		return fmt.Errorf("risk.check_interval must be > 0")
	}

	if cfg.API.Key == "" || cfg.API.Secret == "" {
		return fmt.Errorf("api.key/api.secret is required (or MM_API_KEY/MM_API_SECRET env overrides)")
	}

	return nil
}
