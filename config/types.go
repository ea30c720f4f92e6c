package config

import "time"

// AppConfig is the single YAML document spec.md §6 describes: six sections
// covering strategy, order lifecycle housekeeping, price estimation,
// execution tuning, risk thresholds, and exchange credentials.
type AppConfig struct {
	Strategy        StrategyConfig        `yaml:"strategy"`
	OrderManagement OrderManagementConfig `yaml:"order_management"`
	Price           PriceConfig           `yaml:"price"`
	Execution       ExecutionConfig       `yaml:"execution"`
	Risk            RiskConfig            `yaml:"risk"`
	API             APIConfig             `yaml:"api"`
}

// StrategyConfig tunes the band-maintenance algorithm and the evaluation
// cadence. TickSize/StepSize/MinQty are not part of spec.md §6's table —
// they are ordinarily fetched from the exchange's exchangeInfo at startup
// (see gateway.FetchSymbolConstraints) — but are accepted here as an
// override for environments without network access to exchangeInfo (paper
// trading, tests).
type StrategyConfig struct {
	Symbol              string  `yaml:"symbol"`
	MinSpread           float64 `yaml:"min_spread"`
	MaxSpread           float64 `yaml:"max_spread"`
	MinOrderValue       float64 `yaml:"min_order_value"`
	TargetOrdersPerSide int     `yaml:"target_orders_per_side"`
	DriftThreshold      float64 `yaml:"drift_threshold"`
	RebalanceInterval   float64 `yaml:"rebalance_interval"`
	ModifyThreshold     float64 `yaml:"modify_threshold"`
	MaxModifyDeviation  float64 `yaml:"max_modify_deviation"`
	TickSize            float64 `yaml:"tick_size"`
	StepSize            float64 `yaml:"step_size"`
	MinQty              float64 `yaml:"min_qty"`
}

// OrderManagementConfig tunes order-lifecycle housekeeping.
type OrderManagementConfig struct {
	ResetInterval            float64 `yaml:"reset_interval"`
	MaxPendingModifications  int     `yaml:"max_pending_modifications"`
	ModificationTimeout      float64 `yaml:"modification_timeout"`
	CleanupInterval          float64 `yaml:"cleanup_interval"`
}

// PriceConfig tunes the reference-price estimator.
type PriceConfig struct {
	Method           string  `yaml:"method"`
	WindowSize       int     `yaml:"window_size"`
	SmoothingFactor  float64 `yaml:"smoothing_factor"`
	ChangeThreshold  float64 `yaml:"change_threshold"`
	AnomalyThreshold float64 `yaml:"anomaly_threshold"`
}

// ExecutionConfig tunes the execution engine's worker pools and retry policy.
type ExecutionConfig struct {
	WorkerCount       int     `yaml:"worker_count"`
	BatchSize         int     `yaml:"batch_size"`
	RateLimit         float64 `yaml:"rate_limit"`
	MaxRetries        int     `yaml:"max_retries"`
	RetryDelay        float64 `yaml:"retry_delay"`
	ModifyWorkerCount int     `yaml:"modify_worker_count"`
	ModifyRateLimit   float64 `yaml:"modify_rate_limit"`
}

// RiskConfig tunes the risk gate's thresholds.
type RiskConfig struct {
	MaxPosition    float64 `yaml:"max_position"`
	MaxOrderCount  int     `yaml:"max_order_count"`
	MaxDailyLoss   float64 `yaml:"max_daily_loss"`
	MaxPriceChange float64 `yaml:"max_price_change"`
	CheckInterval  float64 `yaml:"check_interval"`
}

// APIConfig holds exchange adapter credentials. Not hot-reloadable: a
// credential rotation requires a restart, per spec.md §9's design note.
type APIConfig struct {
	Key     string `yaml:"key"`
	Secret  string `yaml:"secret"`
	Testnet bool   `yaml:"testnet"`
}

func (c StrategyConfig) rebalanceInterval() time.Duration {
	return time.Duration(c.RebalanceInterval * float64(time.Second))
}

func (c OrderManagementConfig) resetInterval() time.Duration {
	return time.Duration(c.ResetInterval * float64(time.Second))
}

func (c OrderManagementConfig) modificationTimeout() time.Duration {
	return time.Duration(c.ModificationTimeout * float64(time.Second))
}

func (c OrderManagementConfig) cleanupInterval() time.Duration {
	return time.Duration(c.CleanupInterval * float64(time.Second))
}

func (c RiskConfig) checkInterval() time.Duration {
	return time.Duration(c.CheckInterval * float64(time.Second))
}

func (c ExecutionConfig) retryDelay() time.Duration {
	return time.Duration(c.RetryDelay * float64(time.Second))
}

// Durations exposes the float-seconds fields of AppConfig as time.Duration,
// for wiring into the component Configs the orchestrator constructs.
type Durations struct {
	RebalanceInterval   time.Duration
	ResetInterval       time.Duration
	ModificationTimeout time.Duration
	CleanupInterval     time.Duration
	CheckInterval       time.Duration
	RetryDelay          time.Duration
}

// AsDurations converts every `_interval`/`_delay`/`_timeout` field (seconds,
// per spec.md §6's header note) into a time.Duration.
func (c AppConfig) AsDurations() Durations {
	return Durations{
		RebalanceInterval:   c.Strategy.rebalanceInterval(),
		ResetInterval:       c.OrderManagement.resetInterval(),
		ModificationTimeout: c.OrderManagement.modificationTimeout(),
		CleanupInterval:     c.OrderManagement.cleanupInterval(),
		CheckInterval:       c.Risk.checkInterval(),
		RetryDelay:          c.Execution.retryDelay(),
	}
}
