// Package metrics exposes the engine's Prometheus surface: one Registry
// consolidating every counter/gauge/histogram this domain emits.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config names the metric namespace/subsystem, matching the teacher's
// infrastructure/monitor.Config shape.
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig mirrors infrastructure/monitor.DefaultConfig.
func DefaultConfig() Config {
	return Config{Namespace: "mm", Subsystem: "trading"}
}

// Registry is the promauto-backed metrics surface for the passive
// market-making engine, grounded on infrastructure/monitor/monitor.go's
// factory-of-instruments shape but re-scoped to this engine's domain:
// decisions by variant, order lifecycle terminal outcomes, retry attempts,
// risk rejections/escalations, bus backpressure, and exchange call latency.
type Registry struct {
	registry *prometheus.Registry

	decisionsEmitted *prometheus.CounterVec // label: kind (place/amend/cancel)

	ordersPlaced   prometheus.Counter
	ordersAcked    prometheus.Counter
	ordersRejected prometheus.Counter
	amendsAcked    prometheus.Counter
	amendsRejected prometheus.Counter
	cancelsAcked   prometheus.Counter
	cancelsRejected prometheus.Counter
	retryAttempts  *prometheus.CounterVec // label: operation (place/amend/cancel)

	riskRejections *prometheus.CounterVec // label: reason
	riskLevel      prometheus.Gauge       // 0=normal, 1=medium, 2=high

	busDrops *prometheus.CounterVec // label: topic

	referencePrice   prometheus.Gauge
	activeOrderCount *prometheus.GaugeVec // label: side (buy/sell)
	pendingAmends    prometheus.Gauge

	exchangeCallLatency *prometheus.HistogramVec // label: operation
}

// New builds a Registry against a fresh prometheus.Registry (never the
// global default registerer, so multiple engine instances in tests don't
// collide on duplicate registration).
func New(cfg Config) *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,

		decisionsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "decisions_emitted_total",
			Help:      "Decisions emitted by the strategy engine, by variant.",
		}, []string{"kind"}),

		ordersPlaced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_placed_total",
			Help:      "Place decisions dispatched to the exchange.",
		}),
		ordersAcked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_acked_total",
			Help:      "Orders acknowledged by the exchange.",
		}),
		ordersRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_rejected_total",
			Help:      "Orders rejected by the exchange or exhausted on retry.",
		}),
		amendsAcked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "amends_acked_total",
			Help:      "Amend requests acknowledged by the exchange.",
		}),
		amendsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "amends_rejected_total",
			Help:      "Amend requests rejected or exhausted on retry.",
		}),
		cancelsAcked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cancels_acked_total",
			Help:      "Cancel requests acknowledged by the exchange.",
		}),
		cancelsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cancels_rejected_total",
			Help:      "Cancel requests rejected or exhausted on retry.",
		}),
		retryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "exchange_retry_attempts_total",
			Help:      "Retry attempts issued after a transient exchange error, by operation.",
		}, []string{"operation"}),

		riskRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "risk_rejections_total",
			Help:      "Decisions vetoed by the risk gate before reaching the exchange, by reason.",
		}, []string{"reason"}),
		riskLevel: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "risk_level",
			Help:      "Current risk escalation level (0=normal, 1=medium, 2=high).",
		}),

		busDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "bus_drops_total",
			Help:      "Non-critical events dropped by the bus on a full subscriber channel, by topic.",
		}, []string{"topic"}),

		referencePrice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "reference_price",
			Help:      "Most recent estimated reference price.",
		}),
		activeOrderCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "active_order_count",
			Help:      "Orders occupying a band slot (non-terminal, not pending cancel), by side.",
		}, []string{"side"}),
		pendingAmends: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "pending_amends",
			Help:      "Amend requests in flight awaiting an ack or reject.",
		}),

		exchangeCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "exchange_call_latency_seconds",
			Help:      "Exchange REST call latency, by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (r *Registry) RecordDecision(kind string)       { r.decisionsEmitted.WithLabelValues(kind).Inc() }
func (r *Registry) RecordOrderPlaced()                { r.ordersPlaced.Inc() }
func (r *Registry) RecordOrderAcked()                 { r.ordersAcked.Inc() }
func (r *Registry) RecordOrderRejected()              { r.ordersRejected.Inc() }
func (r *Registry) RecordAmendAcked()                 { r.amendsAcked.Inc() }
func (r *Registry) RecordAmendRejected()              { r.amendsRejected.Inc() }
func (r *Registry) RecordCancelAcked()                { r.cancelsAcked.Inc() }
func (r *Registry) RecordCancelRejected()             { r.cancelsRejected.Inc() }
func (r *Registry) RecordRetryAttempt(operation string) {
	r.retryAttempts.WithLabelValues(operation).Inc()
}

func (r *Registry) RecordRiskRejection(reason string) {
	r.riskRejections.WithLabelValues(reason).Inc()
}

// SetRiskLevel maps the risk gate's escalation ladder onto a numeric gauge.
func (r *Registry) SetRiskLevel(level string) {
	switch level {
	case "HIGH":
		r.riskLevel.Set(2)
	case "MEDIUM":
		r.riskLevel.Set(1)
	default:
		r.riskLevel.Set(0)
	}
}

func (r *Registry) RecordBusDrop(topic string) { r.busDrops.WithLabelValues(topic).Inc() }

func (r *Registry) SetReferencePrice(price float64) { r.referencePrice.Set(price) }

func (r *Registry) SetActiveOrderCount(side string, n int) {
	r.activeOrderCount.WithLabelValues(side).Set(float64(n))
}

func (r *Registry) SetPendingAmends(n int) { r.pendingAmends.Set(float64(n)) }

func (r *Registry) ObserveExchangeCallLatency(operation string, seconds float64) {
	r.exchangeCallLatency.WithLabelValues(operation).Observe(seconds)
}

// Handler exposes the registry over HTTP for Prometheus scraping.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registerer returns the underlying prometheus.Registry for tests that need
// to inspect registered collectors directly.
func (r *Registry) Registerer() *prometheus.Registry {
	return r.registry
}

// StartServer runs the metrics endpoint on addr in its own goroutine,
// matching the teacher's metrics.StartMetricsServer helper.
func (r *Registry) StartServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
