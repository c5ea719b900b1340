package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketplaceMetrics records settlement activity segmented by engine and
// operation.
type MarketplaceMetrics struct {
	settlements *prometheus.CounterVec
	refunds     *prometheus.CounterVec
	sweeps      *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

var (
	marketplaceOnce sync.Once
	marketplaceReg  *MarketplaceMetrics
)

// Metrics returns the lazily-initialised marketplace metrics registry.
func Metrics() *MarketplaceMetrics {
	marketplaceOnce.Do(func() {
		marketplaceReg = &MarketplaceMetrics{
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "snc",
				Subsystem: "marketplace",
				Name:      "settlements_total",
				Help:      "Completed settlements segmented by engine and outcome.",
			}, []string{"engine", "outcome"}),
			refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "snc",
				Subsystem: "marketplace",
				Name:      "refunds_total",
				Help:      "Escrow refunds segmented by engine and reason.",
			}, []string{"engine", "reason"}),
			sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "snc",
				Subsystem: "marketplace",
				Name:      "expiry_sweeps_total",
				Help:      "Expiry sweep invocations segmented by engine and effect.",
			}, []string{"engine", "effect"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "snc",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(
			marketplaceReg.settlements,
			marketplaceReg.refunds,
			marketplaceReg.sweeps,
			marketplaceReg.latency,
		)
	})
	return marketplaceReg
}

// ObserveSettlement increments the settlement counter.
func (m *MarketplaceMetrics) ObserveSettlement(engine, outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(engine, outcome).Inc()
}

// ObserveRefund increments the refund counter.
func (m *MarketplaceMetrics) ObserveRefund(engine, reason string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(engine, reason).Inc()
}

// ObserveSweep increments the expiry sweep counter.
func (m *MarketplaceMetrics) ObserveSweep(engine, effect string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(engine, effect).Inc()
}

// ObserveRequest records a gateway request's latency.
func (m *MarketplaceMetrics) ObserveRequest(route, method string, started time.Time) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(route, method).Observe(time.Since(started).Seconds())
}
