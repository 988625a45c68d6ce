// Package metrics registers this platform's Prometheus instrumentation.
//
// Grounded on chidi150c-coinbase/metrics.go for the counter/gauge naming
// convention (one var block, CounterVec/GaugeVec with short label sets,
// registered once) but built as a Registry value rather than package-level
// globals registered via prometheus.MustRegister in init(), since this is
// a library package imported by several cmd/ binaries and tests that each
// need their own isolated registry rather than sharing the global default
// one.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric this platform emits, bound to its own
// prometheus.Registry so tests and multiple cmd/ entry points never
// collide on the global default registry.
type Registry struct {
	reg *prometheus.Registry

	CandlesEmitted  *prometheus.CounterVec
	OrdersPlaced    *prometheus.CounterVec
	BusPublishTime  prometheus.Histogram
	BusPublishFails *prometheus.CounterVec
	DeploymentState *prometheus.CounterVec
	BacktestState   *prometheus.CounterVec
}

// New builds and registers the full metric set.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		CandlesEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeforge_candles_emitted_total",
			Help: "Candles published on candles.close, by symbol and timeframe.",
		}, []string{"symbol", "timeframe"}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeforge_orders_placed_total",
			Help: "Orders placed, by broker and resulting status.",
		}, []string{"broker", "status"}),
		BusPublishTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradeforge_bus_publish_seconds",
			Help:    "Time spent in a single bus.Publish call.",
			Buckets: prometheus.DefBuckets,
		}),
		BusPublishFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeforge_bus_publish_failures_total",
			Help: "Publish calls that returned an error, by channel.",
		}, []string{"channel"}),
		DeploymentState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeforge_deployment_transitions_total",
			Help: "Deployment lifecycle transitions, by resulting state.",
		}, []string{"state"}),
		BacktestState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeforge_backtest_transitions_total",
			Help: "Backtest lifecycle transitions, by resulting state.",
		}, []string{"state"}),
	}

	r.reg.MustRegister(
		r.CandlesEmitted,
		r.OrdersPlaced,
		r.BusPublishTime,
		r.BusPublishFails,
		r.DeploymentState,
		r.BacktestState,
	)
	return r
}

// Gatherer exposes the underlying registry to promhttp.HandlerFor.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// ObservePublish records the outcome and latency of one bus.Publish call.
func (r *Registry) ObservePublish(channel string, took time.Duration, err error) {
	r.BusPublishTime.Observe(took.Seconds())
	if err != nil {
		r.BusPublishFails.WithLabelValues(channel).Inc()
	}
}
