// Package metrics exposes the watcher's Prometheus instruments. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	alertsTotal    *prometheus.CounterVec
	probesTotal    *prometheus.CounterVec
	cycleDuration  *prometheus.HistogramVec
	storeSize      *prometheus.GaugeVec
	scheduled      prometheus.Gauge
	highestKnownID prometheus.Gauge
	priceDrops     prometheus.Counter
	feedReconnects prometheus.Counter
}

// New creates the instruments on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watch_alerts_total",
			Help: "Alerts handed to transports by transport, kind and outcome.",
		}, []string{"transport", "kind", "outcome"}),
		probesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watch_discovery_probes_total",
			Help: "Discovery existence probes by result (found, absent, error).",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watch_cycle_duration_seconds",
			Help:    "Duration of polling cycles by cycle name.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"cycle"}),
		storeSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "watch_store_collections",
			Help: "Collections held in the entity store by partition.",
		}, []string{"partition"}),
		scheduled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watch_scheduled_alerts",
			Help: "Pending last chance alerts.",
		}),
		highestKnownID: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watch_highest_known_id",
			Help: "Highest collection ID confirmed by discovery.",
		}),
		priceDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watch_price_drops_total",
			Help: "Significant lowest-price drops detected on the live feed.",
		}),
		feedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watch_feed_reconnects_total",
			Help: "Live price feed reconnect attempts.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.alertsTotal,
		m.probesTotal,
		m.cycleDuration,
		m.storeSize,
		m.scheduled,
		m.highestKnownID,
		m.priceDrops,
		m.feedReconnects,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) AlertSent(transport, kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.alertsTotal.WithLabelValues(transport, kind, outcome).Inc()
}

func (m *Metrics) Probe(result string) {
	if m == nil {
		return
	}
	m.probesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCycle(cycle string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(cycle).Observe(d.Seconds())
}

func (m *Metrics) SetStoreSize(partition string, n int) {
	if m == nil {
		return
	}
	m.storeSize.WithLabelValues(partition).Set(float64(n))
}

func (m *Metrics) SetScheduled(n int) {
	if m == nil {
		return
	}
	m.scheduled.Set(float64(n))
}

func (m *Metrics) SetHighestKnownID(id int) {
	if m == nil {
		return
	}
	m.highestKnownID.Set(float64(id))
}

func (m *Metrics) PriceDrop() {
	if m == nil {
		return
	}
	m.priceDrops.Inc()
}

func (m *Metrics) FeedReconnect() {
	if m == nil {
		return
	}
	m.feedReconnects.Inc()
}
