package connector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the federation gauges and counters. A failed sync cycle
// must leave the availability gauge at its pre-sync values, so availability
// is only written per successful observation, never reset wholesale.
type Metrics struct {
	availability  *prometheus.GaugeVec
	syncTotal     *prometheus.CounterVec
	syncDuration  prometheus.Histogram
	toolsByOrigin *prometheus.GaugeVec
}

// NewMetrics registers the connector metrics with the given registerer,
// falling back to the default registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		availability: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meshd_connector_availability",
				Help: "Connector reachability (1 = reachable, 0 = not)",
			},
			[]string{"connector"},
		),
		syncTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshd_connector_sync_total",
				Help: "Total number of connector sync cycles by result",
			},
			[]string{"result"},
		),
		syncDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meshd_connector_sync_duration_seconds",
				Help:    "Duration of connector sync cycles in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		toolsByOrigin: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meshd_connector_tools",
				Help: "Number of federated tools currently published per connector",
			},
			[]string{"connector"},
		),
	}
}

// SetAvailability records reachability for one connector.
func (m *Metrics) SetAvailability(connectorID string, reachable bool) {
	v := 0.0
	if reachable {
		v = 1.0
	}
	m.availability.WithLabelValues(connectorID).Set(v)
}

// ObserveSync records the outcome and duration of one sync cycle.
func (m *Metrics) ObserveSync(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.syncTotal.WithLabelValues(result).Inc()
	m.syncDuration.Observe(duration.Seconds())
}

// SetToolCount records how many tools a connector currently publishes.
func (m *Metrics) SetToolCount(connectorID string, count int) {
	m.toolsByOrigin.WithLabelValues(connectorID).Set(float64(count))
}
