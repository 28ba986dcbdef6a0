// Package metrics holds the prometheus collectors shared by the server and its middleware.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wirerpc"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registerOnce sync.Once
	registerErr  error

	connections      prometheus.Counter
	connectionsOpen  prometheus.Gauge
	connectionErrors *prometheus.CounterVec
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	return &Metrics{
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted connections.",
		}),
		connectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Connections currently served.",
		}),
		connectionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_errors_total",
				Help:      "Connections closed by an error, by error kind.",
			},
			[]string{"kind"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Dispatched requests by operation.",
			},
			[]string{"op"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Handler duration in seconds by operation.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
}

// Register adds the collectors to reg once; later calls return the first result.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	m.registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{
			m.connections, m.connectionsOpen, m.connectionErrors, m.requests, m.requestDuration,
		} {
			if err := reg.Register(c); err != nil {
				m.registerErr = err
				return
			}
		}
	})
	return m.registerErr
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.connectionsOpen.Inc()
}

func (m *Metrics) ConnectionClosed(errKind string) {
	if m == nil {
		return
	}
	m.connectionsOpen.Dec()
	if errKind != "" {
		m.connectionErrors.WithLabelValues(errKind).Inc()
	}
}

func (m *Metrics) RecordRequest(op string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op).Inc()
	m.requestDuration.WithLabelValues(op).Observe(duration.Seconds())
}
