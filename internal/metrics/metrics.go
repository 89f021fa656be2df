// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all custom collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Saves            *prometheus.CounterVec
	RemoteWriteTime  prometheus.Histogram
	RemoteSnapshots  prometheus.Counter
	SyncStatus       *prometheus.GaugeVec
	WebSocketClients prometheus.Gauge
	AssistCalls      *prometheus.CounterVec
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Save outcomes: local, remote_ok, remote_error, skipped, superseded
		Saves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "obracontrol_saves_total",
			Help: "Snapshot saves by outcome",
		}, []string{"outcome"}),

		RemoteWriteTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "obracontrol_remote_write_duration_seconds",
			Help:    "Remote document write latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		RemoteSnapshots: factory.NewCounter(prometheus.CounterOpts{
			Name: "obracontrol_remote_snapshots_total",
			Help: "Remote snapshots applied to the local store",
		}),

		SyncStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "obracontrol_sync_status",
			Help: "1 for the current sync status, 0 otherwise",
		}, []string{"status"}),

		WebSocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "obracontrol_websocket_clients",
			Help: "Connected dashboard WebSocket clients",
		}),

		AssistCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "obracontrol_assist_calls_total",
			Help: "Generative text calls by kind and result",
		}, []string{"kind", "result"}),
	}
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSave counts one save outcome.
func (m *Metrics) ObserveSave(outcome string) {
	if m == nil {
		return
	}
	m.Saves.WithLabelValues(outcome).Inc()
}

// ObserveRemoteWrite records a remote write duration.
func (m *Metrics) ObserveRemoteWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.RemoteWriteTime.Observe(d.Seconds())
}

// ObserveRemoteSnapshot counts an applied remote snapshot.
func (m *Metrics) ObserveRemoteSnapshot() {
	if m == nil {
		return
	}
	m.RemoteSnapshots.Inc()
}

// SetStatus marks current as the active sync status among all.
func (m *Metrics) SetStatus(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.SyncStatus.WithLabelValues(s).Set(v)
	}
}

// SetClients records the number of WebSocket clients.
func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.WebSocketClients.Set(float64(n))
}

// ObserveAssist counts a generative call.
func (m *Metrics) ObserveAssist(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AssistCalls.WithLabelValues(kind, result).Inc()
}
