// Package metrics defines the Prometheus collectors exported on the debug
// listener.
//
// A nil *Metrics is valid and records nothing, so packages can take one
// unconditionally.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "teeproxy"

type Metrics struct {
	connections   *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	activeTunnels prometheus.Gauge
	tunnels       *prometheus.CounterVec
	bytes         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted client connections by listener.",
		}, []string{"listener"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_rejections_total",
			Help:      "Handshakes answered with an error status, by status code.",
		}, []string{"code"}),
		activeTunnels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tunnels",
			Help:      "Tunnels currently relaying.",
		}),
		tunnels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tunnels_total",
			Help:      "Finished tunnels by result.",
		}, []string{"result"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tunnel_bytes_total",
			Help:      "Bytes accepted into tunnel buffers, by direction.",
		}, []string{"direction"}),
	}

	reg.MustRegister(m.connections, m.rejections, m.activeTunnels, m.tunnels, m.bytes)
	return m
}

func (m *Metrics) Accepted(listener string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(listener).Inc()
}

func (m *Metrics) Rejected(code int) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) TunnelOpened() {
	if m == nil {
		return
	}
	m.activeTunnels.Inc()
}

// TunnelClosed records the end of a tunnel started with TunnelOpened.
func (m *Metrics) TunnelClosed(err error) {
	if m == nil {
		return
	}
	m.activeTunnels.Dec()
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tunnels.WithLabelValues(result).Inc()
}

func (m *Metrics) AddBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.WithLabelValues(direction).Add(float64(n))
}
