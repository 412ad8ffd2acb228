// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	OpenConnections  prometheus.Gauge
	EventsPublished  *prometheus.CounterVec
	FramesDropped    prometheus.Counter
	WriteFailures    prometheus.Counter
	Evictions        prometheus.Counter
	ChunksStored     prometheus.Counter
	ChunkBytesStored prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OpenConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scribe", Subsystem: "realtime", Name: "open_connections",
			Help: "Number of registered real-time connections.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scribe", Subsystem: "realtime", Name: "events_published_total",
			Help: "Events broadcast, by event name.",
		}, []string{"event"}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scribe", Subsystem: "realtime", Name: "frames_dropped_total",
			Help: "Frames dropped because a connection's send queue was full.",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scribe", Subsystem: "realtime", Name: "write_failures_total",
			Help: "Frame writes that failed on the socket.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scribe", Subsystem: "realtime", Name: "heartbeat_evictions_total",
			Help: "Connections closed by the heartbeat sweep.",
		}),
		ChunksStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scribe", Subsystem: "storage", Name: "chunks_stored_total",
			Help: "Chunk payloads written to the blob store.",
		}),
		ChunkBytesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scribe", Subsystem: "storage", Name: "chunk_bytes_stored_total",
			Help: "Bytes of chunk payload written to the blob store.",
		}),
	}
	reg.MustRegister(
		m.OpenConnections,
		m.EventsPublished,
		m.FramesDropped,
		m.WriteFailures,
		m.Evictions,
		m.ChunksStored,
		m.ChunkBytesStored,
	)
	return m
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.OpenConnections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.OpenConnections.Dec()
	}
}

func (m *Metrics) Published(event string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.FramesDropped.Inc()
	}
}

func (m *Metrics) WriteFailed() {
	if m != nil {
		m.WriteFailures.Inc()
	}
}

func (m *Metrics) Evicted() {
	if m != nil {
		m.Evictions.Inc()
	}
}

func (m *Metrics) Stored(size int64) {
	if m != nil {
		m.ChunksStored.Inc()
		m.ChunkBytesStored.Add(float64(size))
	}
}
