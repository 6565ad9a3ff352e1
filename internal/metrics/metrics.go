package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bridge"

// Metrics holds all application metrics
type Metrics struct {
	// Detection pipeline counters
	BatchesReceived     atomic.Uint64 // Inference ticks handed to the source
	BatchesDispatched   atomic.Uint64 // Non-empty batches passed to the dispatcher
	DetectionsFiltered  atomic.Uint64 // Entries below the confidence threshold
	DetectionsDebounced atomic.Uint64 // Entries suppressed by the per-label debounce
	HandlerPanics       atomic.Uint64

	// UI channel counters
	MessagesSent    atomic.Uint64
	MessagesDropped atomic.Uint64 // Whole messages Send refused
	ClientMisses    atomic.Uint64 // Per-client deliveries skipped on a full queue
	CommandErrors   atomic.Uint64

	// Threshold changes
	ThresholdUpdates  atomic.Uint64
	ThresholdRejected atomic.Uint64

	// Remote inference feed
	FeedFrames     atomic.Uint64
	FeedReconnects atomic.Uint64

	// UI client tracking
	WSClients     atomic.Int64
	SSEClients    atomic.Int64
	WebRTCClients atomic.Int64
	TotalClients  atomic.Uint64

	sightings *prometheus.CounterVec

	thresholdOnce sync.Once

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sightings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "label_sightings_total",
			Help:      "Times a watched label was seen",
		}, []string{"label"}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, v *atomic.Int64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.counter("batches_received_total", "Detection batches received from the inference engine", &m.BatchesReceived)
	m.counter("batches_dispatched_total", "Detection batches dispatched to handlers", &m.BatchesDispatched)
	m.counter("detections_filtered_total", "Detections dropped below the confidence threshold", &m.DetectionsFiltered)
	m.counter("detections_debounced_total", "Detections suppressed by the per-label debounce", &m.DetectionsDebounced)
	m.counter("handler_panics_total", "Handler invocations that panicked", &m.HandlerPanics)

	m.counter("messages_sent_total", "Messages delivered to the UI channel", &m.MessagesSent)
	m.counter("messages_dropped_total", "Messages the UI channel failed to accept", &m.MessagesDropped)
	m.counter("client_misses_total", "Per-client deliveries skipped because the client queue was full", &m.ClientMisses)
	m.counter("command_errors_total", "Inbound UI commands that failed", &m.CommandErrors)

	m.counter("threshold_updates_total", "Accepted threshold overrides", &m.ThresholdUpdates)
	m.counter("threshold_rejected_total", "Rejected threshold overrides", &m.ThresholdRejected)

	m.counter("feed_frames_total", "Frames read from the remote inference feed", &m.FeedFrames)
	m.counter("feed_reconnects_total", "Reconnect attempts to the remote inference feed", &m.FeedReconnects)

	m.gauge("ws_clients", "Connected WebSocket UI clients", &m.WSClients)
	m.gauge("sse_clients", "Connected SSE UI clients", &m.SSEClients)
	m.gauge("webrtc_clients", "Connected WebRTC UI clients", &m.WebRTCClients)
	m.counter("clients_total", "UI clients connected since start", &m.TotalClients)

	m.registry.MustRegister(m.sightings)
}

// RegisterThreshold exposes the current confidence threshold as a gauge.
// Only the first call registers.
func (m *Metrics) RegisterThreshold(get func() float64) {
	m.thresholdOnce.Do(func() {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "confidence_threshold",
				Help:      "Current confidence threshold",
			},
			get,
		))
	})
}

// RecordSighting counts one sighting of label.
func (m *Metrics) RecordSighting(label string) {
	m.sightings.WithLabelValues(label).Inc()
}

// Sightings returns the counter for label.
func (m *Metrics) Sightings(label string) prometheus.Counter {
	return m.sightings.WithLabelValues(label)
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics on addr.
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
