package webmonitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/dj-oyu/face-detector/detection-bridge/internal/logger"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/metrics"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/source"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/threshold"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/webrtc"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("webmonitor: server closed")

// DetectionSource is what the HTTP API needs from the detection source.
type DetectionSource interface {
	Threshold() float64
	OverrideThreshold(v float64) error
	Ingest(raw []source.RawDetection)
	Labels() []string
}

// Server serves the UI channel: WebSocket, SSE and WebRTC transports plus the
// JSON API.
type Server struct {
	cfg      Config
	source   DetectionSource
	monitor  *Monitor
	hub      *Hub
	events   *EventBroadcaster
	rtc      *webrtc.Server
	metrics  *metrics.Metrics
	commands *commandRouter
	closed   atomic.Bool
}

// NewServer returns a configured monitor server. rtc may be nil to disable
// the WebRTC transport.
func NewServer(cfg Config, src DetectionSource, rtc *webrtc.Server, m *metrics.Metrics) *Server {
	cfg = cfg.withDefaults()
	commands := newCommandRouter(m)

	s := &Server{
		cfg:      cfg,
		source:   src,
		monitor:  NewMonitor(cfg.RecentDetections),
		hub:      NewHub(m, commands.handle),
		events:   NewEventBroadcaster(m),
		rtc:      rtc,
		metrics:  m,
		commands: commands,
	}
	if rtc != nil {
		rtc.OnMessage(commands.handle)
	}
	return s
}

// OnMessage registers the handler for an inbound UI event, replacing any
// previous one. It applies to every socket transport.
func (s *Server) OnMessage(event string, h CommandHandler) {
	s.commands.register(event, h)
}

// Send publishes payload on topic to every connected UI client. It never
// blocks; slow clients miss the message and are counted as client misses.
func (s *Server) Send(topic string, payload any) error {
	if s.closed.Load() {
		return ErrClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	envelope, err := json.Marshal(Envelope{Event: topic, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", topic, err)
	}

	missed := s.hub.Broadcast(envelope)
	if s.rtc != nil {
		missed += s.rtc.Broadcast(envelope)
	}
	if ev, err := NewSerializedEvent(topic, data); err != nil {
		logger.Debug("Server", "SSE encoding failed for %s: %v", topic, err)
	} else {
		missed += s.events.Publish(ev)
	}
	s.monitor.Record(topic, data)

	if missed > 0 && s.metrics != nil {
		s.metrics.ClientMisses.Add(uint64(missed))
	}
	return nil
}

// Clients returns the connected client count per transport.
func (s *Server) Clients() ClientCounts {
	counts := ClientCounts{
		WebSocket: s.hub.ClientCount(),
		SSE:       s.events.ClientCount(),
	}
	if s.rtc != nil {
		counts.WebRTC = s.rtc.GetClientCount()
	}
	return counts
}

// Close disconnects every UI client. Later Sends fail with ErrClosed.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.events.Stop()
	err := s.hub.Close()
	if s.rtc != nil {
		err = multierr.Append(err, s.rtc.Close())
	}
	return err
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	assetHandler := newAssetHandler(s.cfg.AssetsDir)

	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/assets/", http.StripPrefix("/assets/", assetHandler))
	mux.Handle("/ws", s.hub)
	mux.HandleFunc("/api/events/stream", s.handleEventsStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/threshold", s.handleThreshold)
	mux.HandleFunc("/api/detections", s.handleDetections)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)
	mux.HandleFunc("/health", s.handleHealth)
	if s.cfg.ServeMetrics && s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) status() Status {
	st := Status{
		Threshold:        s.source.Threshold(),
		RecentDetections: s.monitor.Recent(),
		Clients:          s.Clients(),
		Labels:           s.source.Labels(),
		Stream:           StreamSize{Width: s.cfg.StreamWidth, Height: s.cfg.StreamHeight},
		MessagesSent:     s.monitor.Count(TopicDetection),
		Timestamp:        float64(time.Now().Unix()),
	}
	if s.rtc != nil {
		st.RTCClients = s.rtc.GetClientStats()
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	setSSEHeaders(w, false)

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, s.status()); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.events.Subscribe()
	defer s.events.Unsubscribe(id)

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamEventsFromChannel(r.Context(), w, eventCh, useProtobuf, s.cfg.KeepaliveInterval)
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]any{"threshold": s.source.Threshold()})

	case http.MethodPost:
		var body thresholdBody
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
		if err := dec.Decode(&body); err != nil || body.Threshold == nil {
			writeJSONWithStatus(w, map[string]any{"error": "body must be {\"threshold\": <number>}"}, http.StatusBadRequest)
			return
		}

		if err := s.source.OverrideThreshold(*body.Threshold); err != nil {
			status := http.StatusInternalServerError
			if threshold.IsValidationError(err) {
				status = http.StatusBadRequest
			}
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
			return
		}
		writeJSON(w, map[string]any{"threshold": s.source.Threshold()})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "failed to read body"}, http.StatusBadRequest)
		return
	}

	raw, err := source.DecodeFrame(body)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	s.source.Ingest(raw)
	writeJSON(w, map[string]any{"received": len(raw)})
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.rtc == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is disabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.rtc.HandleOffer(body)
	if err != nil {
		logger.Warn("Server", "WebRTC offer error: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("Failed to handle offer: %v", err)}, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	clients := s.Clients()
	writeJSON(w, map[string]any{
		"status":  "ok",
		"clients": clients,
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
