package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/face-detector/detection-bridge/internal/logger"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/metrics"
)

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	Event        string
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized google.protobuf.Struct, base64 encoded for SSE
}

// NewSerializedEvent encodes a JSON payload for both SSE formats. Object
// payloads become a google.protobuf.Struct, anything else a Value.
func NewSerializedEvent(event string, payload json.RawMessage) (*SerializedEvent, error) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", event, err)
	}

	var msg proto.Message
	if obj, ok := decoded.(map[string]any); ok {
		st, err := structpb.NewStruct(obj)
		if err != nil {
			return nil, fmt.Errorf("convert %s payload: %w", event, err)
		}
		msg = st
	} else {
		v, err := structpb.NewValue(decoded)
		if err != nil {
			return nil, fmt.Errorf("convert %s payload: %w", event, err)
		}
		msg = v
	}

	pbData, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}

	return &SerializedEvent{
		Event:        event,
		JSONData:     payload,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// EventBroadcaster manages fanout of UI events to multiple SSE clients.
type EventBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	stopped bool
	metrics *metrics.Metrics
}

// NewEventBroadcaster creates a broadcaster for SSE clients.
func NewEventBroadcaster(m *metrics.Metrics) *EventBroadcaster {
	return &EventBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
		metrics: m,
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
// After Stop the returned channel is already closed.
func (eb *EventBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	ch := make(chan *SerializedEvent, 2) // Buffer 2 events to avoid blocking
	if eb.stopped {
		close(ch)
		return id, ch
	}
	eb.clients[id] = ch

	if eb.metrics != nil {
		eb.metrics.SSEClients.Add(1)
		eb.metrics.TotalClients.Add(1)
	}
	logger.Debug("EventBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(eb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (eb *EventBroadcaster) Unsubscribe(id int) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if ch, ok := eb.clients[id]; ok {
		close(ch)
		delete(eb.clients, id)
		if eb.metrics != nil {
			eb.metrics.SSEClients.Add(-1)
		}
		logger.Debug("EventBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(eb.clients))
	}
}

// Publish fans ev out without blocking and returns how many clients were
// too slow to take it.
func (eb *EventBroadcaster) Publish(ev *SerializedEvent) int {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	dropped := 0
	for _, ch := range eb.clients {
		select {
		case ch <- ev:
		default:
			// Client too slow, skip this event for this client
			dropped++
		}
	}
	return dropped
}

// ClientCount returns the number of subscribed clients.
func (eb *EventBroadcaster) ClientCount() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.clients)
}

// Stop closes every client channel and rejects new subscribers.
func (eb *EventBroadcaster) Stop() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.stopped {
		return
	}
	eb.stopped = true
	for id, ch := range eb.clients {
		close(ch)
		delete(eb.clients, id)
		if eb.metrics != nil {
			eb.metrics.SSEClients.Add(-1)
		}
	}
}
