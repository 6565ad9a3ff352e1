package webmonitor

import (
	"encoding/json"
	"sync"
)

// Monitor keeps the most recent outbound messages for the status API.
type Monitor struct {
	limit int

	mu      sync.Mutex
	recent  []json.RawMessage // newest first
	perType map[string]uint64
}

// NewMonitor creates a Monitor retaining limit detection messages.
func NewMonitor(limit int) *Monitor {
	return &Monitor{
		limit:   limit,
		perType: make(map[string]uint64),
	}
}

// Record notes a message published on topic. Only detection payloads are
// retained.
func (m *Monitor) Record(topic string, payload json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.perType[topic]++
	if topic != TopicDetection {
		return
	}

	m.recent = append([]json.RawMessage{payload}, m.recent...)
	if len(m.recent) > m.limit {
		m.recent = m.recent[:m.limit]
	}
}

// Recent returns a copy of the retained messages, newest first.
func (m *Monitor) Recent() []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]json.RawMessage, len(m.recent))
	copy(out, m.recent)
	return out
}

// Count returns how many messages were published on topic.
func (m *Monitor) Count(topic string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perType[topic]
}
