package webmonitor

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dj-oyu/face-detector/detection-bridge/internal/logger"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/metrics"
)

// EventOverrideThreshold is the inbound command that changes the threshold.
const EventOverrideThreshold = "override_th"

// CommandHandler handles one inbound UI command.
type CommandHandler func(clientID string, data json.RawMessage) error

// ThresholdSetter applies a new confidence threshold.
type ThresholdSetter func(v float64) error

// ThresholdCommand adapts setter to the override_th command, whose data is a
// bare number.
func ThresholdCommand(setter ThresholdSetter) CommandHandler {
	return func(clientID string, data json.RawMessage) error {
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("%s: threshold must be a number: %w", EventOverrideThreshold, err)
		}
		if err := setter(v); err != nil {
			return fmt.Errorf("%s: %w", EventOverrideThreshold, err)
		}
		logger.Debug("Commands", "Client %s set threshold to %.2f", clientID, v)
		return nil
	}
}

// commandRouter maps event names to handlers.
type commandRouter struct {
	mu       sync.RWMutex
	handlers map[string]CommandHandler
	metrics  *metrics.Metrics
}

func newCommandRouter(m *metrics.Metrics) *commandRouter {
	return &commandRouter{
		handlers: make(map[string]CommandHandler),
		metrics:  m,
	}
}

func (r *commandRouter) register(event string, h CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		delete(r.handlers, event)
		return
	}
	r.handlers[event] = h
}

// handle decodes an envelope and runs its handler. Socket transports have no
// reply path, so failures are only logged and counted.
func (r *commandRouter) handle(clientID string, raw []byte) {
	if err := r.route(clientID, raw); err != nil {
		if r.metrics != nil {
			r.metrics.CommandErrors.Add(1)
		}
		logger.Warn("Commands", "Client %s: %v", clientID, err)
	}
}

func (r *commandRouter) route(clientID string, raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("malformed message: %w", err)
	}
	if env.Event == "" {
		return fmt.Errorf("message without event")
	}

	r.mu.RLock()
	h, ok := r.handlers[env.Event]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown event %q", env.Event)
	}
	return h(clientID, env.Data)
}
