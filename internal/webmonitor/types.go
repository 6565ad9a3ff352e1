package webmonitor

import (
	"encoding/json"

	"github.com/dj-oyu/face-detector/detection-bridge/internal/bridge"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/webrtc"
)

// TopicDetection is the outbound detection topic.
const TopicDetection = bridge.TopicDetection

// Envelope is the socket framing shared by the WebSocket and WebRTC transports.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ClientCounts is the number of connected UI clients per transport.
type ClientCounts struct {
	WebSocket int `json:"ws"`
	SSE       int `json:"sse"`
	WebRTC    int `json:"webrtc"`
}

// StreamSize is the frame size detection boxes are expressed in.
type StreamSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Status is the payload of /api/status.
type Status struct {
	Threshold        float64           `json:"threshold"`
	RecentDetections []json.RawMessage `json:"recent_detections"`
	Clients          ClientCounts      `json:"clients"`
	Labels           []string          `json:"labels"`
	Stream           StreamSize        `json:"stream"`
	MessagesSent     uint64            `json:"messages_sent"`
	Timestamp        float64           `json:"timestamp"`

	// RTCClients is keyed by client id; omitted when WebRTC is disabled.
	RTCClients map[string]webrtc.ClientStats `json:"rtc_clients,omitempty"`
}

type thresholdBody struct {
	Threshold *float64 `json:"threshold"`
}
