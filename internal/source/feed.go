package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dj-oyu/face-detector/detection-bridge/internal/logger"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/metrics"
)

// DefaultReconnectDelay is how long RemoteFeed waits before redialing.
const DefaultReconnectDelay = 2 * time.Second

// DecodeFrame parses an inference frame. Both a bare array of detections and
// an object with a "detections" array are accepted.
func DecodeFrame(data []byte) ([]RawDetection, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty detection frame")
	}

	if data[0] == '[' {
		var raw []RawDetection
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode detections: %w", err)
		}
		return raw, nil
	}

	var frame struct {
		Detections []RawDetection `json:"detections"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode detection frame: %w", err)
	}
	return frame.Detections, nil
}

// Ingester consumes decoded inference ticks.
type Ingester interface {
	Ingest(raw []RawDetection)
}

// RemoteFeed reads detection frames from an inference engine over WebSocket
// and hands each one to an Ingester.
type RemoteFeed struct {
	url            string
	ingester       Ingester
	metrics        *metrics.Metrics
	dialer         *websocket.Dialer
	header         http.Header
	reconnectDelay time.Duration
}

// FeedOption configures a RemoteFeed.
type FeedOption func(*RemoteFeed)

// WithReconnectDelay overrides how long the feed waits before redialing.
func WithReconnectDelay(d time.Duration) FeedOption {
	return func(f *RemoteFeed) {
		f.reconnectDelay = d
	}
}

// NewRemoteFeed creates a feed for url (ws:// or wss://).
func NewRemoteFeed(url string, in Ingester, m *metrics.Metrics, opts ...FeedOption) *RemoteFeed {
	f := &RemoteFeed{
		url:            url,
		ingester:       in,
		metrics:        m,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: DefaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run connects and reads until ctx is cancelled, redialing after every
// failure. It returns nil on cancellation.
func (f *RemoteFeed) Run(ctx context.Context) error {
	for {
		logger.Info("RemoteFeed", "Connecting to inference engine at %s", f.url)
		err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("RemoteFeed", "Connection lost: %v, retrying in %v", err, f.reconnectDelay)
		if f.metrics != nil {
			f.metrics.FeedReconnects.Add(1)
		}

		t := time.NewTimer(f.reconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (f *RemoteFeed) session(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, f.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	logger.Info("RemoteFeed", "Connected to inference engine")

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		raw, err := DecodeFrame(data)
		if err != nil {
			logger.Warn("RemoteFeed", "Skipping frame: %v", err)
			continue
		}
		if f.metrics != nil {
			f.metrics.FeedFrames.Add(1)
		}
		f.ingester.Ingest(raw)
	}
}
