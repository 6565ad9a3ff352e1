// Package bridge turns detection batches into UI messages.
package bridge

import (
	"sort"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/face-detector/detection-bridge/internal/logger"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/metrics"
	"github.com/dj-oyu/face-detector/detection-bridge/pkg/types"
)

// TopicDetection is the UI topic detection messages are published on.
const TopicDetection = "detection"

// TimestampLayout renders microseconds and a numeric UTC offset (+00:00).
const TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

// Channel is a publish-only UI transport. Send must not block.
type Channel interface {
	Send(topic string, payload any) error
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithClock overrides the clock used for message timestamps.
func WithClock(c clock.Clock) Option {
	return func(b *Bridge) {
		b.clock = c
	}
}

// Bridge forwards detection batches to a Channel.
type Bridge struct {
	channel Channel
	metrics *metrics.Metrics
	clock   clock.Clock
}

// New creates a Bridge publishing on ch.
func New(ch Channel, m *metrics.Metrics, opts ...Option) *Bridge {
	b := &Bridge{
		channel: ch,
		metrics: m,
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build creates the outbound message for one detection, stamped now.
func (b *Bridge) Build(label string, det types.Detection) types.OutboundMessage {
	return types.OutboundMessage{
		Content:    label,
		Confidence: det.Confidence,
		Box:        ToDisplayBox(det.BoundingBox),
		Timestamp:  b.clock.Now().UTC().Format(TimestampLayout),
	}
}

// Forward sends one message per label, in label order. Send failures are
// counted and dropped.
func (b *Bridge) Forward(batch types.DetectionBatch) {
	labels := batch.Labels()
	sort.Strings(labels)

	for _, label := range labels {
		msg := b.Build(label, batch[label])
		if err := b.channel.Send(TopicDetection, msg); err != nil {
			if b.metrics != nil {
				b.metrics.MessagesDropped.Add(1)
			}
			logger.Debug("Bridge", "Dropped %s message for %q: %v", TopicDetection, label, err)
			continue
		}
		if b.metrics != nil {
			b.metrics.MessagesSent.Add(1)
		}
	}
}
