package bridge

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/face-detector/detection-bridge/internal/dispatcher"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/metrics"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/registry"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/threshold"
	"github.com/dj-oyu/face-detector/detection-bridge/pkg/types"
)

type sent struct {
	topic   string
	payload any
}

type recordingChannel struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (c *recordingChannel) Send(topic string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, sent{topic: topic, payload: payload})
	return nil
}

func mockClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC))
	return mock
}

func TestBuild(t *testing.T) {
	b := New(&recordingChannel{}, metrics.New(), WithClock(mockClock()))

	msg := b.Build("cat", types.NewDetection(0.61, 10, 20, 30, 60))
	assert.Equal(t, "cat", msg.Content)
	require.NotNil(t, msg.Confidence)
	assert.Equal(t, 0.61, *msg.Confidence)
	assert.Equal(t, &types.DisplayBox{X: 10, Y: 20, Width: 20, Height: 40}, msg.Box)
	assert.Equal(t, "2025-03-14T09:26:53.589793+00:00", msg.Timestamp)
}

func TestBuildTimestampInUTC(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 3, 14, 18, 0, 0, 0, time.FixedZone("JST", 9*3600)))
	b := New(&recordingChannel{}, nil, WithClock(mock))

	msg := b.Build("face", types.Detection{})
	assert.Equal(t, "2025-03-14T09:00:00.000000+00:00", msg.Timestamp)
	assert.Nil(t, msg.Confidence)
	assert.Nil(t, msg.Box)
}

func TestForwardOrderAndCount(t *testing.T) {
	ch := &recordingChannel{}
	m := metrics.New()
	b := New(ch, m, WithClock(mockClock()))

	b.Forward(types.DetectionBatch{
		"person": types.NewDetection(0.7),
		"cat":    types.NewDetection(0.8, 0, 0, 1, 1),
		"face":   types.NewDetection(0.9, 1, 1, 2, 2),
	})

	require.Len(t, ch.msgs, 3)
	var labels []string
	for _, s := range ch.msgs {
		assert.Equal(t, TopicDetection, s.topic)
		labels = append(labels, s.payload.(types.OutboundMessage).Content)
	}
	assert.Equal(t, []string{"cat", "face", "person"}, labels)
	assert.Equal(t, uint64(3), m.MessagesSent.Load())
}

func TestForwardSendErrorDropped(t *testing.T) {
	ch := &recordingChannel{err: errors.New("closed")}
	m := metrics.New()
	b := New(ch, m)

	assert.NotPanics(t, func() {
		b.Forward(types.DetectionBatch{"face": types.NewDetection(0.9)})
	})
	assert.Equal(t, uint64(1), m.MessagesDropped.Load())
	assert.Equal(t, uint64(0), m.MessagesSent.Load())
}

func TestFaceEndToEnd(t *testing.T) {
	th, err := threshold.New(0.5)
	require.NoError(t, err)

	reg := registry.New()
	m := metrics.New()
	d := dispatcher.New(reg, m)
	ch := &recordingChannel{}
	b := New(ch, m, WithClock(mockClock()))

	faceSeen := 0
	reg.RegisterLabel("face", func() { faceSeen++ })
	reg.RegisterGlobal(b.Forward)

	det := types.NewDetection(0.92, 233, 249, 360, 397)
	require.GreaterOrEqual(t, *det.Confidence, th.Get())
	d.Dispatch(types.DetectionBatch{"face": det})

	assert.Equal(t, 1, faceSeen)
	require.Len(t, ch.msgs, 1)
	assert.Equal(t, "detection", ch.msgs[0].topic)

	data, err := json.Marshal(ch.msgs[0].payload)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"content":"face","confidence":0.92,"box":{"x":233,"y":249,"width":127,"height":148},"timestamp":"2025-03-14T09:26:53.589793+00:00"}`,
		string(data))
}
