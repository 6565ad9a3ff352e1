package webmonitor

import (
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func subscribeSSE(t *testing.T, f *fixture, header http.Header) <-chan sseResult {
	t.Helper()
	before := f.server.events.ClientCount()
	out := make(chan sseResult, 1)
	go func() {
		event, headers, err := readSSEEvent(f.http.URL+"/api/events/stream", header, 3*time.Second)
		out <- sseResult{event: event, headers: headers, err: err}
	}()
	require.Eventually(t, func() bool { return f.server.events.ClientCount() > before },
		2*time.Second, 10*time.Millisecond)
	return out
}

func TestEventsStreamJSON(t *testing.T) {
	f := newFixture(t)
	results := subscribeSSE(t, f, nil)

	f.postRaw(t, "/api/detections", faceFrame)

	res := <-results
	require.NoError(t, res.err)
	assert.Contains(t, res.headers.Get("Content-Type"), "text/event-stream")
	assert.Equal(t, "application/json", res.headers.Get("X-Content-Format"))
	assert.Equal(t, "detection", sseField(t, res.event, "event"))

	payload := decodeJSONMap(t, []byte(sseField(t, res.event, "data")))
	assertDetectionPayload(t, payload, "face")
}

func TestEventsStreamProtobuf(t *testing.T) {
	f := newFixture(t)
	results := subscribeSSE(t, f, http.Header{"Accept": []string{"application/protobuf"}})

	f.postRaw(t, "/api/detections", faceFrame)

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, "application/protobuf", res.headers.Get("X-Content-Format"))

	raw, err := base64.StdEncoding.DecodeString(sseField(t, res.event, "data"))
	require.NoError(t, err)

	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(raw, &st))
	fields := st.AsMap()
	assert.Equal(t, "face", fields["content"])
	assert.Equal(t, 0.92, fields["confidence"])
	box, ok := fields["box"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 127.0, box["width"])
}

func TestStatusStream(t *testing.T) {
	f := newFixture(t)

	event, headers, err := readSSEEvent(f.http.URL+"/api/status/stream", nil, 3*time.Second)
	require.NoError(t, err)
	assert.Contains(t, headers.Get("Content-Type"), "text/event-stream")

	status := decodeJSONMap(t, []byte(sseField(t, event, "data")))
	assert.Equal(t, 0.5, requireNumber(t, status["threshold"], "threshold"))
	requireMap(t, status["clients"], "clients")
}
