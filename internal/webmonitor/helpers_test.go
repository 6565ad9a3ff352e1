package webmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dj-oyu/face-detector/detection-bridge/internal/bridge"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/dispatcher"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/metrics"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/registry"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/source"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/threshold"
)

const defaultRequestTimeout = 2 * time.Second

// fixture wires a full bridge behind an httptest server: source -> dispatcher
// -> bridge -> Server.Send.
type fixture struct {
	server    *Server
	http      *httptest.Server
	client    *http.Client
	threshold *threshold.Controller
	source    *source.Source
	metrics   *metrics.Metrics
	faceSeen  atomic.Int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	th, err := threshold.New(0.5)
	if err != nil {
		t.Fatalf("threshold: %v", err)
	}
	m := metrics.New()
	reg := registry.New()
	src, err := source.New(source.Config{Threshold: th}, reg, dispatcher.New(reg, m), m)
	if err != nil {
		t.Fatalf("source: %v", err)
	}

	cfg := DefaultConfig()
	cfg.AssetsDir = t.TempDir()
	cfg.ServeMetrics = true
	cfg.StatusInterval = 50 * time.Millisecond

	f := &fixture{
		threshold: th,
		source:    src,
		metrics:   m,
		client:    &http.Client{Timeout: defaultRequestTimeout},
	}
	f.server = NewServer(cfg, src, nil, m)
	f.server.OnMessage(EventOverrideThreshold, ThresholdCommand(src.OverrideThreshold))
	src.OnDetect("face", func() { f.faceSeen.Add(1) })
	src.OnDetectAll(bridge.New(f.server, m).Forward)

	f.http = httptest.NewServer(f.server.Handler())
	t.Cleanup(func() {
		_ = f.server.Close()
		f.http.Close()
	})
	return f
}

func (f *fixture) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(f.http.URL, "http") + path
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := f.client.Get(f.http.URL + path)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (f *fixture) postRaw(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := f.client.Post(f.http.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, data
}

func (f *fixture) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return f.postRaw(t, path, string(data))
}

type sseResult struct {
	event   string
	headers http.Header
	err     error
}

// readSSEEvent returns the first complete event (comments skipped) from url.
func readSSEEvent(url string, header http.Header, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				event := string(buf[:idx])
				buf = buf[idx+2:]
				if strings.HasPrefix(event, ":") {
					continue
				}
				return event, resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func sseField(t *testing.T, event, field string) string {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, field+":") {
			return strings.TrimSpace(strings.TrimPrefix(line, field+":"))
		}
	}
	t.Fatalf("no %s line in sse event: %q", field, event)
	return ""
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertDetectionPayload(t *testing.T, payload map[string]any, label string) {
	t.Helper()
	if payload["content"] != label {
		t.Fatalf("content = %v, want %s", payload["content"], label)
	}
	requireNumber(t, payload["confidence"], "confidence")
	if _, ok := payload["timestamp"].(string); !ok {
		t.Fatalf("expected timestamp to be string, got %T", payload["timestamp"])
	}
	if _, ok := payload["box"]; !ok {
		t.Fatalf("box key missing")
	}
	if payload["box"] != nil {
		box := requireMap(t, payload["box"], "box")
		for _, k := range []string{"x", "y", "width", "height"} {
			requireNumber(t, box[k], "box."+k)
		}
	}
}

const faceFrame = `[{"label":"face","confidence":0.92,"bounding_box_xyxy":[233,249,360,397]}]`
