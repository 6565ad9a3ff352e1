// Package source turns raw inference output into detection batches.
package source

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/dj-oyu/face-detector/detection-bridge/internal/dispatcher"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/logger"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/metrics"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/registry"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/threshold"
	"github.com/dj-oyu/face-detector/detection-bridge/pkg/types"
)

// RawDetection is one object reported by the inference engine.
type RawDetection struct {
	Label       string     `json:"label"`
	Confidence  float64    `json:"confidence"`
	BoundingBox types.BBox `json:"bounding_box_xyxy"` // malformed boxes decode to nil
}

// Config configures a Source.
type Config struct {
	Threshold *threshold.Controller

	// DebounceInterval suppresses a label seen again within the interval.
	// Zero disables debouncing.
	DebounceInterval time.Duration

	Clock clock.Clock
}

// Source gates raw detections by confidence and dispatches the survivors.
type Source struct {
	threshold *threshold.Controller
	registry  *registry.Registry
	dispatch  *dispatcher.Dispatcher
	metrics   *metrics.Metrics
	clock     clock.Clock
	debounce  time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Source.
func New(cfg Config, reg *registry.Registry, d *dispatcher.Dispatcher, m *metrics.Metrics) (*Source, error) {
	if cfg.Threshold == nil {
		return nil, errors.New("source: threshold controller is required")
	}
	if cfg.DebounceInterval < 0 {
		return nil, errors.New("source: debounce interval must not be negative")
	}
	if reg == nil || d == nil {
		return nil, errors.New("source: registry and dispatcher are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Source{
		threshold: cfg.Threshold,
		registry:  reg,
		dispatch:  d,
		metrics:   m,
		clock:     cfg.Clock,
		debounce:  cfg.DebounceInterval,
		limiters:  make(map[string]*rate.Limiter),
	}, nil
}

// OnDetect registers h for label.
func (s *Source) OnDetect(label string, h registry.LabelHandler) {
	s.registry.RegisterLabel(label, h)
}

// OnDetectAll registers the handler that receives every batch.
func (s *Source) OnDetectAll(h registry.BatchHandler) {
	s.registry.RegisterGlobal(h)
}

// OverrideThreshold sets the confidence threshold used by the next Ingest.
func (s *Source) OverrideThreshold(v float64) error {
	if err := s.threshold.Set(v); err != nil {
		if s.metrics != nil {
			s.metrics.ThresholdRejected.Add(1)
		}
		return err
	}
	if s.metrics != nil {
		s.metrics.ThresholdUpdates.Add(1)
	}
	logger.Info("Source", "Confidence threshold set to %.2f", v)
	return nil
}

// Threshold returns the current confidence threshold.
func (s *Source) Threshold() float64 {
	return s.threshold.Get()
}

// Labels returns the labels that have a handler registered.
func (s *Source) Labels() []string {
	return s.registry.Labels()
}

// Ingest processes one inference tick. Entries below the threshold are
// dropped, the most confident entry wins per label and labels still inside
// their debounce window are suppressed. A non-empty batch is dispatched once.
func (s *Source) Ingest(raw []RawDetection) {
	if s.metrics != nil {
		s.metrics.BatchesReceived.Add(1)
	}

	minConf := s.threshold.Get()
	batch := make(types.DetectionBatch)
	best := make(map[string]float64)

	for _, r := range raw {
		if r.Label == "" {
			continue
		}
		if r.Confidence < minConf {
			if s.metrics != nil {
				s.metrics.DetectionsFiltered.Add(1)
			}
			continue
		}
		if prev, ok := best[r.Label]; ok && prev >= r.Confidence {
			continue
		}
		best[r.Label] = r.Confidence
		batch[r.Label] = types.NewDetection(r.Confidence, r.BoundingBox...)
	}

	s.applyDebounce(batch)

	if len(batch) == 0 {
		return
	}
	if s.metrics != nil {
		s.metrics.BatchesDispatched.Add(1)
	}
	s.dispatch.Dispatch(batch)
}

func (s *Source) applyDebounce(batch types.DetectionBatch) {
	if s.debounce == 0 || len(batch) == 0 {
		return
	}

	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for label := range batch {
		lim, ok := s.limiters[label]
		if !ok {
			lim = rate.NewLimiter(rate.Every(s.debounce), 1)
			s.limiters[label] = lim
		}
		if lim.AllowN(now, 1) {
			continue
		}
		delete(batch, label)
		if s.metrics != nil {
			s.metrics.DetectionsDebounced.Add(1)
		}
	}
}
