// Package dispatcher routes a detection batch to the handlers registered for it.
package dispatcher

import (
	"github.com/pkg/errors"

	"github.com/dj-oyu/face-detector/detection-bridge/internal/logger"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/metrics"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/registry"
	"github.com/dj-oyu/face-detector/detection-bridge/pkg/types"
)

// Handlers is the lookup side of the registry.
type Handlers interface {
	Lookup(label string) (registry.LabelHandler, bool)
	Global() (registry.BatchHandler, bool)
}

// Dispatcher invokes label handlers and then the global handler for each batch.
type Dispatcher struct {
	handlers Handlers
	metrics  *metrics.Metrics
}

// New creates a Dispatcher reading handlers from h.
func New(h Handlers, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{handlers: h, metrics: m}
}

// Dispatch runs inline on the caller's goroutine. Every label in the batch
// with a handler gets one call, then the global handler (if any) gets the
// whole batch once. A panicking handler is logged and skipped.
func (d *Dispatcher) Dispatch(batch types.DetectionBatch) {
	for label := range batch {
		h, ok := d.handlers.Lookup(label)
		if !ok {
			continue
		}
		d.invoke(label, h)
	}

	if global, ok := d.handlers.Global(); ok {
		d.invoke("*", func() { global(batch) })
	}
}

func (d *Dispatcher) invoke(name string, fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		var err error
		if e, ok := r.(error); ok {
			err = errors.WithStack(e)
		} else {
			err = errors.Errorf("%v", r)
		}
		if d.metrics != nil {
			d.metrics.HandlerPanics.Add(1)
		}
		logger.Error("Dispatcher", "Handler for %q panicked: %+v", name, err)
	}()

	fn()
}
