package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/face-detector/detection-bridge/internal/metrics"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/registry"
	"github.com/dj-oyu/face-detector/detection-bridge/pkg/types"
)

func newTestDispatcher() (*registry.Registry, *Dispatcher, *metrics.Metrics) {
	reg := registry.New()
	m := metrics.New()
	return reg, New(reg, m), m
}

func TestLabelHandlerCalledOnce(t *testing.T) {
	reg, d, _ := newTestDispatcher()

	faceCalls := 0
	reg.RegisterLabel("face", func() { faceCalls++ })

	d.Dispatch(types.DetectionBatch{
		"face": types.NewDetection(0.9, 1, 2, 3, 4),
		"cat":  types.NewDetection(0.8),
	})
	assert.Equal(t, 1, faceCalls)
}

func TestUnregisteredLabelIgnored(t *testing.T) {
	reg, d, _ := newTestDispatcher()

	called := false
	reg.RegisterLabel("face", func() { called = true })

	assert.NotPanics(t, func() {
		d.Dispatch(types.DetectionBatch{"dog": types.NewDetection(0.7)})
	})
	assert.False(t, called)
}

func TestGlobalCalledOncePerBatch(t *testing.T) {
	reg, d, _ := newTestDispatcher()

	var batches []types.DetectionBatch
	reg.RegisterGlobal(func(b types.DetectionBatch) { batches = append(batches, b) })

	batch := types.DetectionBatch{
		"face":   types.NewDetection(0.9),
		"person": types.NewDetection(0.6),
	}
	d.Dispatch(batch)

	require.Len(t, batches, 1)
	assert.Equal(t, batch, batches[0])
}

func TestGlobalCalledWithoutLabelMatches(t *testing.T) {
	reg, d, _ := newTestDispatcher()

	calls := 0
	reg.RegisterGlobal(func(types.DetectionBatch) { calls++ })
	d.Dispatch(types.DetectionBatch{"dog": types.NewDetection(0.7)})
	assert.Equal(t, 1, calls)
}

func TestLabelHandlersRunBeforeGlobal(t *testing.T) {
	reg, d, _ := newTestDispatcher()

	var order []string
	reg.RegisterLabel("face", func() { order = append(order, "face") })
	reg.RegisterLabel("cat", func() { order = append(order, "cat") })
	reg.RegisterGlobal(func(types.DetectionBatch) { order = append(order, "global") })

	d.Dispatch(types.DetectionBatch{
		"face": types.NewDetection(0.9),
		"cat":  types.NewDetection(0.9),
	})

	require.Len(t, order, 3)
	assert.Equal(t, "global", order[2])
	assert.ElementsMatch(t, []string{"face", "cat"}, order[:2])
}

func TestPanicIsolation(t *testing.T) {
	reg, d, m := newTestDispatcher()

	reg.RegisterLabel("face", func() { panic("boom") })
	catCalled := false
	reg.RegisterLabel("cat", func() { catCalled = true })
	globalCalls := 0
	reg.RegisterGlobal(func(types.DetectionBatch) { globalCalls++ })

	assert.NotPanics(t, func() {
		d.Dispatch(types.DetectionBatch{
			"face": types.NewDetection(0.9),
			"cat":  types.NewDetection(0.9),
		})
	})
	assert.True(t, catCalled)
	assert.Equal(t, 1, globalCalls)
	assert.Equal(t, uint64(1), m.HandlerPanics.Load())
}

func TestGlobalPanicRecovered(t *testing.T) {
	reg, d, m := newTestDispatcher()
	reg.RegisterGlobal(func(types.DetectionBatch) { panic(assert.AnError) })

	assert.NotPanics(t, func() {
		d.Dispatch(types.DetectionBatch{"face": types.NewDetection(0.9)})
	})
	assert.Equal(t, uint64(1), m.HandlerPanics.Load())
}

func TestReRegistrationReplaces(t *testing.T) {
	reg, d, _ := newTestDispatcher()

	first, second := 0, 0
	reg.RegisterLabel("face", func() { first++ })
	reg.RegisterLabel("face", func() { second++ })

	d.Dispatch(types.DetectionBatch{"face": types.NewDetection(0.9)})
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestEmptyBatch(t *testing.T) {
	reg, d, _ := newTestDispatcher()
	calls := 0
	reg.RegisterGlobal(func(types.DetectionBatch) { calls++ })
	d.Dispatch(types.DetectionBatch{})
	assert.Equal(t, 1, calls)
}
