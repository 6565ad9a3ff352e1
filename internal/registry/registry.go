// Package registry maps detection labels to the handlers interested in them.
package registry

import (
	"sort"
	"sync"

	"github.com/dj-oyu/face-detector/detection-bridge/pkg/types"
)

// LabelHandler runs when its label appears in a batch. It takes no arguments.
type LabelHandler func()

// BatchHandler receives every dispatched batch.
type BatchHandler func(types.DetectionBatch)

// Registry holds at most one handler per label plus one optional global handler.
type Registry struct {
	mu     sync.RWMutex
	labels map[string]LabelHandler
	global BatchHandler
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{labels: make(map[string]LabelHandler)}
}

// RegisterLabel binds h to label, replacing any previous handler. A nil h
// removes the binding.
func (r *Registry) RegisterLabel(label string, h LabelHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h == nil {
		delete(r.labels, label)
		return
	}
	r.labels[label] = h
}

// RegisterGlobal sets the catch-all handler, replacing any previous one.
func (r *Registry) RegisterGlobal(h BatchHandler) {
	r.mu.Lock()
	r.global = h
	r.mu.Unlock()
}

// Lookup returns the handler bound to label.
func (r *Registry) Lookup(label string) (LabelHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.labels[label]
	return h, ok
}

// Global returns the catch-all handler if one is registered.
func (r *Registry) Global() (BatchHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.global, r.global != nil
}

// Labels returns the labels with a registered handler, sorted.
func (r *Registry) Labels() []string {
	r.mu.RLock()
	labels := make([]string, 0, len(r.labels))
	for label := range r.labels {
		labels = append(labels, label)
	}
	r.mu.RUnlock()

	sort.Strings(labels)
	return labels
}
