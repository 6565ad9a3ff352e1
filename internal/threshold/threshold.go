// Package threshold holds the runtime-mutable confidence threshold shared by
// the detection source and the UI command handlers.
package threshold

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/atomic"
)

// Default is the threshold used when nothing else is configured.
const Default = 0.5

// ValidationError is returned when a threshold falls outside [0, 1].
type ValidationError struct {
	Value float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("threshold %v out of range [0, 1]", e.Value)
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Controller owns the current threshold. Reads and writes are atomic; the
// last Set wins.
type Controller struct {
	value *atomic.Float64
}

// New returns a Controller starting at initial.
func New(initial float64) (*Controller, error) {
	if err := validate(initial); err != nil {
		return nil, err
	}
	return &Controller{value: atomic.NewFloat64(initial)}, nil
}

// Get returns the current threshold.
func (c *Controller) Get() float64 {
	return c.value.Load()
}

// Set replaces the threshold. An invalid value leaves the previous one in place.
func (c *Controller) Set(v float64) error {
	if err := validate(v); err != nil {
		return err
	}
	c.value.Store(v)
	return nil
}

func validate(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return &ValidationError{Value: v}
	}
	return nil
}
