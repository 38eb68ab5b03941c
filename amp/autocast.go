package amp

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// Autocast is a scoped reduced-precision compute region.
//
// Outside of Do, the current precision is Full and Cast is a no-op. Inside Do (when
// enabled) it is Half. The previous precision is restored when Do returns, including
// when fn panics.
type Autocast struct {
	enabled bool
	current Precision
}

// NewAutocast creates a region. A disabled region never leaves full precision.
func NewAutocast(enabled bool) *Autocast {
	return &Autocast{enabled: enabled}
}

// Enabled reports whether the region reduces precision.
func (a *Autocast) Enabled() bool { return a.enabled }

// Precision returns the current precision.
func (a *Autocast) Precision() Precision { return a.current }

// Do runs fn inside the reduced-precision region.
func (a *Autocast) Do(fn func() error) error {
	prev := a.current
	if a.enabled {
		a.current = Half
	}
	defer func() { a.current = prev }()
	return fn()
}

// Cast rounds data to the current precision in place.
func (a *Autocast) Cast(data []float32) {
	if a.current == Half {
		RoundHalfSlice(data)
	}
}

// CastValue rounds a float32 tensor value in place.
func (a *Autocast) CastValue(v G.Value) error {
	if a.current != Half || v == nil {
		return nil
	}
	switch data := v.Data().(type) {
	case []float32:
		RoundHalfSlice(data)
	case float32:
		// scalars are boxed; nothing to write back
	default:
		return errors.Errorf("cannot cast %T to half precision", data)
	}
	return nil
}

// CastGrads rounds the gradients of model to the current precision in place.
func (a *Autocast) CastGrads(model []G.ValueGrad) error {
	if a.current != Half {
		return nil
	}
	for _, vg := range model {
		g, err := vg.Grad()
		if err != nil {
			return errors.WithStack(err)
		}
		if err = a.CastValue(g); err != nil {
			return err
		}
	}
	return nil
}
