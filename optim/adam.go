// Package optim provides optimizers whose state can be checkpointed.
//
// gorgonia's own solvers keep their moment caches unexported, which makes it impossible
// to persist and restore them across runs. Adam here implements gorgonia.Solver and
// exposes its State.
package optim

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/vecf32"
)

var _ G.Solver = (*Adam)(nil)

// State is the complete state of an Adam optimizer. M and V hold one moment vector per
// parameter, in the order the model was passed to Step.
type State struct {
	LearnRate float64
	Beta1     float64
	Beta2     float64
	Epsilon   float64
	Iter      int
	M, V      [][]float32
}

// Adam is the Adam optimizer (Kingma & Ba) with bias correction.
type Adam struct {
	State
	tmp []float32
}

// Opt configures an Adam.
type Opt func(*Adam)

// WithLearnRate sets the learn rate.
func WithLearnRate(lr float64) Opt { return func(a *Adam) { a.LearnRate = lr } }

// WithBetas sets the exponential decay rates of the first and second moments.
func WithBetas(beta1, beta2 float64) Opt {
	return func(a *Adam) {
		a.Beta1 = beta1
		a.Beta2 = beta2
	}
}

// WithEpsilon sets the denominator fuzz factor.
func WithEpsilon(eps float64) Opt { return func(a *Adam) { a.Epsilon = eps } }

// NewAdam creates an Adam optimizer. The defaults are lr 1e-3, betas (0.9, 0.999), eps 1e-8.
func NewAdam(opts ...Opt) *Adam {
	a := &Adam{
		State: State{
			LearnRate: 1e-3,
			Beta1:     0.9,
			Beta2:     0.999,
			Epsilon:   1e-8,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Step updates every parameter of model in place using its gradient, then clears the gradient.
func (a *Adam) Step(model []G.ValueGrad) error {
	if a.M == nil {
		a.M = make([][]float32, len(model))
		a.V = make([][]float32, len(model))
		for i, vg := range model {
			w, err := weightData(vg)
			if err != nil {
				return errors.Wrapf(err, "parameter %d", i)
			}
			a.M[i] = make([]float32, len(w))
			a.V[i] = make([]float32, len(w))
		}
	}
	if len(a.M) != len(model) || len(a.V) != len(model) {
		return errors.Errorf("optimizer state holds %d parameters, model has %d", len(a.M), len(model))
	}

	a.Iter++
	c1 := 1 - math.Pow(a.Beta1, float64(a.Iter))
	c2 := 1 - math.Pow(a.Beta2, float64(a.Iter))
	stepSize := float32(a.LearnRate / c1)
	sqrtC2 := float32(math.Sqrt(c2))
	b1, b2 := float32(a.Beta1), float32(a.Beta2)
	eps := float32(a.Epsilon)

	for i, vg := range model {
		w, err := weightData(vg)
		if err != nil {
			return errors.Wrapf(err, "parameter %d", i)
		}
		g, err := gradData(vg)
		if err != nil {
			return errors.Wrapf(err, "parameter %d", i)
		}
		m, v := a.M[i], a.V[i]
		if len(g) != len(w) || len(m) != len(w) || len(v) != len(w) {
			return errors.Errorf("parameter %d: size %d, gradient %d, moments %d/%d", i, len(w), len(g), len(m), len(v))
		}
		if cap(a.tmp) < len(w) {
			a.tmp = make([]float32, len(w))
		}
		tmp := a.tmp[:len(w)]

		// m = β1·m + (1-β1)·g
		copy(tmp, g)
		vecf32.Scale(tmp, 1-b1)
		vecf32.Scale(m, b1)
		vecf32.Add(m, tmp)

		// v = β2·v + (1-β2)·g²
		copy(tmp, g)
		vecf32.Mul(tmp, g)
		vecf32.Scale(tmp, 1-b2)
		vecf32.Scale(v, b2)
		vecf32.Add(v, tmp)

		for j := range w {
			w[j] -= stepSize * m[j] / (math32.Sqrt(v[j])/sqrtC2 + eps)
		}
		// the VM accumulates into the gradient on every backward pass
		zero(g)
	}
	return nil
}

func zero(a []float32) {
	for i := range a {
		a[i] = 0
	}
}

// SetLearnRate overrides the learn rate.
func (a *Adam) SetLearnRate(lr float64) { a.LearnRate = lr }

// Snapshot returns a deep copy of the optimizer state.
func (a *Adam) Snapshot() State {
	s := a.State
	s.M = cloneMoments(a.M)
	s.V = cloneMoments(a.V)
	return s
}

// Restore replaces the optimizer state with a deep copy of s.
func (a *Adam) Restore(s State) error {
	if len(s.M) != len(s.V) {
		return errors.Errorf("inconsistent optimizer state: %d first moments, %d second moments", len(s.M), len(s.V))
	}
	for i := range s.M {
		if len(s.M[i]) != len(s.V[i]) {
			return errors.Errorf("inconsistent optimizer state for parameter %d", i)
		}
	}
	if s.Iter < 0 {
		return errors.Errorf("negative iteration count %d", s.Iter)
	}
	a.State = s
	a.M = cloneMoments(s.M)
	a.V = cloneMoments(s.V)
	return nil
}

func cloneMoments(a [][]float32) [][]float32 {
	if a == nil {
		return nil
	}
	retVal := make([][]float32, len(a))
	for i := range a {
		retVal[i] = make([]float32, len(a[i]))
		copy(retVal[i], a[i])
	}
	return retVal
}

func weightData(vg G.ValueGrad) ([]float32, error) {
	v := vg.Value()
	if v == nil {
		return nil, errors.New("parameter has no value")
	}
	data, ok := v.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("expected float32 parameter, got %T", v.Data())
	}
	return data, nil
}

func gradData(vg G.ValueGrad) ([]float32, error) {
	g, err := vg.Grad()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	data, ok := g.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("expected float32 gradient, got %T", g.Data())
	}
	return data, nil
}
