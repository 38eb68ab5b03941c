package amp

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var halfRounds = []struct {
	in, correct float32
}{
	{0, 0},
	{1, 1},
	{-2.5, -2.5},
	{65504, 65504},
	{65519, 65504},
	{65520, math32.Inf(1)},
	{70000, math32.Inf(1)},
	{-1e6, math32.Inf(-1)},
	{1e-8, 0},
	{5.960464477539063e-08, 5.960464477539063e-08}, // smallest subnormal
	{1.0009765625, 1.0009765625},                   // 1 + 2^-10 is representable
	{1.00048828125, 1},                             // 1 + 2^-11 ties to even
	{0.1, 0.0999755859375},
}

func TestRoundHalf(t *testing.T) {
	for _, c := range halfRounds {
		if got := RoundHalf(c.in); got != c.correct {
			t.Errorf("RoundHalf(%v): expected %v. Got %v instead", c.in, c.correct, got)
		}
	}
	if !math32.IsNaN(RoundHalf(math32.NaN())) {
		t.Errorf("NaN should stay NaN")
	}
}

func TestAutocastRestores(t *testing.T) {
	assert := assert.New(t)
	a := NewAutocast(true)
	assert.Equal(Full, a.Precision())

	err := a.Do(func() error {
		assert.Equal(Half, a.Precision())
		data := []float32{1e5, 0.1}
		a.Cast(data)
		assert.True(math32.IsInf(data[0], 1))
		assert.Equal(float32(0.0999755859375), data[1])
		return errors.New("boom")
	})
	assert.Error(err)
	assert.Equal(Full, a.Precision(), "full precision must be restored after an error")

	func() {
		defer func() { recover() }()
		a.Do(func() error { panic("boom") })
	}()
	assert.Equal(Full, a.Precision(), "full precision must be restored after a panic")

	data := []float32{1e5}
	a.Cast(data)
	assert.Equal(float32(1e5), data[0], "Cast outside of the region is a no-op")

	disabled := NewAutocast(false)
	disabled.Do(func() error {
		assert.Equal(Full, disabled.Precision())
		return nil
	})
}

type fakeVG struct {
	v, g *tensor.Dense
}

func (f fakeVG) Value() G.Value         { return f.v }
func (f fakeVG) Grad() (G.Value, error) { return f.g, nil }
func newFakeVG(grads ...float32) fakeVG {
	return fakeVG{
		v: tensor.New(tensor.WithShape(len(grads)), tensor.Of(tensor.Float32)),
		g: tensor.New(tensor.WithShape(len(grads)), tensor.WithBacking(grads)),
	}
}

type countingSolver struct{ steps int }

func (s *countingSolver) Step(model []G.ValueGrad) error { s.steps++; return nil }

func TestGradScaler(t *testing.T) {
	assert := assert.New(t)
	conf := DefaultScalerConfig()
	conf.GrowthInterval = 2
	s := NewGradScaler(conf)
	solver := new(countingSolver)
	assert.Equal(float32(65536), s.Scale())

	// clean step: gradients are unscaled and applied
	vg := newFakeVG(65536, 2*65536)
	stepped, err := s.Step(solver, []G.ValueGrad{vg})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	s.Update()
	assert.True(stepped)
	assert.Equal([]float32{1, 2}, vg.g.Data())
	assert.InDelta(math32.Sqrt(5), s.GradNorm(), 1e-5)
	assert.Equal(float32(65536), s.Scale())

	// overflow: skipped, scale backs off
	vg = newFakeVG(math32.Inf(1), 1)
	stepped, err = s.Step(solver, []G.ValueGrad{vg})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	s.Update()
	assert.False(stepped)
	assert.Equal([]float32{0, 0}, vg.g.Data(), "overflowed gradients are dropped")
	assert.Equal(1, solver.steps)
	assert.Equal(1, s.Overflows())
	assert.Equal(float32(32768), s.Scale())

	// two clean steps in a row grow the scale
	for i := 0; i < 2; i++ {
		if _, err = s.Step(solver, []G.ValueGrad{newFakeVG(1)}); err != nil {
			t.Fatalf("%+v", err)
		}
		s.Update()
	}
	assert.Equal(3, solver.steps)
	assert.Equal(float32(65536), s.Scale())
}

func TestGradScalerDisabled(t *testing.T) {
	s := NewGradScaler(ScalerConfig{})
	solver := new(countingSolver)
	vg := newFakeVG(3, 4)
	stepped, err := s.Step(solver, []G.ValueGrad{vg})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	s.Update()
	assert.True(t, stepped)
	assert.Equal(t, float32(1), s.Scale())
	assert.Equal(t, []float32{3, 4}, vg.g.Data())
	assert.InDelta(t, 5, s.GradNorm(), 1e-5)
}
