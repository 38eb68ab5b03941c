package optim

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

type param struct {
	w, g *tensor.Dense
}

func (p param) Value() G.Value         { return p.w }
func (p param) Grad() (G.Value, error) { return p.g, nil }

func newParam(w, g []float32) param {
	return param{
		w: tensor.New(tensor.WithShape(len(w)), tensor.WithBacking(w)),
		g: tensor.New(tensor.WithShape(len(g)), tensor.WithBacking(g)),
	}
}

func TestAdamFirstStep(t *testing.T) {
	assert := assert.New(t)
	a := NewAdam(WithLearnRate(0.1), WithBetas(0.5, 0.999))
	p := newParam([]float32{0, 1}, []float32{2, -0.5})
	if err := a.Step([]G.ValueGrad{p}); err != nil {
		t.Fatalf("%+v", err)
	}
	// the bias corrected first step moves every weight by lr against the sign of its gradient
	w := p.w.Data().([]float32)
	assert.InDelta(-0.1, w[0], 1e-5)
	assert.InDelta(1.1, w[1], 1e-5)
	assert.Equal(1, a.Iter)
	assert.InDelta(1.0, a.M[0][0], 1e-6) // (1-β1)·g
	assert.InDelta(0.004, a.V[0][0], 1e-6)
	assert.Equal([]float32{0, 0}, p.g.Data(), "applied gradients are cleared")

	// a second step without a new backward pass leaves the weights where the momentum takes them
	if err := a.Step([]G.ValueGrad{p}); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.InDelta(0.5, a.M[0][0], 1e-6, "the first moment only decays, the gradient is not applied twice")
}

func TestAdamMismatchedState(t *testing.T) {
	a := NewAdam()
	if err := a.Restore(State{LearnRate: 1, M: [][]float32{{0}}, V: [][]float32{{0}}}); err != nil {
		t.Fatalf("%+v", err)
	}
	err := a.Step([]G.ValueGrad{newParam([]float32{1, 2}, []float32{1, 1})})
	assert.Error(t, err, "moments of size 1 cannot drive a parameter of size 2")

	err = a.Restore(State{M: [][]float32{{0}}})
	assert.Error(t, err)
}

func TestSnapshotRestore(t *testing.T) {
	assert := assert.New(t)
	a := NewAdam(WithLearnRate(0.01))
	p := newParam([]float32{1, 2, 3}, []float32{0.1, 0.2, 0.3})
	for i := 0; i < 3; i++ {
		copy(p.g.Data().([]float32), []float32{0.1, 0.2, 0.3})
		if err := a.Step([]G.ValueGrad{p}); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	snap := a.Snapshot()
	snap.M[0][0] = 1000
	assert.NotEqual(float32(1000), a.M[0][0], "a snapshot is a deep copy")
	snap.M[0][0] = a.M[0][0]

	b := NewAdam(WithLearnRate(0.5))
	if err := b.Restore(snap); err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff(a.State, b.State); diff != "" {
		t.Errorf("restored state differs (-want +got):\n%s", diff)
	}
	b.SetLearnRate(0.5)
	assert.Equal(0.5, b.LearnRate)
	assert.Equal(3, b.Iter)
}
