package nets

import (
	"bytes"
	"encoding/gob"
	"math/rand"
	"strings"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var tinyGen = GeneratorConfig{Channels: 3, Features: 2, Residuals: 1}
var tinyDisc = DiscriminatorConfig{Channels: 3, Features: []int{2, 4}, Slope: 0.2}

func randomImage(shape ...int) *tensor.Dense {
	size := tensor.Shape(shape).TotalSize()
	data := tensor.Random(Float, size).([]float32)
	for i := range data {
		data[i] = data[i]*2 - 1
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

func input(g *G.ExprGraph, name string, v *tensor.Dense) *G.Node {
	return G.NewTensor(g, Float, v.Dims(), G.WithShape(v.Shape().Clone()...), G.WithName(name), G.WithValue(v))
}

func run(t *testing.T, g *G.ExprGraph) {
	t.Helper()
	m := G.NewTapeMachine(g)
	defer m.Close()
	if err := m.RunAll(); err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestConfigs(t *testing.T) {
	assert := assert.New(t)
	assert.True(DefaultGeneratorConf().IsValid())
	assert.True(DefaultDiscriminatorConf().IsValid())
	assert.True(tinyGen.IsValid())
	assert.True(tinyDisc.IsValid())
	assert.False(GeneratorConfig{Channels: 3}.IsValid())
	assert.False(DiscriminatorConfig{Channels: 3, Slope: 0.2}.IsValid())
	assert.False(DiscriminatorConfig{Channels: 3, Features: []int{4, 0}, Slope: 0.2}.IsValid())
}

func TestGeneratorFwd(t *testing.T) {
	assert := assert.New(t)
	gen := NewGenerator("genH", tinyGen, rand.New(rand.NewSource(1)))
	g := G.NewGraph()
	x := input(g, "x", randomImage(1, 3, 8, 8))
	out, err := gen.Fwd(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(x.Shape(), out.Shape())

	var v G.Value
	G.Read(out, &v)
	run(t, g)
	for _, f := range v.Data().([]float32) {
		assert.True(f >= -1 && f <= 1, "tanh output %v out of range", f)
	}

	_, err = gen.Fwd(input(g, "bad", randomImage(1, 3, 6, 6)))
	assert.Error(err, "6×6 cannot be downsampled twice")
}

func TestGeneratorSharesParams(t *testing.T) {
	assert := assert.New(t)
	r := rand.New(rand.NewSource(1))
	genH := NewGenerator("genH", tinyGen, r)
	genD := NewGenerator("genD", tinyGen, r)

	g1, g2 := G.NewGraph(), G.NewGraph()
	m1, m2 := genH.Model(g1), genH.Model(g2)
	assert.Equal(len(genH.Params()), len(m1))
	for i := range m1 {
		assert.True(m1[i] != m2[i], "each graph gets its own nodes")
		assert.True(m1[i].Value() == m2[i].Value(), "but the nodes share one tensor")
	}

	// both directions in one graph never alias
	other := genD.Model(g1)
	for i := range other {
		assert.True(other[i] != m1[i])
		assert.True(other[i].Value() != m1[i].Value())
		assert.NotEqual(other[i].Name(), m1[i].Name())
	}
}

func TestDiscriminatorPatchMap(t *testing.T) {
	assert := assert.New(t)
	dis := NewDiscriminator("discH", tinyDisc, rand.New(rand.NewSource(1)))
	h, w := dis.OutputSize(16, 16)
	assert.Equal(6, h)
	assert.Equal(6, w)
	h, w = dis.OutputSize(2, 2)
	assert.Equal(0, h+w)

	g := G.NewGraph()
	x := input(g, "x", randomImage(2, 3, 16, 16))
	out, err := dis.Fwd(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(tensor.Shape{2, 1, 6, 6}, out.Shape())

	var v G.Value
	G.Read(out, &v)
	run(t, g)
	for _, f := range v.Data().([]float32) {
		assert.True(f > 0 && f < 1, "score %v should be a probability", f)
	}

	_, err = dis.Fwd(input(g, "tiny", randomImage(1, 3, 2, 2)))
	assert.Error(err)
}

func TestMSE(t *testing.T) {
	cases := []struct {
		name   string
		pred   []float32
		target float32
		want   float32
	}{
		{"exact real", []float32{1, 1, 1, 1}, 1, 0},
		{"exact fake", []float32{0, 0, 0, 0}, 0, 0},
		{"inverted", []float32{0, 0, 0, 0}, 1, 1},
		{"half", []float32{0.5, 0.5, 0.5, 0.5}, 0, 0.25},
		{"mixed", []float32{1, 0, 1, 0}, 1, 0.5},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			g := G.NewGraph()
			p := input(g, "pred", tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking(c.pred)))
			loss, err := MSE(p, c.target)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			var v G.Value
			G.Read(loss, &v)
			run(t, g)
			got := v.Data().(float32)
			assert.InDelta(t, c.want, got, 1e-6)
			assert.True(t, got >= 0)
		})
	}
}

// weightedNorm builds sum(instanceNorm(x) ⊙ w). A plain sum of a normalized plane is
// constant, the weights make every input matter.
func weightedNorm(x, w *tensor.Dense) (*G.ExprGraph, *G.Node, *G.Node, error) {
	g := G.NewGraph()
	xn := input(g, "x", x)
	wn := input(g, "w", w)
	var m maebe
	y := m.instanceNorm(xn)
	y = m.do(func() (*G.Node, error) { return G.HadamardProd(y, wn) })
	cost := m.do(func() (*G.Node, error) { return G.Sum(y) })
	return g, xn, cost, m.err
}

func TestInstanceNormGradient(t *testing.T) {
	assert := assert.New(t)
	x := randomImage(2, 2, 3, 3)
	w := randomImage(2, 2, 3, 3)
	orig := append([]float32(nil), x.Data().([]float32)...)

	g, xn, cost, err := weightedNorm(x, w)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err = G.Grad(cost, xn); err != nil {
		t.Fatalf("%+v", err)
	}
	m := G.NewTapeMachine(g, G.BindDualValues(xn))
	defer m.Close()
	if err = m.RunAll(); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(orig, xn.Value().Data(), "the input of the norm is left untouched")
	gv, err := xn.Grad()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	grad := append([]float32(nil), gv.Data().([]float32)...)

	eval := func(data []float32) float32 {
		xp := tensor.New(tensor.WithShape(x.Shape().Clone()...), tensor.WithBacking(data))
		g, _, cost, err := weightedNorm(xp, w)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		var v G.Value
		G.Read(cost, &v)
		run(t, g)
		return v.Data().(float32)
	}

	const eps = 1e-2
	for i := range orig {
		plus := append([]float32(nil), orig...)
		minus := append([]float32(nil), orig...)
		plus[i] += eps
		minus[i] -= eps
		fd := (eval(plus) - eval(minus)) / (2 * eps)
		assert.InDelta(fd, grad[i], 2e-2+0.02*float64(math32.Abs(fd)), "d cost / d x[%d]", i)
	}
}

// identity is a generator that returns its input unchanged.
type identity struct{}

func (identity) Name() string                   { return "identity" }
func (identity) Fwd(x *G.Node) (*G.Node, error) { return x, nil }
func (identity) Params() []Param                { return nil }
func (identity) Model(g *G.ExprGraph) G.Nodes   { return nil }

func TestIdentityCycleLoss(t *testing.T) {
	var gen Network = identity{}
	g := G.NewGraph()
	x := input(g, "x", randomImage(1, 3, 8, 8))
	fake, _ := gen.Fwd(x)
	cycled, _ := gen.Fwd(fake)
	loss, err := L1(x, cycled)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	var v G.Value
	G.Read(loss, &v)
	run(t, g)
	assert.Equal(t, float32(0), v.Data().(float32))
}

func TestEncodeDecode(t *testing.T) {
	assert := assert.New(t)
	gen := NewGenerator("genH", tinyGen, rand.New(rand.NewSource(1)))
	gen2 := NewGenerator("genH", tinyGen, rand.New(rand.NewSource(2)))

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gen); err != nil {
		t.Fatalf("Encoding Failure %v", err)
	}
	encoded := buf.Bytes()

	before := gen2.Params()[0].Value
	if err := gob.NewDecoder(bytes.NewReader(encoded)).Decode(gen2); err != nil {
		t.Fatalf("Decoding Failure %v", err)
	}
	for i, p := range gen.Params() {
		assert.Equal(p.Value.Data(), gen2.Params()[i].Value.Data(), "%d - %v should have the same data", i, p.Name)
	}
	assert.True(before == gen2.Params()[0].Value, "decoding writes into the existing tensors")

	genD := NewGenerator("genD", tinyGen, rand.New(rand.NewSource(1)))
	assert.Error(gob.NewDecoder(bytes.NewReader(encoded)).Decode(genD), "parameters of genH cannot be loaded into genD")

	bigger := NewGenerator("genH", GeneratorConfig{Channels: 3, Features: 4, Residuals: 1}, rand.New(rand.NewSource(1)))
	assert.Error(gob.NewDecoder(bytes.NewReader(encoded)).Decode(bigger))
}

func TestTranslator(t *testing.T) {
	assert := assert.New(t)
	gen := NewGenerator("genH", tinyGen, rand.New(rand.NewSource(1)))
	x := randomImage(1, 3, 8, 8)

	tr, err := NewTranslator(gen, x.Shape(), false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer tr.Close()
	first, err := tr.Translate(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(x.Shape(), first.Shape())
	assert.Empty(tr.ExecLog())

	// same weights, same input, same output
	again, err := tr.Translate(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(first.Data(), again.Data())

	// weights changed in place are seen by the translator
	w := gen.Params()[len(gen.Params())-1].Value.Data().([]float32)
	for i := range w {
		w[i] += 0.5
	}
	changed, err := tr.Translate(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.NotEqual(first.Data(), changed.Data())

	_, err = tr.Translate(randomImage(2, 3, 8, 8))
	assert.Error(err)

	traced, err := NewTranslator(gen, x.Shape(), true)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer traced.Close()
	withTrace, err := traced.Translate(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(changed.Data(), withTrace.Data(), "tracing does not change the result")
	var el interface{ ExecLog() string } = traced
	assert.NotEmpty(el.ExecLog())
}

func TestToDot(t *testing.T) {
	gen := NewGenerator("genH", tinyGen, rand.New(rand.NewSource(1)))
	dot, err := gen.ToDot()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.True(t, strings.Contains(dot, "res0_a"))
	assert.True(t, strings.Contains(dot, "->"))

	dis := NewDiscriminator("discH", tinyDisc, rand.New(rand.NewSource(1)))
	if dot, err = dis.ToDot(); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.True(t, strings.Contains(dot, "patch scores"))
}
