// Package nets holds the two networks of a CycleGAN: an encoder–residual–decoder
// Generator and a patch Discriminator.
//
// A network owns its parameters as dense tensors. Fwd builds the network into the
// graph of its input; the first time a graph is seen, every parameter is bound into it
// as a variable node that shares the parameter's backing tensor. Any number of graphs
// (a training graph, a forward-only graph) therefore see one set of weights, and an
// in-place optimizer step in one graph is visible to all of them.
package nets

import (
	"bytes"
	"encoding/gob"
	"math/rand"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Network is anything that can be built into a graph and trained.
type Network interface {
	Name() string
	Fwd(x *G.Node) (*G.Node, error)
	Params() []Param
	Model(g *G.ExprGraph) G.Nodes
}

// Param is a named learnable tensor.
type Param struct {
	Name  string
	Value *tensor.Dense
}

type activation int

const (
	linear activation = iota
	relu
	leakyRelu
	tanh
	sigmoid
)

func (a activation) String() string {
	switch a {
	case relu:
		return "ReLU"
	case leakyRelu:
		return "LeakyReLU"
	case tanh:
		return "Tanh"
	case sigmoid:
		return "Sigmoid"
	}
	return ""
}

// convSpec is one conv block: [upsample] → conv → [bias] → [instance norm] → activation.
type convSpec struct {
	name     string
	in, out  int
	kernel   int
	stride   int
	pad      int
	upsample bool
	bias     bool
	norm     bool
	act      activation
}

// base is the parameter bookkeeping shared by both networks.
type base struct {
	name   string
	params []Param
	index  map[string]int
	bound  map[*G.ExprGraph]G.Nodes
	slope  float64
}

func newBase(name string) base {
	return base{
		name:  name,
		index: make(map[string]int),
		bound: make(map[*G.ExprGraph]G.Nodes),
	}
}

// Name returns the name of the network. Node names in a graph are prefixed by it.
func (b *base) Name() string { return b.name }

// Params returns the learnable parameters in a fixed order.
func (b *base) Params() []Param { return b.params }

// Model returns the nodes bound to the parameters in g, in the order of Params.
func (b *base) Model(g *G.ExprGraph) G.Nodes { return b.bind(g) }

// Unbind forgets the nodes bound into g.
func (b *base) Unbind(g *G.ExprGraph) { delete(b.bound, g) }

// newConv allocates the parameters of c. Weights are drawn from N(0, 0.02), biases are zero.
func (b *base) newConv(c convSpec, r *rand.Rand) {
	w := make([]float32, c.out*c.in*c.kernel*c.kernel)
	for i := range w {
		w[i] = float32(r.NormFloat64() * 0.02)
	}
	b.addParam(c.name+"_w", tensor.New(tensor.WithShape(c.out, c.in, c.kernel, c.kernel), tensor.WithBacking(w)))
	if c.bias {
		b.addParam(c.name+"_b", tensor.New(tensor.WithShape(1, c.out, 1, 1), tensor.Of(Float)))
	}
}

func (b *base) addParam(name string, v *tensor.Dense) {
	b.index[name] = len(b.params)
	b.params = append(b.params, Param{Name: name, Value: v})
}

func (b *base) bind(g *G.ExprGraph) G.Nodes {
	if nodes, ok := b.bound[g]; ok {
		return nodes
	}
	nodes := make(G.Nodes, len(b.params))
	for i, p := range b.params {
		nodes[i] = G.NewTensor(g, Float, p.Value.Dims(),
			G.WithShape(p.Value.Shape().Clone()...),
			G.WithName(b.name+"/"+p.Name),
			G.WithValue(p.Value))
	}
	b.bound[g] = nodes
	return nodes
}

func (b *base) node(g *G.ExprGraph, name string) *G.Node {
	return b.bind(g)[b.index[name]]
}

// apply builds c on top of input.
func (b *base) apply(m *maebe, input *G.Node, c convSpec) *G.Node {
	if m.err != nil {
		return nil
	}
	g := input.Graph()
	h := input
	if c.upsample {
		h = m.upsample(h, 2)
	}
	h = m.conv(h, b.node(g, c.name+"_w"), c.stride, c.pad)
	if c.bias {
		h = m.bias(h, b.node(g, c.name+"_b"))
	}
	if c.norm {
		h = m.instanceNorm(h)
	}
	return m.activate(h, c.act, b.slope)
}

type paramRecord struct {
	Name  string
	Shape []int
	Data  []float32
}

// GobEncode encodes the parameter values.
func (b *base) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(b.name); err != nil {
		return nil, err
	}
	for _, p := range b.params {
		rec := paramRecord{
			Name:  p.Name,
			Shape: p.Value.Shape().Clone(),
			Data:  p.Value.Data().([]float32),
		}
		if err := enc.Encode(rec); err != nil {
			return nil, errors.Wrapf(err, "encoding %s/%s", b.name, p.Name)
		}
	}
	return buf.Bytes(), nil
}

// GobDecode copies encoded parameter values into the existing parameters, so that every
// graph the network is bound into sees them. The architecture must match.
func (b *base) GobDecode(p []byte) error {
	dec := gob.NewDecoder(bytes.NewBuffer(p))
	var name string
	if err := dec.Decode(&name); err != nil {
		return errors.Wrap(err, "decoding network name")
	}
	if name != b.name {
		return errors.Errorf("cannot load parameters of %q into %q", name, b.name)
	}
	for _, param := range b.params {
		var rec paramRecord
		if err := dec.Decode(&rec); err != nil {
			return errors.Wrapf(err, "decoding %s/%s", b.name, param.Name)
		}
		if rec.Name != param.Name {
			return errors.Errorf("expected parameter %s/%s, got %s", b.name, param.Name, rec.Name)
		}
		if !param.Value.Shape().Eq(tensor.Shape(rec.Shape)) {
			return errors.Errorf("parameter %s/%s: expected shape %v, got %v", b.name, param.Name, param.Value.Shape(), rec.Shape)
		}
		copy(param.Value.Data().([]float32), rec.Data)
	}
	return nil
}
