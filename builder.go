package cyclegan

import (
	"github.com/gorgonia/cyclegan/nets"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// builder builds the loss expressions of the training graphs. After the first error,
// every method is a no-op returning nil.
type builder struct {
	err error
}

func (b *builder) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if b.err != nil {
		return nil
	}
	if retVal, b.err = f(); b.err != nil {
		b.err = errors.WithStack(b.err)
	}
	return
}

func (b *builder) fwd(n nets.Network, x *G.Node) *G.Node {
	return b.do(func() (*G.Node, error) { return n.Fwd(x) })
}

func (b *builder) mse(x *G.Node, target float32) *G.Node {
	return b.do(func() (*G.Node, error) { return nets.MSE(x, target) })
}

func (b *builder) l1(x, y *G.Node) *G.Node {
	return b.do(func() (*G.Node, error) { return nets.L1(x, y) })
}

func (b *builder) add(x, y *G.Node) *G.Node {
	return b.do(func() (*G.Node, error) { return G.Add(x, y) })
}

func (b *builder) mul(x, y *G.Node) *G.Node {
	return b.do(func() (*G.Node, error) { return G.Mul(x, y) })
}

// weigh multiplies a scalar by a constant weight.
func (b *builder) weigh(x *G.Node, w float32) *G.Node {
	return b.do(func() (*G.Node, error) { return G.Mul(x, G.NewConstant(w)) })
}

func (b *builder) mean(x *G.Node) *G.Node {
	return b.do(func() (*G.Node, error) { return G.Mean(x) })
}
