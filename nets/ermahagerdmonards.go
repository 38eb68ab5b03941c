package nets

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	nnops "gorgonia.org/gorgonia/ops/nn"
	"gorgonia.org/tensor"
)

// Float is the dtype of every network in this package.
var Float = G.Float32

const normEpsilon = 1e-5

type maebe struct {
	err error
}

// generic monad... may be useful
func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// conv convolves input with filter (shaped out×in×k×k).
func (m *maebe) conv(input, filter *G.Node, stride, pad int) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	k := filter.Shape()[2:]
	if retVal, m.err = nnops.Conv2d(input, filter, tensor.Shape{k[0], k[1]}, []int{pad, pad}, []int{stride, stride}, []int{1, 1}); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// bias adds a 1×C×1×1 bias to every position of a B×C×H×W input.
func (m *maebe) bias(input, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.BroadcastAdd(input, b, nil, []byte{0, 2, 3}) })
}

// instanceNorm normalizes every channel of every image to zero mean and unit variance.
// It has no learnable affine parameters.
//
// The statistics are reduced over H and W of the BCHW node itself and broadcast back.
// Reshaping the input instead would hand the VM a view of its backing array, which an
// in-place op then overwrites while the backward pass still reads it.
func (m *maebe) instanceNorm(input *G.Node) *G.Node {
	if m.err != nil {
		return nil
	}
	s := input.Shape().Clone()
	if s.Dims() != 4 {
		m.err = errors.Errorf("instance norm expects a BCHW input, got %v", s)
		return nil
	}
	stats := tensor.Shape{s[0], s[1], 1, 1}

	mean := m.spatialMean(input, stats)
	centered := m.do(func() (*G.Node, error) { return G.BroadcastSub(input, mean, nil, []byte{2, 3}) })

	variance := m.do(func() (*G.Node, error) { return G.Square(centered) })
	variance = m.spatialMean(variance, stats)
	std := m.do(func() (*G.Node, error) { return G.Add(variance, G.NewConstant(float32(normEpsilon))) })
	std = m.do(func() (*G.Node, error) { return G.Sqrt(std) })

	return m.do(func() (*G.Node, error) { return G.BroadcastHadamardDiv(centered, std, nil, []byte{2, 3}) })
}

// spatialMean averages a BCHW node over W then H, giving B×C×1×1.
func (m *maebe) spatialMean(input *G.Node, to tensor.Shape) *G.Node {
	mean := m.do(func() (*G.Node, error) { return G.Mean(input, 3) })
	mean = m.do(func() (*G.Node, error) { return G.Mean(mean, 2) })
	return m.reshape(mean, to)
}

func (m *maebe) upsample(input *G.Node, scale int) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Upsample2D(input, scale) })
}

func (m *maebe) rectify(input *G.Node) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = nnops.Rectify(input); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) leaky(input *G.Node, slope float64) *G.Node {
	return m.do(func() (*G.Node, error) { return G.LeakyRelu(input, slope) })
}

func (m *maebe) add(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Add(a, b) })
}

func (m *maebe) reshape(input *G.Node, to tensor.Shape) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = G.Reshape(input, to); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) activate(input *G.Node, act activation, slope float64) *G.Node {
	switch act {
	case relu:
		return m.rectify(input)
	case leakyRelu:
		return m.leaky(input, slope)
	case tanh:
		return m.do(func() (*G.Node, error) { return G.Tanh(input) })
	case sigmoid:
		return m.do(func() (*G.Node, error) { return G.Sigmoid(input) })
	}
	return input
}
