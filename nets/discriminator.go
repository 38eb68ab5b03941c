package nets

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// Discriminator scores every patch of an image with the probability that it is real.
type Discriminator struct {
	DiscriminatorConfig
	base

	layers []convSpec
}

// NewDiscriminator creates a discriminator with weights drawn from r.
func NewDiscriminator(name string, conf DiscriminatorConfig, r *rand.Rand) *Discriminator {
	d := &Discriminator{
		DiscriminatorConfig: conf,
		base:                newBase(name),
	}
	d.slope = conf.Slope

	feats := conf.Features
	d.layers = append(d.layers, convSpec{name: "initial", in: conf.Channels, out: feats[0], kernel: 4, stride: 2, pad: 1, bias: true, act: leakyRelu})
	for i := 1; i < len(feats); i++ {
		stride := 2
		if i == len(feats)-1 {
			stride = 1
		}
		d.layers = append(d.layers, convSpec{name: fmt.Sprintf("block%d", i), in: feats[i-1], out: feats[i], kernel: 4, stride: stride, pad: 1, norm: true, act: leakyRelu})
	}
	d.layers = append(d.layers, convSpec{name: "last", in: feats[len(feats)-1], out: 1, kernel: 4, stride: 1, pad: 1, bias: true, act: sigmoid})

	for _, c := range d.layers {
		d.newConv(c, r)
	}
	return d
}

// Fwd builds the patch score map of x (B×Channels×H×W) into x's graph. The output is B×1×H'×W'.
func (d *Discriminator) Fwd(x *G.Node) (*G.Node, error) {
	s := x.Shape()
	if s.Dims() != 4 || s[1] != d.Channels {
		return nil, errors.Errorf("%s expects a B×%d×H×W input, got %v", d.name, d.Channels, s)
	}
	if h, w := d.OutputSize(s[2], s[3]); h < 1 || w < 1 {
		return nil, errors.Errorf("%s: a %d×%d input is too small for %d blocks", d.name, s[2], s[3], len(d.Features))
	}

	var m maebe
	h := x
	for _, c := range d.layers {
		h = d.apply(&m, h, c)
	}
	if m.err != nil {
		return nil, errors.Wrapf(m.err, "building %s", d.name)
	}
	return h, nil
}

// OutputSize returns the size of the score map for an h×w input.
func (d *Discriminator) OutputSize(h, w int) (int, int) {
	for _, c := range d.layers {
		h = (h+2*c.pad-c.kernel)/c.stride + 1
		w = (w+2*c.pad-c.kernel)/c.stride + 1
		if h < 1 || w < 1 {
			return 0, 0
		}
	}
	return h, w
}
