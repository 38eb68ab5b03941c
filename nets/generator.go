package nets

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// Generator translates an image of one domain into the other.
//
// The topology is c7s1-f, d2f, d4f, Residuals×R4f, u2f, uf, c7s1-Channels: a 7×7
// stem, two stride-2 downsampling convolutions, residual blocks at a quarter of the
// resolution, two nearest-neighbour upsampling convolutions and a 7×7 tanh head.
// Every hidden convolution is instance normalized.
type Generator struct {
	GeneratorConfig
	base

	head []convSpec
	res  [][2]convSpec
	tail []convSpec
}

// NewGenerator creates a generator with weights drawn from r.
func NewGenerator(name string, conf GeneratorConfig, r *rand.Rand) *Generator {
	f := conf.Features
	g := &Generator{
		GeneratorConfig: conf,
		base:            newBase(name),
	}
	g.head = []convSpec{
		{name: "initial", in: conf.Channels, out: f, kernel: 7, stride: 1, pad: 3, norm: true, act: relu},
		{name: "down1", in: f, out: 2 * f, kernel: 3, stride: 2, pad: 1, norm: true, act: relu},
		{name: "down2", in: 2 * f, out: 4 * f, kernel: 3, stride: 2, pad: 1, norm: true, act: relu},
	}
	for i := 0; i < conf.Residuals; i++ {
		g.res = append(g.res, [2]convSpec{
			{name: fmt.Sprintf("res%d_a", i), in: 4 * f, out: 4 * f, kernel: 3, stride: 1, pad: 1, norm: true, act: relu},
			{name: fmt.Sprintf("res%d_b", i), in: 4 * f, out: 4 * f, kernel: 3, stride: 1, pad: 1, norm: true},
		})
	}
	g.tail = []convSpec{
		{name: "up1", in: 4 * f, out: 2 * f, kernel: 3, stride: 1, pad: 1, upsample: true, norm: true, act: relu},
		{name: "up2", in: 2 * f, out: f, kernel: 3, stride: 1, pad: 1, upsample: true, norm: true, act: relu},
		{name: "last", in: f, out: conf.Channels, kernel: 7, stride: 1, pad: 3, bias: true, act: tanh},
	}

	for _, c := range g.head {
		g.newConv(c, r)
	}
	for _, r2 := range g.res {
		g.newConv(r2[0], r)
		g.newConv(r2[1], r)
	}
	for _, c := range g.tail {
		g.newConv(c, r)
	}
	return g
}

// Fwd builds the translation of x (B×Channels×H×W, H and W divisible by 4) into x's graph.
// The output has the shape of x.
func (g *Generator) Fwd(x *G.Node) (*G.Node, error) {
	s := x.Shape()
	if s.Dims() != 4 || s[1] != g.Channels {
		return nil, errors.Errorf("%s expects a B×%d×H×W input, got %v", g.name, g.Channels, s)
	}
	if s[2]%4 != 0 || s[3]%4 != 0 {
		return nil, errors.Errorf("%s expects H and W divisible by 4, got %v", g.name, s)
	}

	var m maebe
	h := x
	for _, c := range g.head {
		h = g.apply(&m, h, c)
	}
	for _, r := range g.res {
		y := g.apply(&m, h, r[0])
		y = g.apply(&m, y, r[1])
		h = m.add(h, y)
	}
	for _, c := range g.tail {
		h = g.apply(&m, h, c)
	}
	if m.err != nil {
		return nil, errors.Wrapf(m.err, "building %s", g.name)
	}
	return h, nil
}
