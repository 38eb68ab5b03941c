package nets

import (
	"fmt"
	"strings"

	"github.com/awalterschulze/gographviz"
	"github.com/pkg/errors"
)

// dotter draws a layer-level diagram of a network.
type dotter struct {
	g    *gographviz.Graph
	prev string
	n    int
	err  error
}

func newDotter(title string) *dotter {
	g := gographviz.NewGraph()
	d := &dotter{g: g}
	if d.err = g.SetName("G"); d.err != nil {
		return d
	}
	g.SetDir(true)
	d.err = g.AddAttr("G", "label", fmt.Sprintf("%q", title))
	return d
}

func (d *dotter) node(label, shape string) string {
	if d.err != nil {
		return ""
	}
	id := fmt.Sprintf("n%d", d.n)
	d.n++
	attrs := map[string]string{
		"fontname": "Monaco",
		"shape":    shape,
		"label":    fmt.Sprintf("%q", label),
	}
	d.err = d.g.AddNode("G", id, attrs)
	return id
}

func (d *dotter) edge(from, to string) {
	if d.err != nil {
		return
	}
	d.err = d.g.AddEdge(from, to, true, nil)
}

// conv appends c after the previous layer.
func (d *dotter) conv(c convSpec) {
	var parts []string
	if c.upsample {
		parts = append(parts, "Upsample ×2")
	}
	parts = append(parts, fmt.Sprintf("Conv %d×%d/%d %d→%d", c.kernel, c.kernel, c.stride, c.in, c.out))
	if c.norm {
		parts = append(parts, "InstanceNorm")
	}
	if a := c.act.String(); a != "" {
		parts = append(parts, a)
	}
	id := d.node(c.name+"\n"+strings.Join(parts, "\n"), "box")
	d.edge(d.prev, id)
	d.prev = id
}

func (d *dotter) String() (string, error) {
	if d.err != nil {
		return "", errors.WithStack(d.err)
	}
	return d.g.String(), nil
}

// ToDot renders the architecture of the generator in Graphviz DOT.
func (g *Generator) ToDot() (string, error) {
	d := newDotter(g.name)
	d.prev = d.node(fmt.Sprintf("input\nB×%d×H×W", g.Channels), "oval")
	for _, c := range g.head {
		d.conv(c)
	}
	for _, r := range g.res {
		skip := d.prev
		d.conv(r[0])
		d.conv(r[1])
		sum := d.node("+", "circle")
		d.edge(d.prev, sum)
		d.edge(skip, sum)
		d.prev = sum
	}
	for _, c := range g.tail {
		d.conv(c)
	}
	out := d.node(fmt.Sprintf("output\nB×%d×H×W", g.Channels), "oval")
	d.edge(d.prev, out)
	return d.String()
}

// ToDot renders the architecture of the discriminator in Graphviz DOT.
func (dis *Discriminator) ToDot() (string, error) {
	d := newDotter(dis.name)
	d.prev = d.node(fmt.Sprintf("input\nB×%d×H×W", dis.Channels), "oval")
	for _, c := range dis.layers {
		d.conv(c)
	}
	out := d.node("patch scores\nB×1×H'×W'", "oval")
	d.edge(d.prev, out)
	return d.String()
}
