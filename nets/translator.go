package nets

import (
	"bytes"
	"log"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Translator holds a forward-only graph of a Generator and a VM to run it. No gradient
// is ever computed through a Translator, so its outputs carry no backward dependency
// on the generator.
//
// The graph shares the generator's parameter tensors: a Translator always translates
// with the current weights.
type Translator struct {
	net Network
	g   *G.ExprGraph
	m   G.VM

	input  *G.Node
	output *G.Node
	out    G.Value
	buf    *bytes.Buffer
}

// NewTranslator creates a Translator for inputs of the given B×C×H×W shape. With toLog,
// every run is traced into the log returned by ExecLog.
func NewTranslator(net Network, shape tensor.Shape, toLog bool) (*Translator, error) {
	t := &Translator{
		net: net,
		g:   G.NewGraph(),
		buf: new(bytes.Buffer),
	}
	t.input = G.NewTensor(t.g, Float, 4, G.WithShape(shape.Clone()...), G.WithName(net.Name()+"_input"))

	var err error
	if t.output, err = net.Fwd(t.input); err != nil {
		return nil, err
	}
	G.Read(t.output, &t.out)

	if toLog {
		logger := log.New(t.buf, "", 0)
		t.m = G.NewTapeMachine(t.g,
			G.WithLogger(logger),
			G.WithWatchlist(),
			G.TraceExec(),
			G.WithValueFmt("%+1.1v"),
			G.WithNaNWatch(),
		)
	} else {
		t.m = G.NewTapeMachine(t.g)
	}
	return t, nil
}

// Shape is the input shape the Translator was built for.
func (t *Translator) Shape() tensor.Shape { return t.input.Shape() }

// Translate runs the generator on x and returns a copy of the result.
func (t *Translator) Translate(x *tensor.Dense) (*tensor.Dense, error) {
	if !x.Shape().Eq(t.input.Shape()) {
		return nil, errors.Errorf("%s translator expects shape %v, got %v", t.net.Name(), t.input.Shape(), x.Shape())
	}
	t.buf.Reset()
	t.m.Reset()
	if err := G.Let(t.input, x); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := t.m.RunAll(); err != nil {
		return nil, errors.Wrapf(err, "translating with %s", t.net.Name())
	}
	out, ok := t.out.(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("unexpected output %T", t.out)
	}
	return out.Clone().(*tensor.Dense), nil
}

// ExecLog returns the execution log of the last Translate. If the Translator was created with toLog = false, then it will return an empty string
func (t *Translator) ExecLog() string { return t.buf.String() }

// Close releases the VM and unbinds the generator from the graph.
func (t *Translator) Close() error {
	if u, ok := t.net.(interface{ Unbind(*G.ExprGraph) }); ok {
		u.Unbind(t.g)
	}
	return t.m.Close()
}
