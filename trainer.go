package cyclegan

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/gorgonia/cyclegan/amp"
	"github.com/gorgonia/cyclegan/dataset"
	"github.com/gorgonia/cyclegan/nets"
	"github.com/gorgonia/cyclegan/optim"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Trainer runs the adversarial training steps of a CycleGAN.
//
// GenH translates diseased images into healthy ones and GenD the reverse. DiscH tells
// real healthy images from translated ones, DiscD does the same for diseased images.
//
// A step runs three kinds of graphs that all share the parameter tensors of the four
// networks: forward-only translators produce the fakes, the discriminator graph updates
// both discriminators, and the generator graph, whose discriminator nodes are bound to
// the tensors just updated, updates both generators.
type Trainer struct {
	GenH, GenD      *nets.Generator
	DiscH, DiscD    *nets.Discriminator
	OptGen, OptDisc *optim.Adam

	genScaler, discScaler *amp.GradScaler
	autocast              *amp.Autocast

	toHealthy, toDiseased *nets.Translator
	disc                  discGraph
	gen                   genGraph

	lambdaCycle    float32
	lambdaIdentity float32
	logEvery       int
	sampleEvery    int

	enc    SampleEncoder
	logger *log.Logger
}

// discGraph computes the discriminator loss with respect to both discriminators. The
// fakes are inputs: no gradient flows back into the generators.
type discGraph struct {
	g     *G.ExprGraph
	m     G.VM
	model G.Nodes

	realH, realD *G.Node
	fakeH, fakeD *G.Node
	scale        *G.Node

	loss, lossH, lossD G.Value
	hReal, hFake       G.Value
}

// genGraph computes the generator loss with respect to both generators.
type genGraph struct {
	g     *G.ExprGraph
	m     G.VM
	model G.Nodes

	realD, realH *G.Node
	scale        *G.Node

	total      G.Value
	advH, advD G.Value
	cycD, cycH G.Value
	idD, idH   G.Value // nil when the identity terms are not built
}

// NewTrainer creates the four networks from conf.Seed and builds the graphs of a step.
// Samples are emitted through enc, which may be nil.
func NewTrainer(conf Config, enc SampleEncoder, logger *log.Logger) (*Trainer, error) {
	r := rand.New(rand.NewSource(conf.Seed))
	scaler := conf.Scaler
	scaler.Enabled = conf.MixedPrecision

	t := &Trainer{
		GenH:    nets.NewGenerator("genH", conf.Generator, r),
		GenD:    nets.NewGenerator("genD", conf.Generator, r),
		DiscH:   nets.NewDiscriminator("discH", conf.Discriminator, r),
		DiscD:   nets.NewDiscriminator("discD", conf.Discriminator, r),
		OptGen:  optim.NewAdam(optim.WithLearnRate(conf.LearnRate), optim.WithBetas(conf.Beta1, conf.Beta2)),
		OptDisc: optim.NewAdam(optim.WithLearnRate(conf.LearnRate), optim.WithBetas(conf.Beta1, conf.Beta2)),

		genScaler:  amp.NewGradScaler(scaler),
		discScaler: amp.NewGradScaler(scaler),
		autocast:   amp.NewAutocast(conf.MixedPrecision),

		lambdaCycle:    float32(conf.LambdaCycle),
		lambdaIdentity: float32(conf.LambdaIdentity),
		logEvery:       conf.LogEvery,
		sampleEvery:    conf.SampleEvery,
		enc:            enc,
		logger:         logger,
	}

	shape := tensor.Shape{conf.BatchSize, conf.Generator.Channels, conf.Height, conf.Width}
	var err error
	if t.toHealthy, err = nets.NewTranslator(t.GenH, shape, false); err != nil {
		return nil, err
	}
	if t.toDiseased, err = nets.NewTranslator(t.GenD, shape, false); err != nil {
		t.Close()
		return nil, err
	}
	if err = t.buildDisc(shape); err != nil {
		t.Close()
		return nil, errors.Wrap(err, "building the discriminator graph")
	}
	if err = t.buildGen(shape); err != nil {
		t.Close()
		return nil, errors.Wrap(err, "building the generator graph")
	}
	return t, nil
}

func image4(g *G.ExprGraph, name string, shape tensor.Shape) *G.Node {
	return G.NewTensor(g, nets.Float, 4, G.WithShape(shape.Clone()...), G.WithName(name))
}

func (t *Trainer) buildDisc(shape tensor.Shape) error {
	d := &t.disc
	d.g = G.NewGraph()
	d.realH = image4(d.g, "real_healthy", shape)
	d.realD = image4(d.g, "real_diseased", shape)
	d.fakeH = image4(d.g, "fake_healthy", shape)
	d.fakeD = image4(d.g, "fake_diseased", shape)
	d.scale = G.NewScalar(d.g, nets.Float, G.WithName("loss_scale"))

	var b builder
	dhReal := b.fwd(t.DiscH, d.realH)
	dhFake := b.fwd(t.DiscH, d.fakeH)
	ddReal := b.fwd(t.DiscD, d.realD)
	ddFake := b.fwd(t.DiscD, d.fakeD)

	lossH := b.add(b.mse(dhReal, 1), b.mse(dhFake, 0))
	lossD := b.add(b.mse(ddReal, 1), b.mse(ddFake, 0))
	loss := b.weigh(b.add(lossH, lossD), 0.5)
	hReal := b.mean(dhReal)
	hFake := b.mean(dhFake)
	cost := b.mul(loss, d.scale)
	if b.err != nil {
		return b.err
	}

	d.model = join(t.DiscH.Model(d.g), t.DiscD.Model(d.g))
	if _, err := G.Grad(cost, d.model...); err != nil {
		return errors.WithStack(err)
	}
	G.Read(loss, &d.loss)
	G.Read(lossH, &d.lossH)
	G.Read(lossD, &d.lossD)
	G.Read(hReal, &d.hReal)
	G.Read(hFake, &d.hFake)
	d.m = G.NewTapeMachine(d.g, G.BindDualValues(d.model...))
	return nil
}

func (t *Trainer) buildGen(shape tensor.Shape) error {
	gg := &t.gen
	gg.g = G.NewGraph()
	gg.realD = image4(gg.g, "real_diseased", shape)
	gg.realH = image4(gg.g, "real_healthy", shape)
	gg.scale = G.NewScalar(gg.g, nets.Float, G.WithName("loss_scale"))

	var b builder
	fakeH := b.fwd(t.GenH, gg.realD)
	fakeD := b.fwd(t.GenD, gg.realH)

	advH := b.mse(b.fwd(t.DiscH, fakeH), 1)
	advD := b.mse(b.fwd(t.DiscD, fakeD), 1)
	cycD := b.l1(gg.realD, b.fwd(t.GenD, fakeH))
	cycH := b.l1(gg.realH, b.fwd(t.GenH, fakeD))

	total := b.add(advH, advD)
	total = b.add(total, b.weigh(b.add(cycD, cycH), t.lambdaCycle))

	var idD, idH *G.Node
	if t.lambdaIdentity != 0 {
		idD = b.l1(gg.realD, b.fwd(t.GenD, gg.realD))
		idH = b.l1(gg.realH, b.fwd(t.GenH, gg.realH))
		total = b.add(total, b.weigh(b.add(idD, idH), t.lambdaIdentity))
	}
	cost := b.mul(total, gg.scale)
	if b.err != nil {
		return b.err
	}

	gg.model = join(t.GenH.Model(gg.g), t.GenD.Model(gg.g))
	if _, err := G.Grad(cost, gg.model...); err != nil {
		return errors.WithStack(err)
	}
	G.Read(total, &gg.total)
	G.Read(advH, &gg.advH)
	G.Read(advD, &gg.advD)
	G.Read(cycD, &gg.cycD)
	G.Read(cycH, &gg.cycH)
	if idD != nil {
		G.Read(idD, &gg.idD)
		G.Read(idH, &gg.idH)
	}
	gg.m = G.NewTapeMachine(gg.g, G.BindDualValues(gg.model...))
	return nil
}

func join(a, b G.Nodes) G.Nodes {
	retVal := make(G.Nodes, 0, len(a)+len(b))
	retVal = append(retVal, a...)
	return append(retVal, b...)
}

// Step trains on one batch of diseased and healthy images (B×C×H×W, in [-1, 1]):
// the discriminators first, then the generators against the updated discriminators.
func (t *Trainer) Step(state *TrainingState, diseased, healthy *tensor.Dense) (l Losses, err error) {
	var fakeH, fakeD *tensor.Dense
	err = t.autocast.Do(func() (err error) {
		if fakeH, err = t.toHealthy.Translate(diseased); err != nil {
			return err
		}
		if fakeD, err = t.toDiseased.Translate(healthy); err != nil {
			return err
		}
		t.autocast.Cast(fakeH.Data().([]float32))
		t.autocast.Cast(fakeD.Data().([]float32))
		return t.discStep(&l, diseased, healthy, fakeH, fakeD)
	})
	if err != nil {
		return l, errors.Wrapf(err, "step %d: discriminators", state.Step)
	}

	if err = t.autocast.Do(func() error { return t.genStep(&l, diseased, healthy) }); err != nil {
		return l, errors.Wrapf(err, "step %d: generators", state.Step)
	}

	state.HReals += float64(l.HReal)
	state.HFakes += float64(l.HFake)
	if !l.DiscStepped {
		state.DiscOverflows++
	}
	if !l.GenStepped {
		state.GenOverflows++
	}
	state.Index++

	if t.logEvery > 0 && state.Step%t.logEvery == 0 && t.logger != nil {
		var scales string
		if t.autocast.Enabled() {
			scales = fmt.Sprintf(" scale %v/%v", t.discScaler.Scale(), t.genScaler.Scale())
		}
		t.logger.Printf("epoch %d step %d (%d): H_real %.4f H_fake %.4f D %.4f G %.4f%s",
			state.Epoch, state.Step, state.Index, state.HReal(), state.HFake(), l.D, l.G, scales)
	}
	if t.sampleEvery > 0 && t.enc != nil && state.Step%t.sampleEvery == 0 {
		if err = t.emit(state, fakeH, fakeD); err != nil {
			return l, err
		}
	}
	state.Step++
	return l, nil
}

// let binds x to an input node, rounded to the precision of the current region.
func (t *Trainer) let(n *G.Node, x *tensor.Dense) error {
	if t.autocast.Precision() == amp.Half {
		x = x.Clone().(*tensor.Dense)
		t.autocast.Cast(x.Data().([]float32))
	}
	return errors.WithStack(G.Let(n, x))
}

func (t *Trainer) discStep(l *Losses, diseased, healthy, fakeH, fakeD *tensor.Dense) error {
	d := &t.disc
	d.m.Reset()
	if err := t.let(d.realH, healthy); err != nil {
		return err
	}
	if err := t.let(d.realD, diseased); err != nil {
		return err
	}
	if err := G.Let(d.fakeH, fakeH); err != nil {
		return errors.WithStack(err)
	}
	if err := G.Let(d.fakeD, fakeD); err != nil {
		return errors.WithStack(err)
	}
	if err := G.Let(d.scale, t.discScaler.Scale()); err != nil {
		return errors.WithStack(err)
	}
	if err := d.m.RunAll(); err != nil {
		return errors.WithStack(err)
	}

	model := G.NodesToValueGrads(d.model)
	if err := t.autocast.CastGrads(model); err != nil {
		return err
	}
	stepped, err := t.discScaler.Step(t.OptDisc, model)
	t.discScaler.Update()
	if err != nil {
		return err
	}

	l.D = scalar(d.loss)
	l.DH = scalar(d.lossH)
	l.DD = scalar(d.lossD)
	l.HReal = scalar(d.hReal)
	l.HFake = scalar(d.hFake)
	l.DiscStepped = stepped
	return nil
}

func (t *Trainer) genStep(l *Losses, diseased, healthy *tensor.Dense) error {
	gg := &t.gen
	gg.m.Reset()
	if err := t.let(gg.realD, diseased); err != nil {
		return err
	}
	if err := t.let(gg.realH, healthy); err != nil {
		return err
	}
	if err := G.Let(gg.scale, t.genScaler.Scale()); err != nil {
		return errors.WithStack(err)
	}
	if err := gg.m.RunAll(); err != nil {
		return errors.WithStack(err)
	}

	model := G.NodesToValueGrads(gg.model)
	if err := t.autocast.CastGrads(model); err != nil {
		return err
	}
	stepped, err := t.genScaler.Step(t.OptGen, model)
	t.genScaler.Update()
	if err != nil {
		return err
	}

	l.G = scalar(gg.total)
	l.AdvH = scalar(gg.advH)
	l.AdvD = scalar(gg.advD)
	l.CycleD = scalar(gg.cycD)
	l.CycleH = scalar(gg.cycH)
	if gg.idD != nil {
		l.IdentityD = scalar(gg.idD)
		l.IdentityH = scalar(gg.idH)
	}
	l.GenStepped = stepped
	return nil
}

func scalar(v G.Value) float32 {
	if v == nil {
		return math32.NaN()
	}
	f, ok := v.Data().(float32)
	if !ok {
		return math32.NaN()
	}
	return f
}

// emit encodes the translations of a batch.
func (t *Trainer) emit(state *TrainingState, fakeH, fakeD *tensor.Dense) error {
	for _, s := range []struct {
		dir string
		x   *tensor.Dense
	}{{ToHealthy, fakeH}, {ToDiseased, fakeD}} {
		img, err := dataset.ToImage(s.x)
		if err != nil {
			return err
		}
		if err = t.enc.Encode(Sample{Direction: s.dir, Epoch: state.Epoch, Step: state.Step, Image: img}); err != nil {
			return errors.Wrapf(err, "encoding the %s sample of step %d", s.dir, state.Step)
		}
	}
	return nil
}

// Overflows returns the number of skipped discriminator and generator updates.
func (t *Trainer) Overflows() (disc, gen int) {
	return t.discScaler.Overflows(), t.genScaler.Overflows()
}

// Close releases the VMs of every graph.
func (t *Trainer) Close() error {
	var allErrs manyErr
	for _, tr := range []*nets.Translator{t.toHealthy, t.toDiseased} {
		if tr == nil {
			continue
		}
		if err := tr.Close(); err != nil {
			allErrs = append(allErrs, err)
		}
	}
	for _, g := range []*G.ExprGraph{t.disc.g, t.gen.g} {
		if g == nil {
			continue
		}
		t.GenH.Unbind(g)
		t.GenD.Unbind(g)
		t.DiscH.Unbind(g)
		t.DiscD.Unbind(g)
	}
	for _, m := range []G.VM{t.disc.m, t.gen.m} {
		if m == nil {
			continue
		}
		if err := m.Close(); err != nil {
			allErrs = append(allErrs, err)
		}
	}
	if len(allErrs) > 0 {
		return allErrs
	}
	return nil
}
