// Package cyclegan trains a CycleGAN that translates leaf images between a diseased and a
// healthy domain, from two unpaired image collections.
package cyclegan

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gorgonia/cyclegan/checkpoint"
	"github.com/gorgonia/cyclegan/compute"
	"github.com/gorgonia/cyclegan/dataset"
	"github.com/gorgonia/cyclegan/nets"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// CycleGAN is the top level structure and the entry point of the API. It drives a
// Trainer over the epochs of a dataset.
type CycleGAN struct {
	Config
	*Trainer
	Statistics
	State TrainingState

	train      *dataset.Loader
	val        *dataset.Paired
	valH, valD *nets.Translator

	enc    SampleEncoder
	logger *log.Logger
}

// New creates a CycleGAN from a config. When conf.LoadModel is set, the four networks
// and both optimizers are restored from conf.CheckpointDir. enc may be nil; a nil
// logger logs to stderr.
func New(conf Config, enc SampleEncoder, logger *log.Logger) (*CycleGAN, error) {
	if err := conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.Ltime)
	}
	device, err := compute.Select(conf.Device)
	if err != nil {
		return nil, err
	}
	workers := device.Workers(conf.Workers)
	logger.Printf("Using %v, %d loader workers", device, workers)

	dirD, dirH := conf.domainDirs(conf.TrainDir)
	tf := dataset.Transform{Height: conf.Height, Width: conf.Width, FlipProb: conf.FlipProb, Joint: true}
	train, err := dataset.NewPaired(dirD, dirH, tf)
	if err != nil {
		return nil, err
	}
	loader, err := dataset.NewLoader(train, dataset.LoaderConfig{
		BatchSize: conf.BatchSize,
		Shuffle:   conf.Shuffle,
		Workers:   workers,
		Prefetch:  conf.Prefetch,
		Seed:      conf.Seed,
	})
	if err != nil {
		return nil, err
	}
	na, nb := train.Lens()
	logger.Printf("Training on %d %s and %d %s images, %d batches per epoch", na, conf.DomainD, nb, conf.DomainH, loader.Len())

	c := &CycleGAN{
		Config:     conf,
		Statistics: makeStatistics(),
		train:      loader,
		enc:        enc,
		logger:     logger,
	}
	if c.Trainer, err = NewTrainer(conf, enc, logger); err != nil {
		return nil, err
	}

	if conf.ValDir != "" {
		dirD, dirH := conf.domainDirs(conf.ValDir)
		if c.val, err = dataset.NewPaired(dirD, dirH, dataset.Transform{Height: conf.Height, Width: conf.Width}); err != nil {
			c.Close()
			return nil, err
		}
		single := tensor.Shape{1, conf.Generator.Channels, conf.Height, conf.Width}
		if c.valH, err = nets.NewTranslator(c.GenH, single, false); err != nil {
			c.Close()
			return nil, err
		}
		if c.valD, err = nets.NewTranslator(c.GenD, single, false); err != nil {
			c.Close()
			return nil, err
		}
	}

	if conf.LoadModel {
		if err = c.Load(); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// Learn trains for c.Epochs epochs. After every SaveEvery epochs the networks are saved
// (if SaveModel is set), and after every epoch the validation pairs are translated and
// emitted as samples. Learn returns when ctx is done, between two steps.
func (c *CycleGAN) Learn(ctx context.Context) error {
	for epoch := 0; epoch < c.Epochs; epoch++ {
		c.State.StartEpoch(epoch)
		var acc epochAccumulator
		c.logger.Printf("Epoch %d", epoch)

		err := c.train.Each(ctx, epoch, func(i int, b dataset.Batch) error {
			l, err := c.Trainer.Step(&c.State, b.A, b.B)
			if err != nil {
				return err
			}
			acc.add(l)
			return nil
		})
		if err != nil {
			return errors.Wrapf(err, "epoch %d", epoch)
		}

		if c.SaveModel && (epoch+1)%c.SaveEvery == 0 {
			if err = c.Save(); err != nil {
				return err
			}
		}
		if err = c.validate(epoch); err != nil {
			return err
		}

		stats := acc.stats(epoch)
		c.Statistics.update(stats)
		c.logger.Printf("Epoch %d: D %.4f G %.4f (adversarial %.4f, cycle %.4f, identity %.4f) H_real %.4f H_fake %.4f, skipped %d/%d updates",
			epoch, stats.D, stats.G, stats.Adversarial, stats.Cycle, stats.Identity, stats.HReal, stats.HFake, stats.DiscOverflows, stats.GenOverflows)
	}

	if c.enc != nil {
		if err := c.enc.Flush(); err != nil {
			return errors.Wrap(err, "flushing samples")
		}
	}
	if c.StatisticsFile != "" {
		if err := c.Statistics.Dump(c.StatisticsFile); err != nil {
			return errors.Wrap(err, "dumping statistics")
		}
	}
	return nil
}

// validate translates the validation pairs. The translations are only emitted for
// inspection.
func (c *CycleGAN) validate(epoch int) error {
	if c.val == nil || c.enc == nil {
		return nil
	}
	n := c.val.Len()
	if c.ValLimit > 0 && c.ValLimit < n {
		n = c.ValLimit
	}
	for i := 0; i < n; i++ {
		p, err := c.val.Get(i, nil)
		if err != nil {
			return err
		}
		b, err := dataset.Stack([]dataset.Pair{p})
		if err != nil {
			return err
		}
		fakeH, err := c.valH.Translate(b.A)
		if err != nil {
			return err
		}
		fakeD, err := c.valD.Translate(b.B)
		if err != nil {
			return err
		}
		for _, s := range []struct {
			dir string
			x   *tensor.Dense
		}{{ToHealthy, fakeH}, {ToDiseased, fakeD}} {
			img, err := dataset.ToImage(s.x)
			if err != nil {
				return err
			}
			sample := Sample{Direction: fmt.Sprintf("val_%s_%d", s.dir, i), Epoch: epoch, Step: c.State.Step, Image: img}
			if err = c.enc.Encode(sample); err != nil {
				return errors.Wrapf(err, "encoding validation sample %d", i)
			}
		}
	}
	return nil
}

type savedNet struct {
	file string
	net  checkpoint.Network
	opt  checkpoint.Optimizer
}

func (c *CycleGAN) checkpoints() []savedNet {
	return []savedNet{
		{CheckpointGenH, c.GenH, c.OptGen},
		{CheckpointGenD, c.GenD, c.OptGen},
		{CheckpointCriticH, c.DiscH, c.OptDisc},
		{CheckpointCriticD, c.DiscD, c.OptDisc},
	}
}

// Save writes the four networks, each with the optimizer that trains it.
func (c *CycleGAN) Save() error {
	if err := os.MkdirAll(c.CheckpointDir, 0755); err != nil {
		return errors.WithStack(err)
	}
	for _, s := range c.checkpoints() {
		if err := checkpoint.Save(c.checkpoint(s.file), s.net, s.opt); err != nil {
			return errors.Wrapf(err, "saving %s", s.net.Name())
		}
	}
	c.logger.Printf("Saved checkpoints to %s", c.CheckpointDir)
	return nil
}

// Load restores the four networks and both optimizers. The learn rate of the
// optimizers is reset to the configured one.
func (c *CycleGAN) Load() error {
	for _, s := range c.checkpoints() {
		if err := checkpoint.Load(c.checkpoint(s.file), s.net, s.opt, c.LearnRate); err != nil {
			return errors.Wrapf(err, "loading %s", s.net.Name())
		}
	}
	c.logger.Printf("Loaded checkpoints from %s", c.CheckpointDir)
	return nil
}

// Close releases every graph of the CycleGAN.
func (c *CycleGAN) Close() error {
	var allErrs manyErr
	if c.Trainer != nil {
		if err := c.Trainer.Close(); err != nil {
			allErrs = append(allErrs, err)
		}
	}
	for _, tr := range []*nets.Translator{c.valH, c.valD} {
		if tr == nil {
			continue
		}
		if err := tr.Close(); err != nil {
			allErrs = append(allErrs, err)
		}
	}
	if len(allErrs) > 0 {
		return allErrs
	}
	return nil
}

type manyErr []error

func (err manyErr) Error() string {
	var buf bytes.Buffer
	for _, e := range err {
		fmt.Fprintln(&buf, e.Error())
	}
	return buf.String()
}
