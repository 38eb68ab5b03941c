package main

import (
	"flag"
	"image/jpeg"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorgonia/cyclegan"
	"github.com/gorgonia/cyclegan/checkpoint"
	"github.com/gorgonia/cyclegan/dataset"
	"github.com/gorgonia/cyclegan/nets"
	"github.com/gorgonia/cyclegan/optim"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

var (
	configFile = flag.String("config", "config.json", "JSON config file of the training run")
	to         = flag.String("to", cyclegan.ToHealthy, "translate into this domain: healthy or diseased")
	in         = flag.String("in", "", "directory of images to translate")
	out        = flag.String("out", "translated", "output directory")
	trace      = flag.Bool("trace", false, "log the execution trace of the generator for every image")
)

type translator interface {
	Translate(x *tensor.Dense) (*tensor.Dense, error)
}

func generator(conf cyclegan.Config, direction string) (*nets.Generator, error) {
	name, file := "genH", cyclegan.CheckpointGenH
	switch direction {
	case cyclegan.ToHealthy:
	case cyclegan.ToDiseased:
		name, file = "genD", cyclegan.CheckpointGenD
	default:
		return nil, errors.Errorf("unknown direction %q", direction)
	}
	gen := nets.NewGenerator(name, conf.Generator, rand.New(rand.NewSource(conf.Seed)))
	if err := checkpoint.Load(filepath.Join(conf.CheckpointDir, file), gen, optim.NewAdam(), conf.LearnRate); err != nil {
		return nil, err
	}
	return gen, nil
}

func translate(tr translator, tf dataset.Transform, src, dst string, logger *log.Logger) error {
	img, err := dataset.Decode(src)
	if err != nil {
		return err
	}
	x := tf.Single(img)
	if err = x.Reshape(append(tensor.Shape{1}, x.Shape()...)...); err != nil {
		return errors.WithStack(err)
	}
	y, err := tr.Translate(x)
	if el, ok := tr.(cyclegan.ExecLogger); ok && *trace {
		logger.Printf("%s:\n%s", src, el.ExecLog())
	}
	if err != nil {
		return err
	}
	res, err := dataset.ToImage(y)
	if err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	if err = jpeg.Encode(f, res, nil); err != nil {
		f.Close()
		return errors.Wrapf(err, "encoding %s", dst)
	}
	return f.Close()
}

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "", log.Ltime)

	conf, err := cyclegan.LoadConfig(*configFile)
	if err != nil {
		logger.Fatalf("%+v", err)
	}
	if *in == "" {
		logger.Fatal("-in is required")
	}
	gen, err := generator(conf, *to)
	if err != nil {
		logger.Fatalf("%+v", err)
	}
	tr, err := nets.NewTranslator(gen, tensor.Shape{1, conf.Generator.Channels, conf.Height, conf.Width}, *trace)
	if err != nil {
		logger.Fatalf("%+v", err)
	}
	defer tr.Close()

	entries, err := os.ReadDir(*in)
	if err != nil {
		logger.Fatalf("%+v", err)
	}
	if err = os.MkdirAll(*out, 0755); err != nil {
		logger.Fatalf("%+v", err)
	}
	tf := dataset.Transform{Height: conf.Height, Width: conf.Width}
	var n int
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		dst := filepath.Join(*out, base+"_"+*to+".jpg")
		if err = translate(tr, tf, filepath.Join(*in, e.Name()), dst, logger); err != nil {
			logger.Printf("skipping %s: %v", e.Name(), err)
			continue
		}
		n++
	}
	logger.Printf("Translated %d images into %s", n, *out)
}
