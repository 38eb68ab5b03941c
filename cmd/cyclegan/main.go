package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gorgonia/cyclegan"
	"github.com/gorgonia/cyclegan/encoding/gif"
	"github.com/gorgonia/cyclegan/encoding/jpeg"
	"github.com/pkg/errors"
)

var (
	configFile = flag.String("config", "config.json", "JSON config file")
	samples    = flag.String("samples", "jpeg", "sample encoders: jpeg, gif, both or none")
	dot        = flag.String("dot", "", "write the architectures of the networks as Graphviz DOT files into this directory and exit")
	pprof      = flag.String("pprof", "", "serve pprof on this address, e.g. localhost:6060")
)

// encoders sends every sample to each of its encoders.
type encoders []cyclegan.SampleEncoder

func (e encoders) Encode(s cyclegan.Sample) error {
	for _, enc := range e {
		if err := enc.Encode(s); err != nil {
			return err
		}
	}
	return nil
}

func (e encoders) Flush() error {
	for _, enc := range e {
		if err := enc.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func sampleEncoder(kind, dir string) (cyclegan.SampleEncoder, error) {
	var e encoders
	switch kind {
	case "none":
		return nil, nil
	case "jpeg", "gif", "both":
	default:
		return nil, errors.Errorf("unknown sample encoder %q: want jpeg, gif, both or none", kind)
	}
	if kind == "jpeg" || kind == "both" {
		enc, err := jpeg.NewEncoder(dir)
		if err != nil {
			return nil, err
		}
		e = append(e, enc)
	}
	if kind == "gif" || kind == "both" {
		e = append(e, gif.NewEncoder(dir))
	}
	return e, nil
}

func writeDots(dir string, c *cyclegan.CycleGAN) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	type dotter interface {
		Name() string
		ToDot() (string, error)
	}
	for _, n := range []dotter{c.GenH, c.DiscH} {
		s, err := n.ToDot()
		if err != nil {
			return err
		}
		if err = os.WriteFile(filepath.Join(dir, n.Name()+".dot"), []byte(s), 0644); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "", log.Ltime)

	conf, err := cyclegan.LoadConfig(*configFile)
	if err != nil {
		logger.Fatalf("%+v", err)
	}
	if *pprof != "" {
		go func() {
			logger.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	enc, err := sampleEncoder(*samples, conf.SampleDir)
	if err != nil {
		logger.Fatalf("%+v", err)
	}
	c, err := cyclegan.New(conf, enc, logger)
	if err != nil {
		logger.Fatalf("%+v", err)
	}
	defer c.Close()

	if *dot != "" {
		if err = writeDots(*dot, c); err != nil {
			logger.Fatalf("%+v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err = c.Learn(ctx); err != nil {
		logger.Printf("%+v", err)
		c.Close()
		os.Exit(1)
	}
}
