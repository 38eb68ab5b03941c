// Package checkpoint persists a network together with the state of its optimizer.
//
// A checkpoint file is a gob encoded Record. Loading restores the parameters first,
// then the optimizer state, and finally overrides the learn rate with the one the
// caller is configured with, so that a resumed run can change it.
package checkpoint

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/gorgonia/cyclegan/nets"
	"github.com/gorgonia/cyclegan/optim"
	"github.com/pkg/errors"
)

// Network is a network whose parameters can be gob encoded.
type Network interface {
	Name() string
	Params() []nets.Param
	gob.GobEncoder
	gob.GobDecoder
}

// Optimizer is an optimizer with a restorable state.
type Optimizer interface {
	Snapshot() optim.State
	Restore(optim.State) error
	SetLearnRate(lr float64)
}

// Record is the content of a checkpoint file.
type Record struct {
	Network   string
	Weights   []byte // gob encoding of the network
	Optimizer optim.State
}

// Save writes net and the state of opt to path. The file is replaced atomically: a
// failed save leaves any previous checkpoint intact.
func Save(path string, net Network, opt Optimizer) (err error) {
	rec := Record{Network: net.Name(), Optimizer: opt.Snapshot()}
	if rec.Weights, err = net.GobEncode(); err != nil {
		return errors.Wrapf(err, "encoding %s", net.Name())
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.WithStack(err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if err = gob.NewEncoder(f).Encode(rec); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	if err = f.Sync(); err != nil {
		return errors.WithStack(err)
	}
	if err = f.Close(); err != nil {
		return errors.WithStack(err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Load restores net and opt from path, then sets the learn rate of opt to lr.
func Load(path string, net Network, opt Optimizer, lr float64) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	var rec Record
	if err = gob.NewDecoder(f).Decode(&rec); err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	if rec.Network != net.Name() {
		return errors.Errorf("%s holds %q, not %q", path, rec.Network, net.Name())
	}
	if err = net.GobDecode(rec.Weights); err != nil {
		return errors.Wrapf(err, "loading %s", path)
	}
	if err = opt.Restore(rec.Optimizer); err != nil {
		return errors.Wrapf(err, "loading optimizer state from %s", path)
	}
	opt.SetLearnRate(lr)
	return nil
}
