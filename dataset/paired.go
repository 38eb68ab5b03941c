// Package dataset provides the unpaired image data of a CycleGAN: a sampler that pairs
// the images of two domain directories by index, the transform that turns them into
// normalized tensors and a Loader that decodes batches ahead of training.
package dataset

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Pair is one image of each domain, C×H×W with values in [-1, 1].
type Pair struct {
	A, B *tensor.Dense
}

// Sampler is a source of pairs addressed by index.
type Sampler interface {
	Len() int
	Get(i int, r *rand.Rand) (Pair, error)
}

// Paired pairs the images of two directories. The two lists are independent: index i
// takes the (i mod lenA)-th image of A and the (i mod lenB)-th image of B, so the shorter
// domain wraps around while the longer one is traversed once.
type Paired struct {
	a, b      []string
	transform Transform
}

// NewPaired lists the images of dirA and dirB. Both directories must hold at least one.
func NewPaired(dirA, dirB string, transform Transform) (*Paired, error) {
	if err := transform.Validate(); err != nil {
		return nil, err
	}
	a, err := listImages(dirA)
	if err != nil {
		return nil, err
	}
	b, err := listImages(dirB)
	if err != nil {
		return nil, err
	}
	return &Paired{a: a, b: b, transform: transform}, nil
}

// listImages returns the sorted paths of the regular, non hidden files in dir.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", dir)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, &EmptyDatasetError{Dir: dir}
	}
	sort.Strings(paths)
	return paths, nil
}

// Len is the size of the larger domain.
func (p *Paired) Len() int {
	if len(p.a) > len(p.b) {
		return len(p.a)
	}
	return len(p.b)
}

// Lens returns the number of images of each domain.
func (p *Paired) Lens() (int, int) { return len(p.a), len(p.b) }

// Paths returns the files paired at index i. i must be non-negative.
func (p *Paired) Paths(i int) (string, string) {
	return p.a[i%len(p.a)], p.b[i%len(p.b)]
}

// Get decodes and transforms the pair at index i. r drives the random flips; a nil r
// never flips.
func (p *Paired) Get(i int, r *rand.Rand) (Pair, error) {
	if i < 0 {
		return Pair{}, errors.Errorf("negative index %d", i)
	}
	pa, pb := p.Paths(i)
	a, err := Decode(pa)
	if err != nil {
		return Pair{}, err
	}
	b, err := Decode(pb)
	if err != nil {
		return Pair{}, err
	}
	return p.transform.Pair(a, b, r), nil
}
