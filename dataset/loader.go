package dataset

import (
	"context"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Batch stacks the pairs of a batch into two B×C×H×W tensors.
type Batch struct {
	A, B *tensor.Dense
}

// Stack builds a Batch out of pairs of identical shape.
func Stack(pairs []Pair) (Batch, error) {
	if len(pairs) == 0 {
		return Batch{}, errors.New("cannot stack an empty batch")
	}
	a, err := stack(pairs, func(p Pair) *tensor.Dense { return p.A })
	if err != nil {
		return Batch{}, err
	}
	b, err := stack(pairs, func(p Pair) *tensor.Dense { return p.B })
	if err != nil {
		return Batch{}, err
	}
	return Batch{A: a, B: b}, nil
}

func stack(pairs []Pair, of func(Pair) *tensor.Dense) (*tensor.Dense, error) {
	shape := of(pairs[0]).Shape().Clone()
	size := shape.TotalSize()
	data := make([]float32, 0, len(pairs)*size)
	for i, p := range pairs {
		t := of(p)
		if !t.Shape().Eq(shape) {
			return nil, errors.Errorf("image %d of the batch has shape %v, expected %v", i, t.Shape(), shape)
		}
		data = append(data, t.Data().([]float32)...)
	}
	return tensor.New(tensor.WithShape(append(tensor.Shape{len(pairs)}, shape...)...), tensor.WithBacking(data)), nil
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	Workers   int   // goroutines decoding batches
	Prefetch  int   // batches decoded ahead of the consumer
	Seed      int64 // drives shuffling and flips
}

func (conf LoaderConfig) IsValid() bool {
	return conf.BatchSize >= 1 && conf.Workers >= 1 && conf.Prefetch >= 1
}

// Loader delivers the batches of a Sampler in order while workers decode the next ones.
// The last partial batch of an epoch is dropped.
type Loader struct {
	LoaderConfig
	sampler Sampler
}

// NewLoader creates a Loader over s.
func NewLoader(s Sampler, conf LoaderConfig) (*Loader, error) {
	if !conf.IsValid() {
		return nil, errors.Errorf("invalid loader config %+v", conf)
	}
	if s.Len() < conf.BatchSize {
		return nil, errors.Errorf("%d samples cannot fill a batch of %d", s.Len(), conf.BatchSize)
	}
	return &Loader{LoaderConfig: conf, sampler: s}, nil
}

// Len is the number of batches of an epoch.
func (l *Loader) Len() int { return l.sampler.Len() / l.BatchSize }

// Order returns the sample indices of the given epoch.
func (l *Loader) Order(epoch int) []int {
	if l.Shuffle {
		return rand.New(rand.NewSource(l.Seed + int64(epoch))).Perm(l.sampler.Len())
	}
	order := make([]int, l.sampler.Len())
	for i := range order {
		order[i] = i
	}
	return order
}

func (l *Loader) batch(order []int, epoch, i int) (Batch, error) {
	r := rand.New(rand.NewSource(l.Seed ^ int64(epoch)<<32 ^ int64(i+1)))
	pairs := make([]Pair, l.BatchSize)
	for j := range pairs {
		var err error
		if pairs[j], err = l.sampler.Get(order[i*l.BatchSize+j], r); err != nil {
			return Batch{}, err
		}
	}
	return Stack(pairs)
}

type loaded struct {
	b   Batch
	err error
}

// Each calls fn with every batch of the epoch, in order, on the calling goroutine.
// It stops at the first error of fn or of decoding, or when ctx is done.
func (l *Loader) Each(ctx context.Context, epoch int, fn func(i int, b Batch) error) error {
	n := l.Len()
	order := l.Order(epoch)

	ctx, cancel := context.WithCancel(ctx)
	results := make([]chan loaded, n)
	for i := range results {
		results[i] = make(chan loaded, 1)
	}
	jobs := make(chan int)
	sem := make(chan struct{}, l.Prefetch)

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	for w := 0; w < l.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				b, err := l.batch(order, epoch, i)
				results[i] <- loaded{b, err}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var res loaded
		select {
		case res = <-results[i]:
		case <-ctx.Done():
			return ctx.Err()
		}
		<-sem
		if res.err != nil {
			return res.err
		}
		if err := fn(i, res.b); err != nil {
			return err
		}
	}
	return nil
}
