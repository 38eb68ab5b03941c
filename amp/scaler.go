package amp

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas/blas32"
	G "gorgonia.org/gorgonia"
)

// ScalerConfig configures a GradScaler.
type ScalerConfig struct {
	Enabled        bool    `json:"enabled"`
	InitScale      float32 `json:"init_scale"`     // initial loss scale
	GrowthFactor   float32 `json:"growth_factor"`  // scale multiplier after GrowthInterval clean steps
	BackoffFactor  float32 `json:"backoff_factor"` // scale multiplier after an overflow
	GrowthInterval int     `json:"growth_interval"`
}

// DefaultScalerConfig returns the usual dynamic loss scaling schedule.
func DefaultScalerConfig() ScalerConfig {
	return ScalerConfig{
		Enabled:        true,
		InitScale:      1 << 16,
		GrowthFactor:   2,
		BackoffFactor:  0.5,
		GrowthInterval: 2000,
	}
}

func (c ScalerConfig) IsValid() bool {
	if !c.Enabled {
		return true
	}
	return c.InitScale > 0 &&
		c.GrowthFactor > 1 &&
		c.BackoffFactor > 0 && c.BackoffFactor < 1 &&
		c.GrowthInterval > 0
}

// GradScaler scales a loss up before the backward pass and the gradients down after,
// skipping the optimizer step whenever the gradients overflowed.
//
// The usage per update is:
//
//	let the cost be multiplied by s.Scale()
//	run the backward pass
//	stepped, err := s.Step(solver, model)
//	s.Update()
type GradScaler struct {
	ScalerConfig

	scale   float32
	tracker int // clean steps since the last scale change

	unscaled  bool
	found     bool
	overflows int
	norm      float32
}

// NewGradScaler creates a GradScaler. A disabled scaler always has a scale of 1 and never skips.
func NewGradScaler(conf ScalerConfig) *GradScaler {
	s := &GradScaler{ScalerConfig: conf, scale: 1}
	if conf.Enabled {
		s.scale = conf.InitScale
	}
	return s
}

// Scale is the factor the loss must be multiplied by.
func (s *GradScaler) Scale() float32 { return s.scale }

// Overflows is the number of steps skipped so far.
func (s *GradScaler) Overflows() int { return s.overflows }

// GradNorm is the L2 norm of the last unscaled gradients. It is Inf or NaN after an overflow.
func (s *GradScaler) GradNorm() float32 { return s.norm }

// Unscale divides the gradients of model by the current scale in place and reports
// whether any of them is infinite or NaN.
func (s *GradScaler) Unscale(model []G.ValueGrad) (found bool, err error) {
	if s.unscaled {
		return s.found, errors.New("gradients were already unscaled since the last update")
	}
	inv := 1 / s.scale
	var sumsq float32
	for _, vg := range model {
		var data []float32
		if data, err = gradData(vg); err != nil {
			return false, err
		}
		v := blas32.Vector{N: len(data), Inc: 1, Data: data}
		if s.Enabled {
			blas32.Scal(inv, v)
		}
		if !found && !finite(data) {
			found = true
		}
		if !found {
			n := blas32.Nrm2(v)
			sumsq += n * n
		}
	}
	s.unscaled = true
	s.found = found
	if found {
		s.norm = math32.Inf(1)
	} else {
		s.norm = math32.Sqrt(sumsq)
	}
	return found, nil
}

// Step unscales the gradients (if Unscale was not called) and steps the solver unless
// they overflowed, in which case the gradients are cleared. It returns whether the
// parameters were updated. The solver is expected to clear the gradients it applies.
func (s *GradScaler) Step(solver G.Solver, model []G.ValueGrad) (stepped bool, err error) {
	if !s.unscaled {
		if _, err = s.Unscale(model); err != nil {
			return false, err
		}
	}
	if s.found {
		// drop the overflowed gradients so they do not poison the next backward pass
		for _, vg := range model {
			var data []float32
			if data, err = gradData(vg); err != nil {
				return false, err
			}
			for i := range data {
				data[i] = 0
			}
		}
		return false, nil
	}
	if err = solver.Step(model); err != nil {
		return false, errors.Wrap(err, "solver step")
	}
	return true, nil
}

// Update adjusts the scale for the next iteration: an overflow backs off and resets the
// growth tracker, GrowthInterval clean steps in a row grow it.
func (s *GradScaler) Update() {
	found := s.found
	s.unscaled = false
	s.found = false
	if found {
		s.overflows++
	}
	if !s.Enabled {
		return
	}
	if found {
		s.scale *= s.BackoffFactor
		s.tracker = 0
		return
	}
	s.tracker++
	if s.tracker >= s.GrowthInterval {
		s.scale *= s.GrowthFactor
		s.tracker = 0
	}
}

func gradData(vg G.ValueGrad) ([]float32, error) {
	g, err := vg.Grad()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	data, ok := g.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("expected float32 gradients, got %T", g.Data())
	}
	return data, nil
}

func finite(a []float32) bool {
	for _, v := range a {
		if math32.IsInf(v, 0) || math32.IsNaN(v) {
			return false
		}
	}
	return true
}
