package cyclegan

import "image"

// Direction names a translation.
const (
	ToHealthy  = "healthy"  // diseased → healthy, by GenH
	ToDiseased = "diseased" // healthy → diseased, by GenD
)

// Sample is a translated image emitted for inspection.
type Sample struct {
	Direction string
	Epoch     int
	Step      int // global training step
	Image     image.Image
}

// SampleEncoder encodes samples as whatever.
//
// An example SampleEncoder is the jpeg encoder, which writes one file per sample. Another
// is the gif encoder, which animates the samples of each direction.
type SampleEncoder interface {
	Encode(s Sample) error
	Flush() error
}

// ExecLogger is anything that can return the execution log.
type ExecLogger interface {
	ExecLog() string
}

// Losses are the losses of one training step. Adversarial, cycle and identity terms are
// unweighted; G is the weighted total.
type Losses struct {
	D  float32 // (D_H + D_D) / 2
	DH float32
	DD float32

	G         float32
	AdvH      float32 // GenH fooling DiscH
	AdvD      float32
	CycleD    float32 // diseased → healthy → diseased
	CycleH    float32
	IdentityD float32
	IdentityH float32

	HReal float32 // mean score of DiscH on real healthy images
	HFake float32 // mean score of DiscH on translated healthy images

	DiscStepped bool // false when the discriminator gradients overflowed
	GenStepped  bool
}

// Adversarial is the sum of both adversarial terms.
func (l Losses) Adversarial() float32 { return l.AdvH + l.AdvD }

// Cycle is the sum of both cycle terms.
func (l Losses) Cycle() float32 { return l.CycleD + l.CycleH }

// Identity is the sum of both identity terms.
func (l Losses) Identity() float32 { return l.IdentityD + l.IdentityH }

// TrainingState is the progress of training. It is threaded through every step.
type TrainingState struct {
	Epoch int
	Step  int // global step, over all epochs
	Index int // step within the epoch

	HReals float64 // running sums over the epoch
	HFakes float64

	DiscOverflows int
	GenOverflows  int
}

// StartEpoch resets the running means for a new epoch.
func (s *TrainingState) StartEpoch(epoch int) {
	s.Epoch = epoch
	s.Index = 0
	s.HReals = 0
	s.HFakes = 0
}

// HReal is the running mean of DiscH's score of real healthy images within the epoch.
func (s *TrainingState) HReal() float64 {
	if s.Index == 0 {
		return 0
	}
	return s.HReals / float64(s.Index)
}

// HFake is the running mean of DiscH's score of translated healthy images within the epoch.
func (s *TrainingState) HFake() float64 {
	if s.Index == 0 {
		return 0
	}
	return s.HFakes / float64(s.Index)
}
