package cyclegan

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// EpochStats are the mean losses of an epoch.
type EpochStats struct {
	Epoch int
	Steps int

	D, G        float64
	Adversarial float64
	Cycle       float64
	Identity    float64
	HReal       float64
	HFake       float64

	DiscOverflows int // skipped updates within the epoch
	GenOverflows  int
}

// Statistics collects the EpochStats of a run.
type Statistics struct {
	PerEpoch []EpochStats
}

func makeStatistics() Statistics {
	return Statistics{PerEpoch: make([]EpochStats, 0, 64)}
}

// epochAccumulator sums the losses of the steps of an epoch.
type epochAccumulator struct {
	steps                              int
	d, g, adv, cycle, identity, hr, hf float64
	discOverflows, genOverflows        int
}

func (a *epochAccumulator) add(l Losses) {
	a.steps++
	a.d += float64(l.D)
	a.g += float64(l.G)
	a.adv += float64(l.Adversarial())
	a.cycle += float64(l.Cycle())
	a.identity += float64(l.Identity())
	a.hr += float64(l.HReal)
	a.hf += float64(l.HFake)
	if !l.DiscStepped {
		a.discOverflows++
	}
	if !l.GenStepped {
		a.genOverflows++
	}
}

func (a *epochAccumulator) stats(epoch int) EpochStats {
	s := EpochStats{
		Epoch:         epoch,
		Steps:         a.steps,
		DiscOverflows: a.discOverflows,
		GenOverflows:  a.genOverflows,
	}
	if a.steps == 0 {
		return s
	}
	n := float64(a.steps)
	s.D = a.d / n
	s.G = a.g / n
	s.Adversarial = a.adv / n
	s.Cycle = a.cycle / n
	s.Identity = a.identity / n
	s.HReal = a.hr / n
	s.HFake = a.hf / n
	return s
}

func (s *Statistics) update(e EpochStats) { s.PerEpoch = append(s.PerEpoch, e) }

var statisticsHeader = []string{"epoch", "steps", "d", "g", "adversarial", "cycle", "identity", "h_real", "h_fake", "disc_overflows", "gen_overflows"}

// Dump writes the statistics as CSV, one row per epoch.
func (s *Statistics) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', 5, 64) }
	records := [][]string{statisticsHeader}
	for _, e := range s.PerEpoch {
		records = append(records, []string{
			strconv.Itoa(e.Epoch),
			strconv.Itoa(e.Steps),
			ff(e.D),
			ff(e.G),
			ff(e.Adversarial),
			ff(e.Cycle),
			ff(e.Identity),
			ff(e.HReal),
			ff(e.HFake),
			strconv.Itoa(e.DiscOverflows),
			strconv.Itoa(e.GenOverflows),
		})
	}
	// WriteAll flushes
	if err = csv.NewWriter(f).WriteAll(records); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing statistics to %s", filename)
	}
	return errors.Wrapf(f.Close(), "closing %s", filename)
}
