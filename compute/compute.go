// Package compute describes where the numeric work of a run happens.
//
// The device is selected once, at startup. Everything downstream receives a Device
// and never asks the hardware again.
package compute

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
)

// Kind is the kind of device.
type Kind int

const (
	CPU Kind = iota
	CUDA
)

func (k Kind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ErrNoAccelerator is returned when an accelerator is requested but this build has no engine for it.
var ErrNoAccelerator = errors.New("no accelerator engine in this build")

// Device is the selected compute device.
type Device struct {
	Kind     Kind
	Name     string
	Threads  int      // logical cores available to the math engine
	Features []string // SIMD extensions the engine may use
}

// simd lists the extensions that matter for float32 kernels.
var simd = []struct {
	id   cpuid.FeatureID
	name string
}{
	{cpuid.SSE4, "sse4.1"},
	{cpuid.AVX, "avx"},
	{cpuid.AVX2, "avx2"},
	{cpuid.FMA3, "fma3"},
	{cpuid.AVX512F, "avx512f"},
	{cpuid.ASIMD, "asimd"},
}

// Select picks the device named by kind: "cpu", "auto" (or empty) or "cuda".
func Select(kind string) (Device, error) {
	switch strings.ToLower(kind) {
	case "", "auto", "cpu":
		return detectCPU(), nil
	case "cuda", "gpu":
		return Device{Kind: CUDA}, errors.Wrapf(ErrNoAccelerator, "cannot select %q", kind)
	}
	return Device{}, errors.Errorf("unknown device %q", kind)
}

func detectCPU() Device {
	d := Device{
		Kind:    CPU,
		Name:    strings.TrimSpace(cpuid.CPU.BrandName),
		Threads: cpuid.CPU.LogicalCores,
	}
	if d.Name == "" {
		d.Name = runtime.GOARCH
	}
	if d.Threads <= 0 {
		d.Threads = runtime.NumCPU()
	}
	for _, f := range simd {
		if cpuid.CPU.Supports(f.id) {
			d.Features = append(d.Features, f.name)
		}
	}
	return d
}

// Workers returns the number of loader workers to use when n is not set explicitly.
// One thread is left to the training loop.
func (d Device) Workers(n int) int {
	if n > 0 {
		return n
	}
	if d.Threads > 1 {
		return d.Threads - 1
	}
	return 1
}

func (d Device) String() string {
	if len(d.Features) == 0 {
		return fmt.Sprintf("%v (%s, %d threads)", d.Kind, d.Name, d.Threads)
	}
	return fmt.Sprintf("%v (%s, %d threads, %s)", d.Kind, d.Name, d.Threads, strings.Join(d.Features, ","))
}
