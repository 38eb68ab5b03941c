// Package amp provides the mixed precision machinery of the trainer: a scoped
// reduced-precision region and a dynamic gradient scaler.
//
// The engine computes in float32. Inside a reduced-precision region, values that
// cross the region boundary (inputs, outputs and gradients) are rounded to IEEE 754
// half precision, so magnitudes beyond 65504 become infinities exactly as they would
// on half precision hardware. The GradScaler reacts to those infinities.
package amp

import "github.com/chewxy/math32"

// MaxHalf is the largest finite half precision value.
const MaxHalf = 65504

// Precision is a numeric precision.
type Precision int

const (
	Full Precision = iota // float32
	Half                  // IEEE 754 binary16
)

func (p Precision) String() string {
	if p == Half {
		return "half"
	}
	return "full"
}

// RoundHalf rounds f to the nearest half precision value (ties to even).
// Values beyond the half range become ±Inf, values below the smallest subnormal become ±0.
func RoundHalf(f float32) float32 {
	if math32.IsNaN(f) || math32.IsInf(f, 0) {
		return f
	}
	return halfToFloat(floatToHalf(f))
}

// RoundHalfSlice rounds every element of a in place.
func RoundHalfSlice(a []float32) {
	for i, v := range a {
		a[i] = RoundHalf(v)
	}
}

func floatToHalf(f float32) uint16 {
	b := math32.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	e := int32(b>>23) & 0xff
	mant := b & 0x7fffff

	if e == 0xff {
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	}

	exp := e - 127 + 15
	switch {
	case exp >= 0x1f:
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		h := uint16(mant >> shift)
		rem := mant & (1<<shift - 1)
		halfway := uint32(1) << (shift - 1)
		if rem > halfway || (rem == halfway && h&1 == 1) {
			h++
		}
		return sign | h
	}

	h := sign | uint16(exp)<<10 | uint16(mant>>13)
	rem := mant & 0x1fff
	// a carry out of the mantissa correctly bumps the exponent, up to Inf
	if rem > 0x1000 || (rem == 0x1000 && h&1 == 1) {
		h++
	}
	return h
}

func halfToFloat(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch exp {
	case 0x1f:
		return math32.Float32frombits(sign | 0x7f800000 | mant<<13)
	case 0:
		if mant == 0 {
			return math32.Float32frombits(sign)
		}
		v := float32(mant) / (1 << 24)
		if sign != 0 {
			return -v
		}
		return v
	}
	return math32.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
}
