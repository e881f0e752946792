// Package quant implements the scalar reference numerics of per-tensor affine
// quantization:
//
//	dequantize(raw, scale, zp)        = (raw - zp) * scale
//	quantize(value, scale, zp, dtype) = clamp_dtype(round_half_even(value / scale) + zp)
//
// It is used to check the Torch-dialect sequences emitted for the QLinear operators.
package quant

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// DType is a quantized integer storage type.
type DType int

const (
	UInt8 DType = iota
	Int8
	Int32
)

func (d DType) String() string {
	switch d {
	case UInt8:
		return "uint8"
	case Int8:
		return "int8"
	case Int32:
		return "int32"
	}
	return "unknown"
}

// Range returns the smallest and largest raw value representable in d.
func (d DType) Range() (lo, hi int64) {
	switch d {
	case UInt8:
		return 0, 255
	case Int8:
		return -128, 127
	default:
		return -2147483648, 2147483647
	}
}

// Clamp saturates raw to the range of d.
func (d DType) Clamp(raw int64) int64 {
	lo, hi := d.Range()
	return max(lo, min(hi, raw))
}

// Params is a per-tensor quantization descriptor.
type Params struct {
	Scale     float32
	ZeroPoint int64
	DType     DType
}

// Validate checks that the scale is usable and the zero point representable.
func (p Params) Validate() error {
	if !(p.Scale > 0) || math32.IsInf(p.Scale, 0) {
		return errors.Errorf("quantization scale must be positive and finite, got %g", p.Scale)
	}
	if p.DType.Clamp(p.ZeroPoint) != p.ZeroPoint {
		return errors.Errorf("zero point %d is not representable in %s", p.ZeroPoint, p.DType)
	}
	return nil
}

// Dequantize converts a raw integer to its real value.
func Dequantize(raw int64, p Params) float32 {
	return float32(raw-p.ZeroPoint) * p.Scale
}

// Quantize converts a real value to its raw integer representation, rounding half to
// even and saturating to the range of p.DType.
func Quantize(value float32, p Params) int64 {
	scaled := value / p.Scale
	if math32.IsNaN(scaled) {
		return p.DType.Clamp(p.ZeroPoint)
	}
	rounded := RoundHalfEven(scaled)
	lo, hi := p.DType.Range()
	// Saturate before converting, out of range floats have no defined int64 value.
	if rounded+float32(p.ZeroPoint) <= float32(lo) {
		return lo
	}
	if rounded+float32(p.ZeroPoint) >= float32(hi) {
		return hi
	}
	return p.DType.Clamp(int64(rounded) + p.ZeroPoint)
}

// RoundHalfEven rounds x to the nearest integer, ties to even.
func RoundHalfEven(x float32) float32 {
	floor := math32.Floor(x)
	diff := x - floor
	switch {
	case diff < 0.5:
		return floor
	case diff > 0.5:
		return floor + 1
	}
	if math32.Mod(floor, 2) == 0 {
		return floor
	}
	return floor + 1
}

// DequantizeSlice dequantizes a slice of raw values.
func DequantizeSlice[T int8 | uint8 | int32 | int64](raw []T, p Params) []float32 {
	values := make([]float32, len(raw))
	for i, r := range raw {
		values[i] = Dequantize(int64(r), p)
	}
	return values
}

// QuantizeSlice quantizes a slice of real values.
func QuantizeSlice(values []float32, p Params) []int64 {
	raw := make([]int64, len(values))
	for i, v := range values {
		raw[i] = Quantize(v, p)
	}
	return raw
}
