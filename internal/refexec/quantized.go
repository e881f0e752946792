package refexec

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph" //nolint
	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/quant"
)

// storageDType returns the quantized type stored in a raw integer tensor.
func storageDType(dtype dtypes.DType) quant.DType {
	switch dtype {
	case dtypes.Uint8:
		return quant.UInt8
	case dtypes.Int8:
		return quant.Int8
	case dtypes.Int32:
		return quant.Int32
	}
	exceptions.Panicf("dtype %s can't store quantized values", dtype)
	return 0
}

func evalMakePerTensorQuantized(s *state, _ *ir.Operation, operands []value) []value {
	raw := s.tensor(operands[0])
	return []value{&quantized{
		raw:       raw,
		scale:     operands[1],
		zeroPoint: operands[2],
		dtype:     storageDType(raw.DType()),
	}}
}

func asQuantized(v value) *quantized {
	q, ok := v.(*quantized)
	if !ok {
		exceptions.Panicf("expected a quantized tensor, got %T", v)
	}
	return q
}

// evalDequantize computes (raw - zeroPoint) * scale in float32.
func evalDequantize(s *state, _ *ir.Operation, operands []value) []value {
	q := asQuantized(operands[0])
	x := ConvertDType(q.raw, dtypes.Float32)
	zeroPoint := ConvertDType(s.scalar(q.zeroPoint, dtypes.Int64), dtypes.Float32)
	scale := s.scalar(q.scale, dtypes.Float32)
	x = Sub(x, BroadcastToDims(zeroPoint, x.Shape().Dimensions...))
	return one(Mul(x, BroadcastToDims(scale, x.Shape().Dimensions...)))
}

// evalQuantizePerTensor rounds x/scale half to even, adds the zero point and saturates to
// the range of the quantized type, like quant.Quantize.
func evalQuantizePerTensor(s *state, _ *ir.Operation, operands []value) []value {
	qdtype, dtype := quantDType(staticInt(operands[3]))
	x := ConvertDType(s.tensor(operands[0]), dtypes.Float32)
	dims := x.Shape().Dimensions
	scale := BroadcastToDims(s.scalar(operands[1], dtypes.Float32), dims...)
	zeroPoint := BroadcastToDims(ConvertDType(s.scalar(operands[2], dtypes.Int64), dtypes.Float32), dims...)
	lo, hi := qdtype.Range()
	rounded := Add(roundHalfEven(Div(x, scale)), zeroPoint)
	clamped := Min(Max(rounded, BroadcastToDims(Scalar(s.g, dtypes.Float32, lo), dims...)),
		BroadcastToDims(Scalar(s.g, dtypes.Float32, hi), dims...))
	return []value{&quantized{
		raw:       ConvertDType(clamped, dtype),
		scale:     operands[1],
		zeroPoint: operands[2],
		dtype:     qdtype,
	}}
}

func evalIntRepr(_ *state, _ *ir.Operation, operands []value) []value {
	return one(asQuantized(operands[0]).raw)
}
