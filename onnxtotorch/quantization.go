package onnxtotorch

import (
	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/rewrite"
	"github.com/gomlx/onnx-torch/torch"
	"github.com/pkg/errors"
)

// QuantParams is a per-tensor quantization descriptor, extracted as Torch scalars:
// Scale is a !torch.float and ZeroPoint a !torch.int.
type QuantParams struct {
	Scale, ZeroPoint *ir.Value
}

// isPerTensor reports whether t is ranked with every dimension equal to 1 (rank 0 included).
func isPerTensor(t torch.ValueTensorType) bool {
	if !t.HasSizes() {
		return false
	}
	for _, d := range t.Sizes {
		if d != 1 {
			return false
		}
	}
	return true
}

// checkPerTensorQuantization validates the scale and zero point tensors without
// emitting anything.
func checkPerTensorQuantization(scale, zeroPoint *ir.Value) error {
	scaleType, _ := torch.AsValueTensor(scale.Type())
	zpType, _ := torch.AsValueTensor(zeroPoint.Type())
	if !isPerTensor(scaleType) || !isPerTensor(zpType) {
		return errors.Errorf("per-tensor quantization requires single element scale and zero point, got %s and %s",
			scaleType, zpType)
	}
	if err := checkPerTensorScale(scale); err != nil {
		return err
	}
	if zpType.HasDtype() && !ir.IsInteger(zpType.Dtype) {
		return errors.Errorf("quantization zero point must be an integer tensor, got %s", zpType)
	}
	return nil
}

// checkPerTensorScale validates a scale used without an explicit zero point.
func checkPerTensorScale(scale *ir.Value) error {
	scaleType, _ := torch.AsValueTensor(scale.Type())
	if !isPerTensor(scaleType) {
		return errors.Errorf("per-tensor quantization requires a single element scale, got %s", scaleType)
	}
	if scaleType.HasDtype() && !ir.IsFloat(scaleType.Dtype) {
		return errors.Errorf("quantization scale must be a float tensor, got %s", scaleType)
	}
	return nil
}

// extractPerTensorQuantization reshapes single element scale and zero point tensors to
// rank 0 and extracts them as Torch scalars with aten.item.
func extractPerTensorQuantization(rw *rewrite.Rewriter, scale, zeroPoint *ir.Value) (QuantParams, error) {
	if err := checkPerTensorQuantization(scale, zeroPoint); err != nil {
		return QuantParams{}, err
	}
	var emptyList *ir.Value
	extract := func(v *ir.Value, scalarType ir.Type) *ir.Value {
		vt, _ := torch.AsValueTensor(v.Type())
		if len(vt.Sizes) > 0 {
			if emptyList == nil {
				emptyList = torch.ListConstruct(rw, torch.IntType)
			}
			v = torch.Op(rw, torch.AtenReshape, vt.WithSizesAndDtype([]int64{}, vt.Dtype), v, emptyList)
		}
		return torch.Op(rw, torch.AtenItem, scalarType, v)
	}
	return QuantParams{
		Scale:     extract(scale, torch.FloatType),
		ZeroPoint: extract(zeroPoint, torch.IntType),
	}, nil
}

// checkDequantizable validates that a raw tensor can be dequantized.
func checkDequantizable(input *ir.Value) (torch.ValueTensorType, error) {
	inputType, _ := torch.AsValueTensor(input.Type())
	if !inputType.HasSizes() {
		return inputType, errors.Errorf("cannot dequantize %s: missing sizes", inputType)
	}
	qType, ok := torch.QuantizedTensorType(inputType)
	if !ok {
		return inputType, errors.Errorf("cannot dequantize %s: only ui8, si8 and si32 are supported", inputType)
	}
	return qType, nil
}

// dequantize emits `dequantize(_make_per_tensor_quantized_tensor(input, scale, zp))`,
// producing an f32 tensor with the sizes of input.
func dequantize(rw *rewrite.Rewriter, input *ir.Value, q QuantParams) (*ir.Value, error) {
	qType, err := checkDequantizable(input)
	if err != nil {
		return nil, err
	}
	quantized := torch.Op(rw, torch.AtenMakePerTensorQ, qType, input, q.Scale, q.ZeroPoint)
	return torch.Op(rw, torch.AtenDequantizeSelf, qType.WithDtype(ir.F32), quantized), nil
}

// checkRequantizable validates the declared integer result type of a quantized operator.
func checkRequantizable(resultType torch.ValueTensorType) (torch.ValueTensorType, torch.ScalarType, error) {
	qType, ok := torch.QuantizedTensorType(resultType)
	if !ok {
		return qType, 0, errors.Errorf("unsupported quantized result type %s: only ui8, si8 and si32 are supported", resultType)
	}
	scalarType, err := torch.ScalarTypeOf(qType.Dtype)
	return qType, scalarType, err
}

// requantize replaces op with `int_repr(quantize_per_tensor(value, scale, zp, dtype))`,
// where dtype is the quantized counterpart of the declared result type.
func requantize(rw *rewrite.Rewriter, op *ir.Operation, resultType torch.ValueTensorType, value *ir.Value, q QuantParams) error {
	qType, scalarType, err := checkRequantizable(resultType)
	if err != nil {
		return err
	}
	dtype := torch.ConstantInt(rw, int64(scalarType))
	quantized := torch.Op(rw, torch.AtenQuantizePerTens, qType, value, q.Scale, q.ZeroPoint, dtype)
	rw.ReplaceOpWithNewOp(op, torch.AtenIntRepr, []*ir.Value{quantized}, []ir.Type{resultType})
	return nil
}

// f32Like returns an f32 vtensor with the (optional) sizes of t.
func f32Like(t torch.ValueTensorType) torch.ValueTensorType {
	return t.WithDtype(ir.F32)
}
