package onnxtotorch

import (
	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/rewrite"
	"github.com/gomlx/onnx-torch/torch"
)

// populateDefaultDomain registers the default (ai.onnx) domain operators produced by the
// com.microsoft rules, and the quantization operators they mirror.
func populateDefaultDomain(r *Registry) {
	r.OnOp("AveragePool", 1, convertAveragePool)
	r.OnOp("DequantizeLinear", 10, convertDequantizeLinear)
	r.OnOp("QuantizeLinear", 10, convertQuantizeLinear)
}

func convertAveragePool(b *OpBinder, rw *rewrite.Rewriter) error {
	op := b.Op()
	x, err := b.TensorOperand(0)
	if err != nil || b.NumOperands() != 1 {
		return rw.NotifyMatchFailure(op, "unimplemented arity: expected 1 operand, got %d", b.NumOperands())
	}
	resultType, err := b.TensorResultType()
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	autoPad, err := b.StringAttr("auto_pad", "NOTSET")
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	if autoPad != "NOTSET" {
		return rw.NotifyMatchFailure(op, "unimplemented: auto_pad=%q, only NOTSET is supported", autoPad)
	}
	kernelShape, err := b.S64IntegerArrayAttr("kernel_shape", nil)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	if len(kernelShape) == 0 {
		return rw.NotifyMatchFailure(op, "missing required attribute \"kernel_shape\"")
	}
	xType, _ := torch.AsValueTensor(x.Type())
	rank := xType.Rank()
	spatial := len(kernelShape)
	if rank != spatial+2 {
		return rw.NotifyMatchFailure(op, "kernel_shape has %d axes, but input %s needs %d", spatial, xType, rank-2)
	}
	if rank < 3 || rank > 5 {
		return rw.NotifyMatchFailure(op, "unimplemented: input rank %d, only ranks 3 to 5 are supported", rank)
	}
	strides, err := b.S64IntegerArrayAttr("strides", nil)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	if strides == nil {
		strides = make([]int64, spatial)
		for i := range strides {
			strides[i] = 1
		}
	} else if len(strides) != spatial {
		return rw.NotifyMatchFailure(op, "strides has %d axes, expected %d", len(strides), spatial)
	}
	pads, err := b.S64IntegerArrayAttr("pads", nil)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	if pads == nil {
		pads = make([]int64, 2*spatial)
	} else if len(pads) != 2*spatial {
		return rw.NotifyMatchFailure(op, "pads has %d values, expected %d", len(pads), 2*spatial)
	}
	for i := range spatial {
		if pads[i] != pads[i+spatial] {
			return rw.NotifyMatchFailure(op, "unimplemented: asymmetric padding %v", pads)
		}
	}
	ceilMode, err := b.S64BoolAttr("ceil_mode", false)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	countIncludePad, err := b.S64BoolAttr("count_include_pad", false)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}

	args := avgPoolArgs{ceilMode: ceilMode, countIncludePad: countIncludePad}
	for i := range spatial {
		args.kernel = append(args.kernel, torch.ConstantInt(rw, kernelShape[i]))
		args.strides = append(args.strides, torch.ConstantInt(rw, strides[i]))
		args.padding = append(args.padding, torch.ConstantInt(rw, pads[i]))
	}
	pooled := emitAvgPool(rw, x, rank, resultType, args)
	rw.ReplaceOp(op, []*ir.Value{pooled})
	return nil
}

// convertDequantizeLinear lowers per-tensor DequantizeLinear. A missing zero point is 0.
func convertDequantizeLinear(b *OpBinder, rw *rewrite.Rewriter) error {
	op := b.Op()
	if b.NumOperands() < 2 || b.NumOperands() > 3 {
		return rw.NotifyMatchFailure(op, "unimplemented arity: expected 2 or 3 operands, got %d", b.NumOperands())
	}
	x, err := b.TensorOperand(0)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	scale, err := b.TensorOperand(1)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	zeroPoint, err := b.OptionalTensorOperand(2)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	resultType, err := b.TensorResultType()
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	if _, err := checkDequantizable(x); err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	if zeroPoint != nil {
		err = checkPerTensorQuantization(scale, zeroPoint)
	} else {
		err = checkPerTensorScale(scale)
	}
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}

	if zeroPoint == nil {
		zeroPoint = zeroTensor(rw, ir.SI64)
	}
	params, _ := extractPerTensorQuantization(rw, scale, zeroPoint)
	value, _ := dequantize(rw, x, params)
	if resultType.HasDtype() && !ir.TypesEqual(resultType.Dtype, ir.F32) {
		scalarType, err := torch.ScalarTypeOf(resultType.Dtype)
		if err != nil {
			return rw.NotifyMatchFailure(op, "%v", err)
		}
		cstFalse := torch.ConstantBool(rw, false)
		value = torch.Op(rw, torch.AtenToDtype, resultType, value,
			torch.ConstantInt(rw, int64(scalarType)), cstFalse, cstFalse, torch.ConstantNone(rw))
	} else if !ir.TypesEqual(value.Type(), resultType) {
		value.SetType(resultType)
	}
	rw.ReplaceOp(op, []*ir.Value{value})
	return nil
}

// zeroTensor creates a scalar literal 0 of the given integer dtype, the default zero point.
func zeroTensor(rw *rewrite.Rewriter, dtype ir.Type) *ir.Value {
	dense := ir.DenseElementsAttr{Type: ir.RankedTensor(dtype), Ints: []int64{0}}
	return rw.Create(torch.VTensorLiteral, nil, []ir.Type{torch.VTensor(dtype)}, ir.NamedAttr{Name: torch.ValueAttr, Value: dense}).Result(0)
}

// convertQuantizeLinear lowers per-tensor QuantizeLinear to quantize_per_tensor + int_repr.
// A missing zero point is a ui8 0.
func convertQuantizeLinear(b *OpBinder, rw *rewrite.Rewriter) error {
	op := b.Op()
	if b.NumOperands() < 2 || b.NumOperands() > 3 {
		return rw.NotifyMatchFailure(op, "unimplemented arity: expected 2 or 3 operands, got %d", b.NumOperands())
	}
	x, err := b.TensorOperand(0)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	scale, err := b.TensorOperand(1)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	zeroPoint, err := b.OptionalTensorOperand(2)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	resultType, err := b.TensorResultType()
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	if zeroPoint != nil {
		err = checkPerTensorQuantization(scale, zeroPoint)
	} else {
		err = checkPerTensorScale(scale)
	}
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	if _, _, err := checkRequantizable(resultType); err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	if zeroPoint == nil {
		zeroPoint = zeroTensor(rw, ir.UI8)
	}
	params, _ := extractPerTensorQuantization(rw, scale, zeroPoint)
	if err := requantize(rw, op, resultType, x, params); err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	return nil
}
