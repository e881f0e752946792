package onnxtotorch

import (
	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/rewrite"
	"github.com/gomlx/onnx-torch/torch"
	"github.com/pkg/errors"
)

// qlinearUnary holds the bound operands of the single-input QLinear operators:
// x, x_scale, x_zero_point, y_scale, y_zero_point.
type qlinearUnary struct {
	x          *ir.Value // Dequantized input (f32).
	xType      torch.ValueTensorType
	y          QuantParams
	resultType torch.ValueTensorType
}

// bindQLinearUnary validates the 5 operands of a single input QLinear operator, then
// emits the extraction of the quantization parameters and the dequantization of x.
func bindQLinearUnary(b *OpBinder, rw *rewrite.Rewriter) (q qlinearUnary, err error) {
	operands, err := b.TensorOperandsList()
	if err != nil {
		return q, err
	}
	if len(operands) != 5 {
		return q, errors.Errorf("unimplemented arity: expected 5 operands, got %d", len(operands))
	}
	if q.resultType, err = b.TensorResultType(); err != nil {
		return q, err
	}
	if err = checkPerTensorQuantization(operands[1], operands[2]); err != nil {
		return q, err
	}
	if err = checkPerTensorQuantization(operands[3], operands[4]); err != nil {
		return q, err
	}
	if _, err = checkDequantizable(operands[0]); err != nil {
		return q, errors.WithMessage(err, "input x")
	}
	if _, _, err = checkRequantizable(q.resultType); err != nil {
		return q, err
	}
	q.xType, _ = torch.AsValueTensor(operands[0].Type())

	xParams, err := extractPerTensorQuantization(rw, operands[1], operands[2])
	if err != nil {
		return q, err
	}
	if q.y, err = extractPerTensorQuantization(rw, operands[3], operands[4]); err != nil {
		return q, err
	}
	q.x, err = dequantize(rw, operands[0], xParams)
	return q, err
}

// convertQLinearBinary lowers QLinearAdd and QLinearMul: dequantize both inputs, apply
// the float operation, requantize to the declared result type.
func convertQLinearBinary(b *OpBinder, rw *rewrite.Rewriter, emit func(rw *rewrite.Rewriter, resultType ir.Type, a, b *ir.Value) *ir.Value) error {
	op := b.Op()
	operands, err := b.TensorOperandsList()
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	if len(operands) != 8 {
		return rw.NotifyMatchFailure(op, "unimplemented arity: expected 8 operands, got %d", len(operands))
	}
	resultType, err := b.TensorResultType()
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	for _, pair := range [][2]int{{1, 2}, {4, 5}, {6, 7}} {
		if err := checkPerTensorQuantization(operands[pair[0]], operands[pair[1]]); err != nil {
			return rw.NotifyMatchFailure(op, "incompatible arguments for per-tensor quantization: %v", err)
		}
	}
	for _, name := range []struct {
		idx  int
		name string
	}{{0, "a"}, {3, "b"}} {
		if _, err := checkDequantizable(operands[name.idx]); err != nil {
			return rw.NotifyMatchFailure(op, "failed to dequantize input %q: %v", name.name, err)
		}
	}
	if _, _, err := checkRequantizable(resultType); err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}

	aParams, _ := extractPerTensorQuantization(rw, operands[1], operands[2])
	bParams, _ := extractPerTensorQuantization(rw, operands[4], operands[5])
	cParams, _ := extractPerTensorQuantization(rw, operands[6], operands[7])
	lhs, _ := dequantize(rw, operands[0], aParams)
	rhs, _ := dequantize(rw, operands[3], bParams)
	c := emit(rw, f32Like(resultType), lhs, rhs)
	if err := requantize(rw, op, resultType, c, cParams); err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	return nil
}

func convertQLinearAdd(b *OpBinder, rw *rewrite.Rewriter) error {
	return convertQLinearBinary(b, rw, func(rw *rewrite.Rewriter, resultType ir.Type, lhs, rhs *ir.Value) *ir.Value {
		alpha := torch.ConstantFloat(rw, 1.0)
		return torch.Op(rw, torch.AtenAddTensor, resultType, lhs, rhs, alpha)
	})
}

func convertQLinearMul(b *OpBinder, rw *rewrite.Rewriter) error {
	return convertQLinearBinary(b, rw, func(rw *rewrite.Rewriter, resultType ir.Type, lhs, rhs *ir.Value) *ir.Value {
		return torch.Op(rw, torch.AtenMulTensor, resultType, lhs, rhs)
	})
}

func convertQLinearLeakyRelu(b *OpBinder, rw *rewrite.Rewriter) error {
	op := b.Op()
	alpha, err := b.F32FloatAttr("alpha", 0.01)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	q, err := bindQLinearUnary(b, rw)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	y := torch.Op(rw, torch.AtenLeakyRelu, f32Like(q.resultType), q.x, torch.ConstantFloat(rw, float64(alpha)))
	if err := requantize(rw, op, q.resultType, y, q.y); err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	return nil
}

func convertQLinearSigmoid(b *OpBinder, rw *rewrite.Rewriter) error {
	op := b.Op()
	q, err := bindQLinearUnary(b, rw)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	y := torch.Op(rw, torch.AtenSigmoid, f32Like(q.resultType), q.x)
	if err := requantize(rw, op, q.resultType, y, q.y); err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	return nil
}

// convertQLinearConcat lowers QLinearConcat, whose operands are
// y_scale, y_zero_point followed by (x_i, x_scale_i, x_zero_point_i) for each input.
func convertQLinearConcat(b *OpBinder, rw *rewrite.Rewriter) error {
	op := b.Op()
	operands, err := b.TensorOperandsList()
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	axis, err := b.RequiredS64IntegerAttr("axis")
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	resultType, err := b.TensorResultType()
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	if len(operands) < 5 || (len(operands)-2)%3 != 0 {
		return rw.NotifyMatchFailure(op, "incompatible number of inputs, scales and zero points: %d operands is not 2+3k", len(operands))
	}
	numInputs := (len(operands) - 2) / 3
	if err := checkPerTensorQuantization(operands[0], operands[1]); err != nil {
		return rw.NotifyMatchFailure(op, "incompatible output scale and zero point: %v", err)
	}
	for i := range numInputs {
		base := 2 + 3*i
		if err := checkPerTensorQuantization(operands[base+1], operands[base+2]); err != nil {
			return rw.NotifyMatchFailure(op, "incompatible scale and zero point of input #%d: %v", i, err)
		}
		if _, err := checkDequantizable(operands[base]); err != nil {
			return rw.NotifyMatchFailure(op, "failed to dequantize input #%d: %v", i, err)
		}
	}
	if _, _, err := checkRequantizable(resultType); err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}

	dequantized := make([]*ir.Value, numInputs)
	for i := range numInputs {
		base := 2 + 3*i
		params, _ := extractPerTensorQuantization(rw, operands[base+1], operands[base+2])
		dequantized[i], _ = dequantize(rw, operands[base], params)
	}
	list := torch.ListConstruct(rw, torch.ValueTensorType{}, dequantized...)
	concat := torch.Op(rw, torch.AtenCat, f32Like(resultType), list, torch.ConstantInt(rw, axis))
	yParams, _ := extractPerTensorQuantization(rw, operands[0], operands[1])
	if err := requantize(rw, op, resultType, concat, yParams); err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	return nil
}

// avgPoolArgs are the operands of aten.avg_pool{1,2,3}d after the input.
type avgPoolArgs struct {
	kernel, strides, padding  []*ir.Value
	ceilMode, countIncludePad bool
}

// emitAvgPool emits the aten.avg_pool op matching the rank of x (3, 4 or 5). It
// returns nil for other ranks.
func emitAvgPool(rw *rewrite.Rewriter, x *ir.Value, rank int, resultType ir.Type, args avgPoolArgs) *ir.Value {
	var name string
	switch rank {
	case 3:
		name = torch.AtenAvgPool1d
	case 4:
		name = torch.AtenAvgPool2d
	case 5:
		name = torch.AtenAvgPool3d
	default:
		return nil
	}
	operands := []*ir.Value{
		x,
		torch.ListConstruct(rw, torch.IntType, args.kernel...),
		torch.ListConstruct(rw, torch.IntType, args.strides...),
		torch.ListConstruct(rw, torch.IntType, args.padding...),
		torch.ConstantBool(rw, args.ceilMode),
		torch.ConstantBool(rw, args.countIncludePad),
	}
	if rank > 3 {
		// divisor_override
		operands = append(operands, torch.ConstantNone(rw))
	}
	return torch.Op(rw, name, resultType, operands...)
}

// convertQLinearGlobalAveragePool lowers QLinearGlobalAveragePool to an average pool whose
// kernel covers the spatial dimensions of the input.
func convertQLinearGlobalAveragePool(b *OpBinder, rw *rewrite.Rewriter) error {
	op := b.Op()
	if _, err := b.TensorOperands(5); err != nil {
		return rw.NotifyMatchFailure(op, "unimplemented arity: %v", err)
	}
	channelsLast, err := b.S64IntegerAttr("channels_last", 0)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	if channelsLast != 0 {
		return rw.NotifyMatchFailure(op, "unimplemented: channels_last is not supported")
	}
	resultType, err := b.TensorResultType()
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	xType, _ := torch.AsValueTensor(op.Operand(0).Type())
	if !xType.HasSizes() {
		return rw.NotifyMatchFailure(op, "expected input x to have sizes, got %s", xType)
	}
	if !resultType.HasSizes() || resultType.Rank() != xType.Rank() {
		return rw.NotifyMatchFailure(op, "expected a result type with the rank of the input, got %s", resultType)
	}
	rank := xType.Rank()
	if rank < 3 || rank > 5 {
		return rw.NotifyMatchFailure(op, "unimplemented: input rank %d, only ranks 3 to 5 are supported", rank)
	}

	q, err := bindQLinearUnary(b, rw)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	cstZero := torch.ConstantInt(rw, 0)
	cstOne := torch.ConstantInt(rw, 1)
	var args avgPoolArgs
	for axis := 2; axis < rank; axis++ {
		if xType.Sizes[axis] == ir.DynamicSize {
			args.kernel = append(args.kernel,
				torch.Op(rw, torch.AtenSizeInt, torch.IntType, q.x, torch.ConstantInt(rw, int64(axis))))
		} else {
			args.kernel = append(args.kernel, torch.ConstantInt(rw, xType.Sizes[axis]-resultType.Sizes[axis]+1))
		}
		args.padding = append(args.padding, cstZero)
		args.strides = append(args.strides, cstOne)
	}
	pooled := emitAvgPool(rw, q.x, rank, f32Like(resultType), args)
	if err := requantize(rw, op, resultType, pooled, q.y); err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	return nil
}

// convertQLinearAveragePool dequantizes the input and delegates the pooling to a new
// onnx.AveragePool operator, which the default domain rule lowers later in the same pass.
func convertQLinearAveragePool(b *OpBinder, rw *rewrite.Rewriter) error {
	op := b.Op()
	channelsLast, err := b.S64IntegerAttr("channels_last", 0)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	if channelsLast != 0 {
		return rw.NotifyMatchFailure(op, "unimplemented: channels_last is not supported")
	}
	q, err := bindQLinearUnary(b, rw)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	var attrs []ir.NamedAttr
	for _, na := range b.OnnxAttrs() {
		if na.Name != torch.OnnxAttrPrefix+"channels_last" {
			attrs = append(attrs, na)
		}
	}
	pool := torch.OnnxOperator(rw, "AveragePool", []*ir.Value{q.x}, []ir.Type{f32Like(q.resultType)}, attrs...)
	if err := requantize(rw, op, q.resultType, pool.Result(0), q.y); err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	return nil
}
