package refexec

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph" //nolint
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/torch"
	"github.com/gomlx/onnx-torch/torchconversion"
)

// handler evaluates one operation given the values of its operands.
type handler func(s *state, op *ir.Operation, operands []value) []value

var handlers map[string]handler

func init() {
	handlers = map[string]handler{
		torch.ConstantIntOp:   evalConstant,
		torch.ConstantFloatOp: evalConstant,
		torch.ConstantBoolOp:  evalConstant,
		torch.ConstantStrOp:   evalConstant,
		torch.ConstantNoneOp:  func(*state, *ir.Operation, []value) []value { return []value{none{}} },
		torch.ListConstructOp: func(_ *state, _ *ir.Operation, operands []value) []value { return []value{operands} },
		torch.VTensorLiteral:  evalLiteral,

		torch.AtenItem:      evalItem,
		torch.AtenTensorInt: evalTensorInt,
		torch.AtenToDtype:   evalToDtype,
		torch.AtenSizeInt:   evalSizeInt,
		torch.AtenGtInt:     scalarComparison(func(a, b int64) bool { return a > b }, GreaterThan),
		torch.AtenNeInt:     scalarComparison(func(a, b int64) bool { return a != b }, NotEqual),
		torch.AtenAndBool:   evalAndBool,
		torch.AtenIntBool:   evalIntBool,

		torch.AtenAddScalar: scalarArithmetic(Add),
		torch.AtenSubScalar: scalarArithmetic(Sub),
		torch.AtenAddTensor: evalAddTensor,
		torch.AtenMulTensor: tensorBinary(Mul),
		torch.AtenLtTensor:  tensorBinary(LessThan),
		torch.AtenMatmul:    func(s *state, _ *ir.Operation, o []value) []value { return one(MatMul(s.tensor(o[0]), s.tensor(o[1]))) },
		torch.AtenSigmoid:   func(s *state, _ *ir.Operation, o []value) []value { return one(Sigmoid(s.tensor(o[0]))) },
		torch.AtenLeakyRelu: evalLeakyRelu,
		torch.AtenWhereSelf: evalWhere,

		torch.AtenTransposeInt: evalTranspose,
		torch.AtenReshape:      evalReshape,
		torch.AtenView:         evalReshape,
		torch.AtenArange:       evalArange,
		torch.AtenRepeat:       evalRepeat,
		torch.AtenFull:         evalFull,
		torch.AtenCat:          evalCat,

		torch.AtenMakePerTensorQ:  evalMakePerTensorQuantized,
		torch.AtenDequantizeSelf:  evalDequantize,
		torch.AtenQuantizePerTens: evalQuantizePerTensor,
		torch.AtenIntRepr:         evalIntRepr,

		torchconversion.ExtFOp:   evalFloatCast,
		torchconversion.TruncFOp: evalFloatCast,
	}
	// Bridges between Torch and builtin types don't change values.
	for _, name := range torchconversion.MaterializationOps {
		handlers[name] = func(_ *state, _ *ir.Operation, operands []value) []value { return operands[:1] }
	}
}

func one(n *Node) []value { return []value{n} }

func evalConstant(_ *state, op *ir.Operation, _ []value) []value {
	attr, _ := op.Attr(torch.ValueAttr)
	switch a := attr.(type) {
	case ir.IntegerAttr:
		if ir.TypesEqual(a.Type, ir.I1) {
			return []value{a.Value != 0}
		}
		return []value{a.Value}
	case ir.FloatAttr:
		return []value{a.Value}
	case ir.BoolAttr:
		return []value{bool(a)}
	case ir.StringAttr:
		return []value{string(a)}
	}
	exceptions.Panicf("unsupported constant attribute %v", attr)
	return nil
}

func evalLiteral(s *state, op *ir.Operation, _ []value) []value {
	attr, _ := op.Attr(torch.ValueAttr)
	dense, ok := attr.(ir.DenseElementsAttr)
	if !ok {
		exceptions.Panicf("literal value must be dense elements, got %v", attr)
	}
	dtype, ok := DType(dense.Type.Elem)
	if !ok {
		exceptions.Panicf("unsupported literal element type %s", dense.Type.Elem)
	}
	dims := make([]int, len(dense.Type.Shape))
	for i, d := range dense.Type.Shape {
		dims[i] = int(d)
	}
	var t *tensors.Tensor
	if ir.IsFloat(dense.Type.Elem) {
		t = tensors.FromFlatDataAndDimensions(dense.Floats, dims...)
	} else {
		t = tensors.FromFlatDataAndDimensions(dense.Ints, dims...)
	}
	n := Const(s.g, t)
	if dtype == dtypes.Bool {
		return one(NotEqual(n, ZerosLike(n)))
	}
	return one(ConvertDType(n, dtype))
}

// evalItem extracts the single element of a tensor as a Torch scalar: !torch.int values
// are int64, !torch.float values float64.
func evalItem(s *state, op *ir.Operation, operands []value) []value {
	x := s.tensor(operands[0])
	if x.Shape().Size() != 1 {
		exceptions.Panicf("item() of tensor with %d elements", x.Shape().Size())
	}
	x = Reshape(x)
	switch op.Result(0).Type() {
	case torch.FloatType:
		return one(ConvertDType(x, dtypes.Float64))
	case torch.BoolType:
		return one(ConvertDType(x, dtypes.Bool))
	}
	return one(ConvertDType(x, dtypes.Int64))
}

func evalTensorInt(s *state, _ *ir.Operation, operands []value) []value {
	dtype := dtypes.Int64
	if !isNone(operands[1]) {
		dtype = scalarTypeDType(staticInt(operands[1]))
	}
	return one(s.scalar(operands[0], dtype))
}

func evalToDtype(s *state, _ *ir.Operation, operands []value) []value {
	return one(ConvertDType(s.tensor(operands[0]), scalarTypeDType(staticInt(operands[1]))))
}

func evalSizeInt(s *state, _ *ir.Operation, operands []value) []value {
	x := s.tensor(operands[0])
	axis := normalizeAxis(staticInt(operands[1]), x.Rank())
	return []value{int64(x.Shape().Dim(axis))}
}

// scalarComparison compares two Torch ints, statically if both are constants.
func scalarComparison(static func(a, b int64) bool, dynamic func(x, y *Node) *Node) handler {
	return func(s *state, _ *ir.Operation, operands []value) []value {
		a, aStatic := operands[0].(int64)
		b, bStatic := operands[1].(int64)
		if aStatic && bStatic {
			return []value{static(a, b)}
		}
		return one(dynamic(s.scalar(operands[0], dtypes.Int64), s.scalar(operands[1], dtypes.Int64)))
	}
}

func evalAndBool(s *state, _ *ir.Operation, operands []value) []value {
	a, aStatic := operands[0].(bool)
	b, bStatic := operands[1].(bool)
	if aStatic && bStatic {
		return []value{a && b}
	}
	return one(LogicalAnd(s.scalar(operands[0], dtypes.Bool), s.scalar(operands[1], dtypes.Bool)))
}

func evalIntBool(s *state, _ *ir.Operation, operands []value) []value {
	if b, ok := operands[0].(bool); ok {
		return []value{staticInt(b)}
	}
	return one(s.scalar(operands[0], dtypes.Int64))
}

// scalarArithmetic implements `x op other*alpha` for a tensor x and Torch scalars.
func scalarArithmetic(fn func(x, y *Node) *Node) handler {
	return func(s *state, _ *ir.Operation, operands []value) []value {
		x := s.tensor(operands[0])
		other := Mul(s.scalar(operands[1], x.DType()), s.scalar(operands[2], x.DType()))
		return one(fn(x, BroadcastToDims(other, x.Shape().Dimensions...)))
	}
}

func evalAddTensor(s *state, _ *ir.Operation, operands []value) []value {
	x, y := s.tensor(operands[0]), s.tensor(operands[1])
	if y.DType() != x.DType() {
		y = ConvertDType(y, x.DType())
	}
	y = Mul(y, s.scalar(operands[2], x.DType()))
	b := broadcast(x, y)
	return one(Add(b[0], b[1]))
}

// tensorBinary applies fn to two broadcast tensors; the second is converted to the dtype
// of the first.
func tensorBinary(fn func(x, y *Node) *Node) handler {
	return func(s *state, _ *ir.Operation, operands []value) []value {
		x, y := s.tensor(operands[0]), s.tensor(operands[1])
		if y.DType() != x.DType() {
			y = ConvertDType(y, x.DType())
		}
		b := broadcast(x, y)
		return one(fn(b[0], b[1]))
	}
}

func evalLeakyRelu(s *state, _ *ir.Operation, operands []value) []value {
	x := s.tensor(operands[0])
	slope := BroadcastToDims(s.scalar(operands[1], x.DType()), x.Shape().Dimensions...)
	return one(Where(GreaterOrEqual(x, ZerosLike(x)), x, Mul(x, slope)))
}

func evalWhere(s *state, _ *ir.Operation, operands []value) []value {
	cond, onTrue, onFalse := s.tensor(operands[0]), s.tensor(operands[1]), s.tensor(operands[2])
	if onFalse.DType() != onTrue.DType() {
		onFalse = ConvertDType(onFalse, onTrue.DType())
	}
	b := broadcast(cond, onTrue, onFalse)
	return one(Where(b[0], b[1], b[2]))
}

func evalTranspose(s *state, _ *ir.Operation, operands []value) []value {
	x := s.tensor(operands[0])
	dimA := normalizeAxis(staticInt(operands[1]), x.Rank())
	dimB := normalizeAxis(staticInt(operands[2]), x.Rank())
	permutation := make([]int, x.Rank())
	for axis := range permutation {
		permutation[axis] = axis
	}
	permutation[dimA], permutation[dimB] = dimB, dimA
	return one(TransposeAllDims(x, permutation...))
}

// evalReshape implements aten.reshape and aten.view, inferring a -1 size.
func evalReshape(s *state, _ *ir.Operation, operands []value) []value {
	x := s.tensor(operands[0])
	dims := staticInts(operands[1])
	inferred, known := -1, 1
	for axis, d := range dims {
		if d == -1 {
			if inferred >= 0 {
				exceptions.Panicf("only one size can be inferred, got %v", dims)
			}
			inferred = axis
			continue
		}
		known *= d
	}
	if inferred >= 0 {
		if known == 0 || x.Shape().Size()%known != 0 {
			exceptions.Panicf("shape %v is invalid for input of size %d", dims, x.Shape().Size())
		}
		dims[inferred] = x.Shape().Size() / known
	}
	return one(Reshape(x, dims...))
}

func evalArange(s *state, _ *ir.Operation, operands []value) []value {
	end := int(staticInt(operands[0]))
	dtype := dtypes.Int64
	if !isNone(operands[1]) {
		dtype = scalarTypeDType(staticInt(operands[1]))
	}
	return one(Iota(s.g, shapes.Make(dtype, end), 0))
}

// evalRepeat tiles x: repeats may have more entries than x has axes, in which case x gets
// leading axes of size 1.
func evalRepeat(s *state, _ *ir.Operation, operands []value) []value {
	x := s.tensor(operands[0])
	repeats := staticInts(operands[1])
	if len(repeats) < x.Rank() {
		exceptions.Panicf("repeat(%s, %v) needs at least one repeat per axis", x.Shape(), repeats)
	}
	for _, r := range repeats {
		if r < 1 {
			exceptions.Panicf("repeat(%s, %v) must have repeats >= 1", x.Shape(), repeats)
		}
	}
	if extra := len(repeats) - x.Rank(); extra > 0 {
		dims := make([]int, 0, len(repeats))
		for range extra {
			dims = append(dims, 1)
		}
		x = Reshape(x, append(dims, x.Shape().Dimensions...)...)
	}

	// Insert an axis before each axis, broadcast it to the number of repeats, and merge.
	rank := x.Rank()
	insertAxes := make([]int, rank)
	for axis := range insertAxes {
		insertAxes[axis] = axis
	}
	output := InsertAxes(x, insertAxes...)
	broadcastDims := output.Shape().Clone().Dimensions
	for axis := 0; axis < len(broadcastDims); axis += 2 {
		broadcastDims[axis] = repeats[axis/2]
	}
	output = BroadcastToDims(output, broadcastDims...)
	tiledDims := x.Shape().Clone().Dimensions
	for axis := range tiledDims {
		tiledDims[axis] *= repeats[axis]
	}
	return one(Reshape(output, tiledDims...))
}

func evalFull(s *state, op *ir.Operation, operands []value) []value {
	dims := staticInts(operands[0])
	var dtype dtypes.DType
	switch {
	case !isNone(operands[2]):
		dtype = scalarTypeDType(staticInt(operands[2]))
	default:
		vt, _ := torch.AsValueTensor(op.Result(0).Type())
		var ok bool
		if dtype, ok = DType(vt.Dtype); !ok {
			dtype = dtypes.Float32
		}
	}
	fill := s.scalar(operands[1], dtype)
	if len(dims) == 0 {
		return one(fill)
	}
	return one(BroadcastToDims(fill, dims...))
}

func evalCat(s *state, _ *ir.Operation, operands []value) []value {
	list, ok := operands[0].([]value)
	if !ok || len(list) == 0 {
		exceptions.Panicf("cat requires a non-empty list of tensors")
	}
	nodes := make([]*Node, len(list))
	for i, v := range list {
		nodes[i] = s.tensor(v)
	}
	axis := normalizeAxis(staticInt(operands[1]), nodes[0].Rank())
	return one(Concatenate(nodes, axis))
}

func evalFloatCast(s *state, op *ir.Operation, operands []value) []value {
	tt, _ := op.Result(0).Type().(ir.TensorType)
	dtype, ok := DType(tt.Elem)
	if !ok {
		exceptions.Panicf("unsupported float cast to %s", op.Result(0).Type())
	}
	return one(ConvertDType(s.tensor(operands[0]), dtype))
}
