package torch

import (
	"github.com/gomlx/onnx-torch/ir"
)

// Operation names of the Torch dialect used by the conversions.
const (
	OperatorOp     = "torch.operator"
	VTensorLiteral = "torch.vtensor.literal"

	ConstantIntOp   = "torch.constant.int"
	ConstantFloatOp = "torch.constant.float"
	ConstantBoolOp  = "torch.constant.bool"
	ConstantNoneOp  = "torch.constant.none"
	ConstantStrOp   = "torch.constant.str"
	ListConstructOp = "torch.prim.ListConstruct"

	AtenAddScalar       = "torch.aten.add.Scalar"
	AtenAddTensor       = "torch.aten.add.Tensor"
	AtenArange          = "torch.aten.arange"
	AtenAvgPool1d       = "torch.aten.avg_pool1d"
	AtenAvgPool2d       = "torch.aten.avg_pool2d"
	AtenAvgPool3d       = "torch.aten.avg_pool3d"
	AtenCat             = "torch.aten.cat"
	AtenDequantizeSelf  = "torch.aten.dequantize.self"
	AtenFull            = "torch.aten.full"
	AtenIntBool         = "torch.aten.Int.bool"
	AtenIntRepr         = "torch.aten.int_repr"
	AtenItem            = "torch.aten.item"
	AtenLeakyRelu       = "torch.aten.leaky_relu"
	AtenLtTensor        = "torch.aten.lt.Tensor"
	AtenMakePerTensorQ  = "torch.aten._make_per_tensor_quantized_tensor"
	AtenMatmul          = "torch.aten.matmul"
	AtenMulTensor       = "torch.aten.mul.Tensor"
	AtenQuantizePerTens = "torch.aten.quantize_per_tensor"
	AtenRepeat          = "torch.aten.repeat"
	AtenReshape         = "torch.aten.reshape"
	AtenSDPA            = "torch.aten.scaled_dot_product_attention"
	AtenSigmoid         = "torch.aten.sigmoid"
	AtenSizeInt         = "torch.aten.size.int"
	AtenSubScalar       = "torch.aten.sub.Scalar"
	AtenTensorInt       = "torch.aten.tensor.int"
	AtenToDtype         = "torch.aten.to.dtype"
	AtenTransposeInt    = "torch.aten.transpose.int"
	AtenView            = "torch.aten.view"
	AtenWhereSelf       = "torch.aten.where.self"
	AtenZeros           = "torch.aten.zeros"
	AtenGtInt           = "torch.aten.gt.int"
	AtenNeInt           = "torch.aten.ne.int"
	AtenAndBool         = "torch.aten.__and__.bool"

	OnnxRotaryEmbedding = "torch.onnx.rotary_embedding"
)

// Attribute names on torch.operator nodes imported from ONNX.
const (
	// OperatorNameAttr holds the operator name, e.g. "onnx.Add".
	OperatorNameAttr = "name"

	// OnnxAttrPrefix prefixes every ONNX node attribute.
	OnnxAttrPrefix = "torch.onnx."

	// OnnxMetaPrefix prefixes model metadata attributes.
	OnnxMetaPrefix = "torch.onnx_meta."

	// OpsetVersionAttr is the opset version of a function (or of a single operator from
	// a non-default domain).
	OpsetVersionAttr = OnnxMetaPrefix + "opset_version"

	// OnnxOpPrefix prefixes the names of operators imported from ONNX.
	OnnxOpPrefix = "onnx."

	// ValueAttr is the value of constants and literals.
	ValueAttr = "value"
)

// Op creates a single-result operation and returns its result.
func Op(b ir.OpCreator, name string, resultType ir.Type, operands ...*ir.Value) *ir.Value {
	return b.Create(name, operands, []ir.Type{resultType}).Result(0)
}

// ConstantInt creates a !torch.int constant.
func ConstantInt(b ir.OpCreator, v int64) *ir.Value {
	return b.Create(ConstantIntOp, nil, []ir.Type{IntType}, ir.NamedAttr{Name: ValueAttr, Value: ir.I64Attr(v)}).Result(0)
}

// ConstantFloat creates a !torch.float constant.
func ConstantFloat(b ir.OpCreator, v float64) *ir.Value {
	return b.Create(ConstantFloatOp, nil, []ir.Type{FloatType}, ir.NamedAttr{Name: ValueAttr, Value: ir.F64Attr(v)}).Result(0)
}

// ConstantBool creates a !torch.bool constant.
func ConstantBool(b ir.OpCreator, v bool) *ir.Value {
	return b.Create(ConstantBoolOp, nil, []ir.Type{BoolType}, ir.NamedAttr{Name: ValueAttr, Value: ir.BoolAttr(v)}).Result(0)
}

// ConstantNone creates a !torch.none value.
func ConstantNone(b ir.OpCreator) *ir.Value {
	return b.Create(ConstantNoneOp, nil, []ir.Type{NoneType}).Result(0)
}

// ConstantStr creates a !torch.str constant.
func ConstantStr(b ir.OpCreator, v string) *ir.Value {
	return b.Create(ConstantStrOp, nil, []ir.Type{StringType}, ir.NamedAttr{Name: ValueAttr, Value: ir.StringAttr(v)}).Result(0)
}

// ListConstruct creates a !torch.list<elem> from values.
func ListConstruct(b ir.OpCreator, elem ir.Type, values ...*ir.Value) *ir.Value {
	return b.Create(ListConstructOp, values, []ir.Type{ListOf(elem)}).Result(0)
}

// IntList creates a !torch.list<int> of constants.
func IntList(b ir.OpCreator, values ...int64) *ir.Value {
	elems := make([]*ir.Value, len(values))
	for i, v := range values {
		elems[i] = ConstantInt(b, v)
	}
	return ListConstruct(b, IntType, elems...)
}

// ConstantIntValue returns the value of a torch.constant.int, if v is one.
func ConstantIntValue(v *ir.Value) (int64, bool) {
	op := v.DefiningOp()
	if op == nil || op.Name() != ConstantIntOp {
		return 0, false
	}
	attr, _ := op.Attr(ValueAttr)
	ia, ok := attr.(ir.IntegerAttr)
	return ia.Value, ok
}

// ConstantFloatValue returns the value of a torch.constant.float, if v is one.
func ConstantFloatValue(v *ir.Value) (float64, bool) {
	op := v.DefiningOp()
	if op == nil || op.Name() != ConstantFloatOp {
		return 0, false
	}
	attr, _ := op.Attr(ValueAttr)
	fa, ok := attr.(ir.FloatAttr)
	return fa.Value, ok
}

// ConstantBoolValue returns the value of a torch.constant.bool, if v is one.
func ConstantBoolValue(v *ir.Value) (bool, bool) {
	op := v.DefiningOp()
	if op == nil || op.Name() != ConstantBoolOp {
		return false, false
	}
	attr, _ := op.Attr(ValueAttr)
	ba, ok := attr.(ir.BoolAttr)
	return bool(ba), ok
}

// IsOnnxOperator reports whether op is a torch.operator imported from ONNX and returns
// the ONNX operator type, e.g. "QLinearAdd".
func IsOnnxOperator(op *ir.Operation) (string, bool) {
	if op.Name() != OperatorOp {
		return "", false
	}
	attr, _ := op.Attr(OperatorNameAttr)
	name, ok := attr.(ir.StringAttr)
	if !ok || len(name) <= len(OnnxOpPrefix) || string(name[:len(OnnxOpPrefix)]) != OnnxOpPrefix {
		return "", false
	}
	return string(name[len(OnnxOpPrefix):]), true
}

// OnnxOperator creates a torch.operator "onnx.<opType>" node.
func OnnxOperator(b ir.OpCreator, opType string, operands []*ir.Value, resultTypes []ir.Type, attrs ...ir.NamedAttr) *ir.Operation {
	attrs = append([]ir.NamedAttr{{Name: OperatorNameAttr, Value: ir.StringAttr(OnnxOpPrefix + opType)}}, attrs...)
	return b.Create(OperatorOp, operands, resultTypes, attrs...)
}
