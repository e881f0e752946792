package torch

import (
	"testing"

	"github.com/gomlx/onnx-torch/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueTensorType(t *testing.T) {
	assert.Equal(t, "!torch.vtensor<[?,4],f32>", VTensor(ir.F32, ir.DynamicSize, 4).String())
	assert.Equal(t, "!torch.vtensor<[],si64>", VTensor(ir.SI64).String())
	assert.Equal(t, "!torch.vtensor", ValueTensorType{}.String())
	assert.Equal(t, "!torch.vtensor<*,f32>", ValueTensorType{Dtype: ir.F32}.String())
	assert.Equal(t, "!torch.vtensor<[2],unk>", ValueTensorType{Sizes: []int64{2}}.String())
	assert.Equal(t, "!torch.vtensor<[3],!torch.quint8>", VTensor(QUInt8Type, 3).String())

	vt := VTensor(ir.UI8, 2, ir.DynamicSize)
	assert.Equal(t, 2, vt.Rank())
	assert.False(t, vt.AreAllSizesKnown())
	assert.Equal(t, -1, ValueTensorType{Dtype: ir.F32}.Rank())
	assert.True(t, VTensor(ir.F32, 1, 2).AreAllSizesKnown())

	builtin, ok := vt.ToBuiltinTensor()
	require.True(t, ok)
	assert.Equal(t, "tensor<2x?xi8>", builtin.String())
	builtin, ok = ValueTensorType{Dtype: ir.BF16}.ToBuiltinTensor()
	require.True(t, ok)
	assert.Equal(t, "tensor<*xbf16>", builtin.String())
	_, ok = ValueTensorType{Sizes: []int64{1}}.ToBuiltinTensor()
	assert.False(t, ok)
	_, ok = VTensor(QInt8Type, 1).ToBuiltinTensor()
	assert.False(t, ok)

	// WithDtype copies the sizes.
	widened := vt.WithDtype(ir.F32)
	widened.Sizes[0] = 7
	assert.Equal(t, int64(2), vt.Sizes[0])

	assert.Equal(t, "!torch.list<int>", ListOf(IntType).String())
	assert.Equal(t, "!torch.list<vtensor>", ListOf(ValueTensorType{}).String())
	assert.True(t, IsTorchType(ListOf(IntType)))
	assert.True(t, IsTorchType(NoneType))
	assert.False(t, IsTorchType(ir.RankedTensor(ir.F32)))
	assert.True(t, IsNone(NoneType))
}

func TestScalarType(t *testing.T) {
	for dtype, want := range map[ir.Type]ScalarType{
		ir.UI8:     Byte,
		ir.SI8:     Char,
		ir.I16:     Short,
		ir.SI32:    Int,
		ir.I64:     Long,
		ir.F16:     Half,
		ir.BF16:    BFloat16,
		ir.F32:     Float,
		ir.F64:     Double,
		ir.I1:      Bool,
		QInt8Type:  QInt8,
		QUInt8Type: QUInt8,
		QInt32Type: QInt32,
	} {
		got, err := ScalarTypeOf(dtype)
		require.NoError(t, err, "dtype %s", dtype)
		assert.Equal(t, want, got, "dtype %s", dtype)
	}
	_, err := ScalarTypeOf(ir.UI32)
	require.ErrorContains(t, err, "dtype ui32 has no torch scalar type")
	_, err = ScalarTypeOf(nil)
	require.Error(t, err)
	assert.Equal(t, "QUInt8", QUInt8.String())
	assert.Equal(t, "ScalarType(42)", ScalarType(42).String())

	q, ok := QuantizedTensorType(VTensor(ir.SI8, 4))
	require.True(t, ok)
	assert.Equal(t, "!torch.vtensor<[4],!torch.qint8>", q.String())
	_, ok = QuantizedDtype(ir.I8)
	assert.False(t, ok, "signless integers have no quantized counterpart")
}

func TestConstants(t *testing.T) {
	block := ir.NewBlock(FloatType)
	b := ir.AtEnd(block)
	i := ConstantInt(b, -3)
	f := ConstantFloat(b, 0.5)
	bo := ConstantBool(b, true)
	list := IntList(b, 1, 2)

	v, ok := ConstantIntValue(i)
	require.True(t, ok)
	assert.Equal(t, int64(-3), v)
	fv, ok := ConstantFloatValue(f)
	require.True(t, ok)
	assert.Equal(t, 0.5, fv)
	bv, ok := ConstantBoolValue(bo)
	require.True(t, ok)
	assert.True(t, bv)
	_, ok = ConstantIntValue(f)
	assert.False(t, ok)
	_, ok = ConstantFloatValue(block.Arg(0))
	assert.False(t, ok)

	assert.Equal(t, "!torch.list<int>", list.Type().String())
	assert.Equal(t, 2, list.DefiningOp().NumOperands())

	op := OnnxOperator(b, "QLinearAdd", []*ir.Value{i}, []ir.Type{ValueTensorType{}})
	opType, ok := IsOnnxOperator(op)
	require.True(t, ok)
	assert.Equal(t, "QLinearAdd", opType)
	_, ok = IsOnnxOperator(list.DefiningOp())
	assert.False(t, ok)
	notOnnx := b.Create(OperatorOp, nil, nil, ir.NamedAttr{Name: OperatorNameAttr, Value: ir.StringAttr("custom.Op")})
	_, ok = IsOnnxOperator(notOnnx)
	assert.False(t, ok)
}
