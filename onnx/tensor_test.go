package onnx

import (
	"math"
	"testing"

	"github.com/gomlx/onnx-torch/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestDenseElements(t *testing.T) {
	t.Run("float16 in int32_data", func(t *testing.T) {
		proto := &TensorProto{Dims: []int64{2}, DataType: DataTypeFloat16, Int32Data: []int32{
			int32(float16.Fromfloat32(1.5).Bits()),
			int32(float16.Fromfloat32(-0.25).Bits()),
		}}
		dense, err := DenseElements(proto, nil)
		require.NoError(t, err)
		assert.Equal(t, []float64{1.5, -0.25}, dense.Floats)
		assert.Equal(t, "tensor<2xf16>", dense.Type.String())
	})

	t.Run("bfloat16 raw", func(t *testing.T) {
		bits := math.Float32bits(3.0) >> 16
		proto := &TensorProto{Dims: []int64{1}, DataType: DataTypeBFloat16, RawData: []byte{byte(bits), byte(bits >> 8)}}
		dense, err := DenseElements(proto, nil)
		require.NoError(t, err)
		assert.Equal(t, []float64{3}, dense.Floats)
	})

	t.Run("narrow integers", func(t *testing.T) {
		dense, err := DenseElements(&TensorProto{Dims: []int64{3}, DataType: DataTypeInt8, Int32Data: []int32{-128, 0, 127}}, nil)
		require.NoError(t, err)
		assert.Equal(t, []int64{-128, 0, 127}, dense.Ints)
		assert.Equal(t, "tensor<3xsi8>", dense.Type.String())

		dense, err = DenseElements(&TensorProto{Dims: []int64{2}, DataType: DataTypeInt8, RawData: []byte{0xff, 0x80}}, nil)
		require.NoError(t, err)
		assert.Equal(t, []int64{-1, -128}, dense.Ints)

		dense, err = DenseElements(&TensorProto{Dims: []int64{2}, DataType: DataTypeUint8, RawData: []byte{0xff, 0x80}}, nil)
		require.NoError(t, err)
		assert.Equal(t, []int64{255, 128}, dense.Ints)
		assert.Equal(t, "tensor<2xui8>", dense.Type.String())

		dense, err = DenseElements(&TensorProto{Dims: []int64{2}, DataType: DataTypeBool, Int32Data: []int32{1, 0}}, nil)
		require.NoError(t, err)
		assert.Equal(t, "dense<[true, false]> : tensor<2xi1>", dense.String())
	})

	t.Run("wide types", func(t *testing.T) {
		dense, err := DenseElements(&TensorProto{Dims: []int64{2}, DataType: DataTypeDouble, DoubleData: []float64{0.125, 8}}, nil)
		require.NoError(t, err)
		assert.Equal(t, []float64{0.125, 8}, dense.Floats)

		dense, err = DenseElements(&TensorProto{Dims: []int64{1}, DataType: DataTypeUint64, Uint64Data: []uint64{42}}, nil)
		require.NoError(t, err)
		assert.Equal(t, []int64{42}, dense.Ints)
	})

	t.Run("raw replaces proto contents", func(t *testing.T) {
		proto := &TensorProto{Dims: []int64{2}, DataType: DataTypeInt16}
		dense, err := DenseElements(proto, []byte{0x01, 0x00, 0xfe, 0xff})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, -2}, dense.Ints)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := DenseElements(&TensorProto{Name: "c", Dims: []int64{3}, DataType: DataTypeFloat, FloatData: []float32{1, 2}}, nil)
		require.ErrorContains(t, err, `tensor "c" shaped tensor<3xf32> has size 3, but ONNX model provided 2 values`)

		_, err = DenseElements(&TensorProto{Name: "r", Dims: []int64{2}, DataType: DataTypeFloat, RawData: []byte{0, 0, 0}}, nil)
		require.ErrorContains(t, err, "uses 8 bytes, but ONNX model provided 3 bytes")

		_, err = DenseElements(&TensorProto{Name: "s", Dims: []int64{1}, DataType: DataTypeString, StringData: [][]byte{[]byte("x")}}, nil)
		require.ErrorContains(t, err, "unsupported/unknown ONNX data type STRING")

		_, err = DenseElements(&TensorProto{Name: "seg", HasSegment: true, DataType: DataTypeFloat}, nil)
		require.ErrorContains(t, err, "segmented tensors not supported")
	})
}

func TestDecodeTensorPackedAndUnpacked(t *testing.T) {
	// Unpacked float_data and dims, the way some older exporters write them.
	var b []byte
	for _, d := range []uint64{1, 2} {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, d)
	}
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(DataTypeFloat))
	for _, f := range []float32{0.5, -1} {
		b = protowire.AppendTag(b, 4, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(f))
	}
	// Unknown fields are skipped.
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "ignored")
	unpacked, err := decodeTensor(b)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, unpacked.Dims)
	assert.Equal(t, []float32{0.5, -1}, unpacked.FloatData)

	packed, err := decodeTensor(unpacked.marshal())
	require.NoError(t, err)
	assert.Equal(t, unpacked, packed)

	_, err = decodeTensor([]byte{0x0a})
	require.Error(t, err)
}

func TestElementType(t *testing.T) {
	for dt, want := range map[DataType]ir.Type{
		DataTypeFloat:    ir.F32,
		DataTypeBFloat16: ir.BF16,
		DataTypeInt64:    ir.SI64,
		DataTypeUint8:    ir.UI8,
		DataTypeBool:     ir.I1,
	} {
		got, err := dt.ElementType()
		require.NoError(t, err, "data type %s", dt)
		assert.Equal(t, want.String(), got.String(), "data type %s", dt)
	}
	_, err := DataTypeComplex64.ElementType()
	require.Error(t, err)
	assert.Equal(t, "DataType(99)", DataType(99).String())
}

func TestSortedNodes(t *testing.T) {
	m := &Model{Proto: &ModelProto{Graph: &GraphProto{
		Input:       []*ValueInfoProto{{Name: "x"}},
		Initializer: []*TensorProto{{Name: "c"}},
		Node: []*NodeProto{
			{Name: "last", Input: []string{"b", "a"}, Output: []string{"y"}},
			{Name: "second", Input: []string{"a", "c", ""}, Output: []string{"b"}},
			{Name: "first", Input: []string{"x"}, Output: []string{"a"}},
			{Name: "independent", Input: []string{"c"}, Output: []string{"d"}},
		},
	}}}
	sorted, err := m.sortedNodes()
	require.NoError(t, err)
	names := make([]string, len(sorted))
	for i, node := range sorted {
		names[i] = node.Name
	}
	assert.Equal(t, []string{"first", "independent", "second", "last"}, names)
}
