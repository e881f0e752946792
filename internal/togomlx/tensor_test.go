package togomlx

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-torch/onnx"
	"github.com/gomlx/onnx-torch/onnx/onnxtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensor(t *testing.T) {
	tensor, err := Tensor(onnxtest.FloatTensor("x", []int64{2, 2}, 1, 2, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, tensor.Value())

	tensor, err = Tensor(onnxtest.RawFloatTensor("r", []int64{}, 0.5))
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), tensor.Value())

	tensor, err = Tensor(onnxtest.Uint8Tensor("q", []int64{3}, 0, 128, 255))
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 128, 255}, tensor.Value())

	tensor, err = Tensor(onnxtest.Int8Tensor("s", []int64{2}, -128, 127))
	require.NoError(t, err)
	assert.Equal(t, []int8{-128, 127}, tensor.Value())

	tensor, err = Tensor(&onnx.TensorProto{Dims: []int64{2}, DataType: onnx.DataTypeBool, Int32Data: []int32{0, 1}})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, tensor.Value())

	_, err = Tensor(&onnx.TensorProto{Name: "s", Dims: []int64{1}, DataType: onnx.DataTypeString})
	require.Error(t, err)
	_, err = Tensor(nil)
	require.Error(t, err)
}

func TestShape(t *testing.T) {
	shape, err := Shape(onnxtest.Int64Tensor("i", []int64{2, 3}, 0, 1, 2, 3, 4, 5))
	require.NoError(t, err)
	assert.Equal(t, dtypes.Int64, shape.DType)
	assert.Equal(t, []int{2, 3}, shape.Dimensions)
}
