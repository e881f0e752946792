package refexec

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph" //nolint
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/quant"
	"github.com/gomlx/onnx-torch/torch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundHalfEven(t *testing.T) {
	values := []float32{-2.5, -1.5, -0.5, 0.5, 1.5, 2.5, 0.49, 0.51, -0.51, 3}
	want := make([]float32, len(values))
	for i, v := range values {
		want[i] = quant.RoundHalfEven(v)
	}
	graphtest.RunTestGraphFn(t, "roundHalfEven", func(g *Graph) (inputs, outputs []*Node) {
		x := Const(g, values)
		inputs = []*Node{x}
		outputs = []*Node{roundHalfEven(x)}
		return
	}, []any{want}, -1)
}

func TestBroadcast(t *testing.T) {
	graphtest.RunTestGraphFn(t, "broadcast", func(g *Graph) (inputs, outputs []*Node) {
		column := Const(g, [][]int64{{10}, {20}})
		row := Const(g, []int64{1, 2, 3})
		inputs = []*Node{column, row}
		b := broadcast(column, row)
		outputs = []*Node{Add(b[0], b[1])}
		return
	}, []any{
		[][]int64{{11, 12, 13}, {21, 22, 23}},
	}, -1)
}

func TestRepeat(t *testing.T) {
	graphtest.RunTestGraphFn(t, "repeat with leading axis", func(g *Graph) (inputs, outputs []*Node) {
		s := &state{g: g}
		x := Const(g, []int64{0, 1, 2})
		inputs = []*Node{x}
		outputs = []*Node{evalRepeat(s, nil, []value{x, []value{int64(2), int64(1)}})[0].(*Node)}
		return
	}, []any{
		[][]int64{{0, 1, 2}, {0, 1, 2}},
	}, -1)
}

func TestDType(t *testing.T) {
	for _, tc := range []struct {
		t    ir.Type
		want dtypes.DType
	}{
		{ir.F32, dtypes.Float32},
		{ir.BF16, dtypes.BFloat16},
		{ir.F16, dtypes.Float16},
		{ir.SI64, dtypes.Int64},
		{ir.I64, dtypes.Int64},
		{ir.UI8, dtypes.Uint8},
		{ir.I1, dtypes.Bool},
	} {
		got, ok := DType(tc.t)
		require.True(t, ok, "type %s", tc.t)
		assert.Equal(t, tc.want, got, "type %s", tc.t)
	}
	_, ok := DType(torch.IntType)
	assert.False(t, ok)
}

func TestCheckShape(t *testing.T) {
	vt := torch.VTensor(ir.F32, ir.DynamicSize, 4)
	assert.NotPanics(t, func() { checkShape("x", vt, dtypes.Float32, []int{7, 4}) })
	assert.Panics(t, func() { checkShape("x", vt, dtypes.Float32, []int{7, 5}) })
	assert.Panics(t, func() { checkShape("x", vt, dtypes.Int64, []int{7, 4}) })
	assert.Panics(t, func() { checkShape("x", torch.IntType, dtypes.Int64, []int{2}) })
	assert.NotPanics(t, func() { checkShape("x", torch.ValueTensorType{}, dtypes.Int64, []int{2, 3}) })
}
