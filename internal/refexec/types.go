package refexec

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph" //nolint
	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/quant"
	"github.com/gomlx/onnx-torch/torch"
)

// DType converts an element type to a GoMLX dtype. Signless and signed integers map to
// the same dtype.
func DType(t ir.Type) (dtypes.DType, bool) {
	switch tt := t.(type) {
	case ir.FloatType:
		switch tt.Width() {
		case 16:
			if ir.TypesEqual(tt, ir.BF16) {
				return dtypes.BFloat16, true
			}
			return dtypes.Float16, true
		case 32:
			return dtypes.Float32, true
		case 64:
			return dtypes.Float64, true
		}
	case ir.IntegerType:
		if tt.Width == 1 {
			return dtypes.Bool, true
		}
		if tt.IsUnsigned() {
			switch tt.Width {
			case 8:
				return dtypes.Uint8, true
			case 16:
				return dtypes.Uint16, true
			case 32:
				return dtypes.Uint32, true
			case 64:
				return dtypes.Uint64, true
			}
		}
		switch tt.Width {
		case 8:
			return dtypes.Int8, true
		case 16:
			return dtypes.Int16, true
		case 32:
			return dtypes.Int32, true
		case 64:
			return dtypes.Int64, true
		}
	}
	return dtypes.InvalidDType, false
}

// scalarTypeDType converts a torch ScalarType code to a GoMLX dtype.
func scalarTypeDType(code int64) dtypes.DType {
	switch torch.ScalarType(code) {
	case torch.Byte:
		return dtypes.Uint8
	case torch.Char:
		return dtypes.Int8
	case torch.Short:
		return dtypes.Int16
	case torch.Int:
		return dtypes.Int32
	case torch.Long:
		return dtypes.Int64
	case torch.Half:
		return dtypes.Float16
	case torch.Float:
		return dtypes.Float32
	case torch.Double:
		return dtypes.Float64
	case torch.Bool:
		return dtypes.Bool
	case torch.BFloat16:
		return dtypes.BFloat16
	}
	exceptions.Panicf("scalar type %s not supported", torch.ScalarType(code))
	return dtypes.InvalidDType
}

// quantDType returns the quantized storage type of a quantized ScalarType code.
func quantDType(code int64) (quant.DType, dtypes.DType) {
	switch torch.ScalarType(code) {
	case torch.QUInt8:
		return quant.UInt8, dtypes.Uint8
	case torch.QInt8:
		return quant.Int8, dtypes.Int8
	case torch.QInt32:
		return quant.Int32, dtypes.Int32
	}
	exceptions.Panicf("scalar type %s is not a quantized type", torch.ScalarType(code))
	return 0, dtypes.InvalidDType
}

// checkShape panics if dtype and dims don't match the declared type t. Unknown parts of t
// (dynamic sizes, missing dtype) match anything.
func checkShape(where string, t ir.Type, dtype dtypes.DType, dims []int) {
	var declaredDType ir.Type
	var sizes []int64
	switch tt := t.(type) {
	case torch.ValueTensorType:
		declaredDType, sizes = tt.Dtype, tt.Sizes
	case ir.TensorType:
		declaredDType = tt.Elem
		if tt.Ranked {
			sizes = tt.Shape
			if sizes == nil {
				sizes = []int64{}
			}
		}
	default:
		// Scalars.
		if len(dims) != 0 {
			exceptions.Panicf("%s: declared as %s, but evaluated to a tensor of shape %v", where, t, dims)
		}
		return
	}
	if declaredDType != nil {
		if want, ok := DType(declaredDType); ok && want != dtype {
			exceptions.Panicf("%s: declared as %s, but evaluated to dtype %s", where, t, dtype)
		}
	}
	if sizes == nil {
		return
	}
	if len(sizes) != len(dims) {
		exceptions.Panicf("%s: declared as %s, but evaluated to shape %v", where, t, dims)
	}
	for axis, size := range sizes {
		if size != ir.DynamicSize && int(size) != dims[axis] {
			exceptions.Panicf("%s: declared as %s, but evaluated to shape %v", where, t, dims)
		}
	}
}

// tensor converts v to a node. Static scalars become constants.
func (s *state) tensor(v value) *Node {
	switch x := v.(type) {
	case *Node:
		return x
	case int64, float64, bool:
		return Const(s.g, x)
	case *quantized:
		exceptions.Panicf("quantized tensors can't be used directly, they must go through aten.int_repr or aten.dequantize")
	}
	exceptions.Panicf("value of type %T is not a tensor", v)
	return nil
}

// scalar converts a static scalar or a rank-0 node to a rank-0 node of the given dtype.
func (s *state) scalar(v value, dtype dtypes.DType) *Node {
	switch x := v.(type) {
	case int64:
		return Scalar(s.g, dtype, x)
	case float64:
		return Scalar(s.g, dtype, x)
	case bool:
		return ConvertDType(Const(s.g, x), dtype)
	case *Node:
		if x.Rank() != 0 {
			exceptions.Panicf("expected a scalar, got shape %s", x.Shape())
		}
		if x.DType() != dtype {
			return ConvertDType(x, dtype)
		}
		return x
	}
	exceptions.Panicf("value of type %T is not a scalar", v)
	return nil
}

// staticInt returns a compile time constant integer.
func staticInt(v value) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	}
	exceptions.Panicf("expected a constant integer, got %T", v)
	return 0
}

func isNone(v value) bool {
	_, ok := v.(none)
	return ok
}

// staticInts returns a list of compile time constant integers.
func staticInts(v value) []int {
	list, ok := v.([]value)
	if !ok {
		exceptions.Panicf("expected a list of integers, got %T", v)
	}
	ints := make([]int, len(list))
	for i, e := range list {
		ints[i] = int(staticInt(e))
	}
	return ints
}

// normalizeAxis converts negative axes to positive ones.
func normalizeAxis(axis int64, rank int) int {
	if axis < 0 {
		axis += int64(rank)
	}
	if axis < 0 || int(axis) >= rank {
		exceptions.Panicf("axis %d out of range for rank %d", axis, rank)
	}
	return int(axis)
}

// broadcast applies numpy/torch broadcasting rules: operands of lower rank get leading
// axes of size 1, and axes of size 1 are expanded to the common size.
func broadcast(operands ...*Node) []*Node {
	rank := 0
	for _, n := range operands {
		rank = max(rank, n.Rank())
	}
	dims := slices.Repeat([]int{1}, rank)
	for _, n := range operands {
		offset := rank - n.Rank()
		for axis, d := range n.Shape().Dimensions {
			if d == 1 {
				continue
			}
			if dims[offset+axis] != 1 && dims[offset+axis] != d {
				exceptions.Panicf("shapes %s are not broadcastable", shapesOf(operands))
			}
			dims[offset+axis] = d
		}
	}
	results := make([]*Node, len(operands))
	for i, n := range operands {
		if n.Rank() < rank {
			n = Reshape(n, append(slices.Repeat([]int{1}, rank-n.Rank()), n.Shape().Dimensions...)...)
		}
		if !slices.Equal(n.Shape().Dimensions, dims) {
			n = BroadcastToDims(n, dims...)
		}
		results[i] = n
	}
	return results
}

func shapesOf(nodes []*Node) []string {
	s := make([]string, len(nodes))
	for i, n := range nodes {
		s[i] = n.Shape().String()
	}
	return s
}

// roundHalfEven rounds to the nearest integer, ties to even, like quant.RoundHalfEven.
func roundHalfEven(x *Node) *Node {
	floor := Floor(x)
	// Distance to the middle point between floor and floor+1.
	fromHalf := AddScalar(Sub(x, floor), -0.5)
	zeros := ZerosLike(x)
	// parity is 1 for odd floors, 0 for even ones.
	parity := Sub(floor, MulScalar(Floor(MulScalar(floor, 0.5)), 2))
	return Where(GreaterThan(fromHalf, zeros), AddScalar(floor, 1),
		Where(LessThan(fromHalf, zeros), floor, Add(floor, parity)))
}
