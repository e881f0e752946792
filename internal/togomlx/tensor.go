// Package togomlx converts ONNX tensors to GoMLX tensors, e.g. to feed the inputs stored
// as TensorProto files by the ONNX test suites to the reference evaluator.
package togomlx

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/onnx-torch/internal/refexec"
	"github.com/gomlx/onnx-torch/onnx"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Shape converts the data type and dimensions of an ONNX tensor to a GoMLX shape.
func Shape(proto *onnx.TensorProto) (shape shapes.Shape, err error) {
	if proto == nil {
		err = errors.New("ONNX TensorProto is nil")
		return
	}
	tt, err := onnx.TensorType(proto)
	if err != nil {
		return
	}
	dtype, ok := refexec.DType(tt.Elem)
	if !ok {
		err = errors.Errorf("ONNX data type %s has no GoMLX equivalent", proto.DataType)
		return
	}
	dims := make([]int, len(tt.Shape))
	for axis, dim := range tt.Shape {
		dims[axis] = int(dim)
	}
	shape = shapes.Make(dtype, dims...)
	return
}

// Tensor converts an ONNX tensor with its values stored in the proto (not external) to a
// GoMLX tensor.
func Tensor(proto *onnx.TensorProto) (*tensors.Tensor, error) {
	shape, err := Shape(proto)
	if err != nil {
		return nil, err
	}
	dense, err := onnx.DenseElements(proto, nil)
	if err != nil {
		return nil, err
	}
	t := tensors.FromShape(shape)
	switch shape.DType {
	case dtypes.Float32:
		fill(t, dense.Floats, func(v float64) float32 { return float32(v) })
	case dtypes.Float64:
		fill(t, dense.Floats, func(v float64) float64 { return v })
	case dtypes.Float16:
		fill(t, dense.Floats, func(v float64) float16.Float16 { return float16.Fromfloat32(float32(v)) })
	case dtypes.Int8:
		fill(t, dense.Ints, func(v int64) int8 { return int8(v) })
	case dtypes.Int16:
		fill(t, dense.Ints, func(v int64) int16 { return int16(v) })
	case dtypes.Int32:
		fill(t, dense.Ints, func(v int64) int32 { return int32(v) })
	case dtypes.Int64:
		fill(t, dense.Ints, func(v int64) int64 { return v })
	case dtypes.Uint8:
		fill(t, dense.Ints, func(v int64) uint8 { return uint8(v) })
	case dtypes.Uint16:
		fill(t, dense.Ints, func(v int64) uint16 { return uint16(v) })
	case dtypes.Uint32:
		fill(t, dense.Ints, func(v int64) uint32 { return uint32(v) })
	case dtypes.Uint64:
		fill(t, dense.Ints, func(v int64) uint64 { return uint64(v) })
	case dtypes.Bool:
		fill(t, dense.Ints, func(v int64) bool { return v != 0 })
	default:
		return nil, errors.Errorf("tensor %q: conversion of %s values not supported", proto.Name, shape.DType)
	}
	return t, nil
}

func fill[From any, To dtypes.Supported](t *tensors.Tensor, values []From, convert func(From) To) {
	tensors.MutableFlatData[To](t, func(flat []To) {
		for i, v := range values {
			flat[i] = convert(v)
		}
	})
}
