// Package onnxtest builds small ONNX models in memory, for tests and benchmarks.
//
// Example:
//
//	m := onnxtest.NewModel(21).
//		Input("x", onnx.DataTypeFloat, 2, 3).
//		Output("y", onnx.DataTypeFloat, 2, 3).
//		Node("Relu", []string{"x"}, []string{"y"}).
//		Model(t)
package onnxtest

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gomlx/onnx-torch/onnx"
	"github.com/stretchr/testify/require"
)

// Builder accumulates a ModelProto.
type Builder struct {
	Proto *onnx.ModelProto
}

// NewModel returns a builder of a model importing the default domain at the given opset.
func NewModel(opset int64) *Builder {
	return &Builder{Proto: &onnx.ModelProto{
		IRVersion:       8,
		ProducerName:    "onnxtest",
		ProducerVersion: "1",
		OpsetImport:     []onnx.OperatorSetID{{Domain: "", Version: opset}},
		Graph:           &onnx.GraphProto{Name: "main_graph"},
	}}
}

// Opset adds an operator domain import.
func (b *Builder) Opset(domain string, version int64) *Builder {
	b.Proto.OpsetImport = append(b.Proto.OpsetImport, onnx.OperatorSetID{Domain: domain, Version: version})
	return b
}

// Input adds a graph input. Negative dims are symbolic, and named "d<axis>".
func (b *Builder) Input(name string, dtype onnx.DataType, dims ...int64) *Builder {
	b.Proto.Graph.Input = append(b.Proto.Graph.Input, ValueInfo(name, dtype, dims...))
	return b
}

// Output adds a graph output.
func (b *Builder) Output(name string, dtype onnx.DataType, dims ...int64) *Builder {
	b.Proto.Graph.Output = append(b.Proto.Graph.Output, ValueInfo(name, dtype, dims...))
	return b
}

// ValueInfo records the type of an intermediate value.
func (b *Builder) ValueInfo(name string, dtype onnx.DataType, dims ...int64) *Builder {
	b.Proto.Graph.ValueInfo = append(b.Proto.Graph.ValueInfo, ValueInfo(name, dtype, dims...))
	return b
}

// Initializer adds a constant tensor.
func (b *Builder) Initializer(t *onnx.TensorProto) *Builder {
	b.Proto.Graph.Initializer = append(b.Proto.Graph.Initializer, t)
	return b
}

// Node adds a default domain node.
func (b *Builder) Node(opType string, inputs, outputs []string, attrs ...*onnx.AttributeProto) *Builder {
	return b.DomainNode("", opType, inputs, outputs, attrs...)
}

// DomainNode adds a node of the given domain, e.g. "com.microsoft".
func (b *Builder) DomainNode(domain, opType string, inputs, outputs []string, attrs ...*onnx.AttributeProto) *Builder {
	b.Proto.Graph.Node = append(b.Proto.Graph.Node, &onnx.NodeProto{
		Name:      opType + "_" + outputs[0],
		OpType:    opType,
		Domain:    domain,
		Input:     inputs,
		Output:    outputs,
		Attribute: attrs,
	})
	return b
}

// Bytes returns the serialized model.
func (b *Builder) Bytes() []byte {
	return b.Proto.Marshal()
}

// Model serializes and parses the model back.
func (b *Builder) Model(t testing.TB) *onnx.Model {
	t.Helper()
	m, err := onnx.Parse(b.Bytes())
	require.NoError(t, err)
	return m
}

// WriteFile saves the model under dir and returns its path.
func (b *Builder) WriteFile(t testing.TB, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
	return path
}

// ValueInfo returns a tensor value description. A nil dims list leaves the shape unknown.
func ValueInfo(name string, dtype onnx.DataType, dims ...int64) *onnx.ValueInfoProto {
	tt := &onnx.TensorTypeProto{ElemType: dtype}
	if dims != nil {
		tt.Shape = &onnx.TensorShapeProto{Dim: make([]onnx.Dimension, len(dims))}
		for i, d := range dims {
			if d >= 0 {
				tt.Shape.Dim[i] = onnx.Dimension{Value: d, HasValue: true}
			} else {
				tt.Shape.Dim[i] = onnx.Dimension{Param: "d" + strconv.Itoa(i)}
			}
		}
	}
	return &onnx.ValueInfoProto{Name: name, Type: &onnx.TypeProto{Tensor: tt}}
}

// FloatTensor returns a float32 tensor using the float_data field.
func FloatTensor(name string, dims []int64, data ...float32) *onnx.TensorProto {
	return &onnx.TensorProto{Name: name, Dims: dims, DataType: onnx.DataTypeFloat, FloatData: data}
}

// RawFloatTensor returns a float32 tensor using the raw_data field.
func RawFloatTensor(name string, dims []int64, data ...float32) *onnx.TensorProto {
	raw := make([]byte, 4*len(data))
	for i, f := range data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(f))
	}
	return &onnx.TensorProto{Name: name, Dims: dims, DataType: onnx.DataTypeFloat, RawData: raw}
}

// Int64Tensor returns an int64 tensor.
func Int64Tensor(name string, dims []int64, data ...int64) *onnx.TensorProto {
	return &onnx.TensorProto{Name: name, Dims: dims, DataType: onnx.DataTypeInt64, Int64Data: data}
}

// Uint8Tensor returns an uint8 tensor stored as raw data.
func Uint8Tensor(name string, dims []int64, data ...uint8) *onnx.TensorProto {
	return &onnx.TensorProto{Name: name, Dims: dims, DataType: onnx.DataTypeUint8, RawData: data}
}

// Int8Tensor returns an int8 tensor stored in int32_data.
func Int8Tensor(name string, dims []int64, data ...int8) *onnx.TensorProto {
	values := make([]int32, len(data))
	for i, v := range data {
		values[i] = int32(v)
	}
	return &onnx.TensorProto{Name: name, Dims: dims, DataType: onnx.DataTypeInt8, Int32Data: values}
}

// AttrInt returns an INT attribute.
func AttrInt(name string, v int64) *onnx.AttributeProto {
	return &onnx.AttributeProto{Name: name, Type: onnx.AttributeInt, I: v}
}

// AttrFloat returns a FLOAT attribute.
func AttrFloat(name string, v float32) *onnx.AttributeProto {
	return &onnx.AttributeProto{Name: name, Type: onnx.AttributeFloat, F: v}
}

// AttrString returns a STRING attribute.
func AttrString(name, v string) *onnx.AttributeProto {
	return &onnx.AttributeProto{Name: name, Type: onnx.AttributeString, S: []byte(v)}
}

// AttrInts returns an INTS attribute.
func AttrInts(name string, v ...int64) *onnx.AttributeProto {
	return &onnx.AttributeProto{Name: name, Type: onnx.AttributeInts, Ints: v}
}

// AttrFloats returns a FLOATS attribute.
func AttrFloats(name string, v ...float32) *onnx.AttributeProto {
	return &onnx.AttributeProto{Name: name, Type: onnx.AttributeFloats, Floats: v}
}

// AttrTensor returns a TENSOR attribute.
func AttrTensor(name string, t *onnx.TensorProto) *onnx.AttributeProto {
	return &onnx.AttributeProto{Name: name, Type: onnx.AttributeTensor, T: t}
}
