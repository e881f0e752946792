package onnxtotorch

import (
	"testing"

	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/torch"
	"github.com/stretchr/testify/require"
)

// testFunc builds a single function module "main" made of imported ONNX operators.
type testFunc struct {
	module *ir.Module
	fn     *ir.Func
	b      *ir.Builder
}

func newTestFunc(opset int64, inputs ...ir.Type) *testFunc {
	module := ir.NewModule()
	fn := ir.NewFunc("main", ir.FunctionType{Inputs: inputs})
	fn.Op().SetAttr(torch.OpsetVersionAttr, ir.SI64Attr(opset))
	module.AddFunc(fn)
	return &testFunc{module: module, fn: fn, b: ir.AtEnd(fn.Entry())}
}

func (tf *testFunc) arg(i int) *ir.Value { return tf.fn.Entry().Arg(i) }

func (tf *testFunc) args() []*ir.Value { return tf.fn.Entry().Args() }

func (tf *testFunc) onnxOp(opType string, operands []*ir.Value, resultTypes []ir.Type, attrs ...ir.NamedAttr) *ir.Operation {
	return torch.OnnxOperator(tf.b, opType, operands, resultTypes, attrs...)
}

// ret terminates the function, returning values, and fixes the function type.
func (tf *testFunc) ret(values ...*ir.Value) {
	types := make([]ir.Type, len(values))
	for i, v := range values {
		types[i] = v.Type()
	}
	tf.b.Create(ir.ReturnOpName, values, nil)
	ft := tf.fn.Type()
	ft.Results = types
	tf.fn.SetType(ft)
}

func onnxAttr(name string, value ir.Attribute) ir.NamedAttr {
	return ir.NamedAttr{Name: torch.OnnxAttrPrefix + name, Value: value}
}

func intAttrOf(name string, v int64) ir.NamedAttr { return onnxAttr(name, ir.SI64Attr(v)) }

func floatAttrOf(name string, v float32) ir.NamedAttr { return onnxAttr(name, ir.F32Attr(v)) }

// countOps returns the number of operations with the given name in the module.
func countOps(m *ir.Module, name string) int {
	n := 0
	m.Op().Walk(func(op *ir.Operation) {
		if op.Name() == name {
			n++
		}
	})
	return n
}

// findOps returns the operations with the given name, in program order.
func findOps(m *ir.Module, name string) []*ir.Operation {
	var ops []*ir.Operation
	m.Op().Walk(func(op *ir.Operation) {
		if op.Name() == name {
			ops = append(ops, op)
		}
	})
	return ops
}

func countOnnxOps(m *ir.Module) int {
	n := 0
	m.Op().Walk(func(op *ir.Operation) {
		if _, ok := torch.IsOnnxOperator(op); ok {
			n++
		}
	})
	return n
}

// convertAll runs the default registry and requires every operator to be converted
// into a verifiable module.
func convertAll(t *testing.T, tf *testFunc) *Report {
	t.Helper()
	report, err := Convert(tf.module, DefaultRegistry(), Options{})
	require.NoError(t, err)
	require.NoError(t, ir.Verify(tf.module))
	require.Zero(t, countOnnxOps(tf.module))
	return report
}

// convertExpectingFailure runs the default registry in partial mode, requires the module
// to be left unchanged, and returns the reason of the single failure.
func convertExpectingFailure(t *testing.T, tf *testFunc) string {
	t.Helper()
	before := tf.module.String()
	report, err := Convert(tf.module, DefaultRegistry(), Options{AllowUnconverted: true})
	require.NoError(t, err)
	require.Equal(t, before, tf.module.String(), "a failing rule must not modify the module")
	unconverted := report.Unconverted()
	require.Len(t, unconverted, 1)
	return unconverted[0].Reason
}

// Common types.
var (
	scalarF32 = torch.VTensor(ir.F32)
	scalarUI8 = torch.VTensor(ir.UI8)
	scalarSI8 = torch.VTensor(ir.SI8)
)
