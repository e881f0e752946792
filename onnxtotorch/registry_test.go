package onnxtotorch

import (
	"testing"

	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/rewrite"
	"github.com/gomlx/onnx-torch/torch"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replaceWith returns a handler replacing the operator by aten.<name>, recording its calls.
func replaceWith(name string, calls *[]string) Handler {
	return func(b *OpBinder, rw *rewrite.Rewriter) error {
		*calls = append(*calls, name)
		rw.ReplaceOpWithNewOp(b.Op(), "torch.aten."+name, b.Op().Operands(), b.Op().ResultTypes())
		return nil
	}
}

func failWith(name string, calls *[]string) Handler {
	return func(b *OpBinder, rw *rewrite.Rewriter) error {
		*calls = append(*calls, name)
		torch.ConstantInt(rw, 7) // Must be rolled back.
		return rw.NotifyMatchFailure(b.Op(), "%s declined", name)
	}
}

func TestRegistryLookup(t *testing.T) {
	var calls []string
	r := NewRegistry()
	r.OnOp("Foo", 1, replaceWith("foo1", &calls))
	r.OnOp("Foo", 5, replaceWith("foo5", &calls))
	r.OnOp("Bar", 13, replaceWith("bar", &calls))

	assert.Equal(t, []string{"Bar", "Foo"}, r.Ops())
	assert.Equal(t, []int{5, 1}, r.Versions("Foo"))

	_, version, found := r.Lookup("Foo", 3)
	require.True(t, found)
	assert.Equal(t, 1, version)
	_, version, found = r.Lookup("Foo", 5)
	require.True(t, found)
	assert.Equal(t, 5, version)
	_, version, found = r.Lookup("Foo", 21)
	require.True(t, found)
	assert.Equal(t, 5, version)
	_, _, found = r.Lookup("Bar", 12)
	assert.False(t, found)
	_, _, found = r.Lookup("Baz", 21)
	assert.False(t, found)

	// Re-registering the same version replaces the rule.
	r.OnOp("Foo", 1, replaceWith("foo1b", &calls))
	assert.Equal(t, []int{5, 1}, r.Versions("Foo"))
}

func TestConvertDispatch(t *testing.T) {
	t.Run("highest version not above the opset", func(t *testing.T) {
		var calls []string
		r := NewRegistry()
		r.OnOp("Foo", 1, replaceWith("foo1", &calls))
		r.OnOp("Foo", 5, replaceWith("foo5", &calls))

		x := torch.VTensor(ir.F32, 2)
		tf := newTestFunc(3, x)
		foo := tf.onnxOp("Foo", tf.args(), []ir.Type{x})
		tf.ret(foo.Result(0))
		report, err := Convert(tf.module, r, Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"foo1"}, calls)
		require.Len(t, report.Outcomes, 1)
		assert.Equal(t, Outcome{Func: "main", Op: "Foo", Version: 3, Rule: 1, Replaced: true}, report.Outcomes[0])
		assert.Equal(t, 1, countOps(tf.module, "torch.aten.foo1"))
	})

	t.Run("operator level opset", func(t *testing.T) {
		var calls []string
		r := NewRegistry()
		r.OnOp("Foo", 1, replaceWith("foo1", &calls))
		r.OnOp("Foo", 5, replaceWith("foo5", &calls))

		x := torch.VTensor(ir.F32, 2)
		tf := newTestFunc(3, x)
		foo := tf.onnxOp("Foo", tf.args(), []ir.Type{x},
			ir.NamedAttr{Name: torch.OpsetVersionAttr, Value: ir.SI64Attr(7)})
		tf.ret(foo.Result(0))
		_, err := Convert(tf.module, r, Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"foo5"}, calls)
	})

	t.Run("fallback to lower versions", func(t *testing.T) {
		var calls []string
		r := NewRegistry()
		r.OnOp("Foo", 1, replaceWith("foo1", &calls))
		r.OnOp("Foo", 5, failWith("foo5", &calls))

		x := torch.VTensor(ir.F32, 2)
		tf := newTestFunc(9, x)
		foo := tf.onnxOp("Foo", tf.args(), []ir.Type{x})
		tf.ret(foo.Result(0))
		report, err := Convert(tf.module, r, Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"foo5", "foo1"}, calls)
		assert.Equal(t, 1, report.Outcomes[0].Rule)
		assert.Zero(t, countOps(tf.module, torch.ConstantIntOp))
	})

	t.Run("opset override", func(t *testing.T) {
		var calls []string
		r := NewRegistry()
		r.OnOp("Foo", 1, replaceWith("foo1", &calls))
		r.OnOp("Foo", 5, replaceWith("foo5", &calls))

		x := torch.VTensor(ir.F32, 2)
		tf := newTestFunc(3, x)
		foo := tf.onnxOp("Foo", tf.args(), []ir.Type{x})
		tf.ret(foo.Result(0))
		_, err := Convert(tf.module, r, Options{OpsetOverride: 6})
		require.NoError(t, err)
		assert.Equal(t, []string{"foo5"}, calls)
	})
}

func TestConvertUnconverted(t *testing.T) {
	var calls []string
	r := NewRegistry()
	r.OnOp("Foo", 1, failWith("foo", &calls))
	r.OnOp("Bar", 1, replaceWith("bar", &calls))

	build := func() *testFunc {
		x := torch.VTensor(ir.F32, 2)
		tf := newTestFunc(13, x)
		foo := tf.onnxOp("Foo", tf.args(), []ir.Type{x})
		bar := tf.onnxOp("Bar", foo.Results(), []ir.Type{x})
		baz := tf.onnxOp("Baz", bar.Results(), []ir.Type{x})
		tf.ret(baz.Result(0))
		return tf
	}

	t.Run("strict", func(t *testing.T) {
		tf := build()
		report, err := Convert(tf.module, r, Options{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnconverted))
		assert.Contains(t, err.Error(), "foo declined")
		assert.Contains(t, err.Error(), "unsupported operator/version")
		assert.Equal(t, 1, report.NumReplaced())
		assert.Len(t, report.Unconverted(), 2)
	})

	t.Run("partial", func(t *testing.T) {
		tf := build()
		report, err := Convert(tf.module, r, Options{AllowUnconverted: true})
		require.NoError(t, err)
		assert.Len(t, report.Unconverted(), 2)
		assert.Equal(t, 2, countOnnxOps(tf.module))
		require.NoError(t, ir.Verify(tf.module))
	})

	t.Run("disabled", func(t *testing.T) {
		tf := build()
		report, err := Convert(tf.module, r, Options{AllowUnconverted: true, Disabled: []string{"Bar"}})
		require.NoError(t, err)
		assert.Zero(t, report.NumReplaced())
		var reasons []string
		for _, o := range report.Outcomes {
			reasons = append(reasons, o.Reason)
		}
		assert.Contains(t, reasons, "disabled")
	})

	t.Run("panicking rule", func(t *testing.T) {
		r := NewRegistry()
		r.OnOp("Foo", 1, func(b *OpBinder, rw *rewrite.Rewriter) error {
			torch.Op(rw, "torch.aten.bad", b.Op().ResultTypes()[0], nil)
			return nil
		})
		x := torch.VTensor(ir.F32, 2)
		tf := newTestFunc(13, x)
		foo := tf.onnxOp("Foo", tf.args(), []ir.Type{x})
		tf.ret(foo.Result(0))
		report, err := Convert(tf.module, r, Options{AllowUnconverted: true})
		require.NoError(t, err)
		require.Len(t, report.Unconverted(), 1)
		assert.Contains(t, report.Outcomes[0].Reason, "panicked")
	})
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	for _, name := range []string{
		"AveragePool", "DequantizeLinear", "FusedMatMul", "GroupQueryAttention", "QLinearAdd",
		"QLinearAveragePool", "QLinearConcat", "QLinearGlobalAveragePool", "QLinearLeakyRelu",
		"QLinearMul", "QLinearSigmoid", "QuantizeLinear", "RotaryEmbedding",
	} {
		assert.Contains(t, r.Ops(), name)
	}
	_, _, found := r.Lookup("DequantizeLinear", 9)
	assert.False(t, found)
}
