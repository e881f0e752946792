package onnxtotorch

import (
	"testing"

	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/torch"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGolden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".mlir"))
}

func TestRotaryEmbedding(t *testing.T) {
	input := torch.VTensor(ir.F32, 1, 2, 3, 4)
	positions := torch.VTensor(ir.SI64, 1, 3)
	cache := torch.VTensor(ir.F32, 8, 2)

	t.Run("converts", func(t *testing.T) {
		tf := newTestFunc(1, input, positions, cache, cache)
		op := tf.onnxOp("RotaryEmbedding", tf.args(), []ir.Type{input},
			intAttrOf("interleaved", 1), intAttrOf("num_heads", 2))
		tf.ret(op.Result(0))
		convertAll(t, tf)
		rotary := findOps(tf.module, torch.OnnxRotaryEmbedding)
		require.Len(t, rotary, 1)
		require.Equal(t, 9, rotary[0].NumOperands())
		for i := range 4 {
			assert.Equal(t, tf.arg(i), rotary[0].Operand(i))
		}
		interleaved, _ := torch.ConstantIntValue(rotary[0].Operand(4))
		numHeads, _ := torch.ConstantIntValue(rotary[0].Operand(6))
		scale, _ := torch.ConstantFloatValue(rotary[0].Operand(8))
		assert.Equal(t, int64(1), interleaved)
		assert.Equal(t, int64(2), numHeads)
		assert.Equal(t, 1.0, scale)
	})

	t.Run("wrong arity", func(t *testing.T) {
		tf := newTestFunc(1, input, positions, cache)
		op := tf.onnxOp("RotaryEmbedding", tf.args(), []ir.Type{input})
		tf.ret(op.Result(0))
		assert.Contains(t, convertExpectingFailure(t, tf), "expected 4 operands, got 3")
	})
}

// gqaConfig describes a GroupQueryAttention test case.
type gqaConfig struct {
	batch, seq, numHeads, kvNumHeads, headSize int64
	pastSeq, presentSeq                        int64
	doRotary                                   bool
	extraAttrs                                 []ir.NamedAttr
	dynamicQuery                               bool
}

func (c gqaConfig) build() (*testFunc, *ir.Operation) {
	hidden := c.numHeads * c.headSize
	kvHidden := c.kvNumHeads * c.headSize
	queryType := torch.VTensor(ir.F32, c.batch, c.seq, hidden)
	if c.dynamicQuery {
		queryType = torch.VTensor(ir.F32, c.batch, ir.DynamicSize, hidden)
	}
	inputs := []ir.Type{
		queryType,
		torch.VTensor(ir.F32, c.batch, c.seq, kvHidden),
		torch.VTensor(ir.F32, c.batch, c.seq, kvHidden),
		torch.VTensor(ir.F32, c.batch, c.kvNumHeads, c.pastSeq, c.headSize),
		torch.VTensor(ir.F32, c.batch, c.kvNumHeads, c.pastSeq, c.headSize),
		torch.VTensor(ir.SI32, c.batch),
		torch.VTensor(ir.SI32, 1),
	}
	if c.doRotary {
		inputs = append(inputs, torch.VTensor(ir.F32, 16, c.headSize/2), torch.VTensor(ir.F32, 16, c.headSize/2))
	}
	presentType := torch.VTensor(ir.F32, c.batch, c.kvNumHeads, c.presentSeq, c.headSize)
	tf := newTestFunc(1, inputs...)
	attrs := []ir.NamedAttr{intAttrOf("num_heads", c.numHeads), intAttrOf("kv_num_heads", c.kvNumHeads)}
	if c.doRotary {
		attrs = append(attrs, intAttrOf("do_rotary", 1))
	}
	attrs = append(attrs, c.extraAttrs...)
	op := tf.onnxOp("GroupQueryAttention", tf.args(),
		[]ir.Type{torch.VTensor(ir.F32, c.batch, c.seq, hidden), presentType, presentType}, attrs...)
	tf.ret(op.Results()...)
	return tf, op
}

func TestGroupQueryAttention(t *testing.T) {
	base := gqaConfig{batch: 2, seq: 3, numHeads: 4, kvNumHeads: 2, headSize: 8, pastSeq: 5, presentSeq: 8, doRotary: true}

	t.Run("appends to the cache", func(t *testing.T) {
		tf, _ := base.build()
		convertAll(t, tf)
		assert.Equal(t, 2, countOps(tf.module, torch.AtenCat))
		assert.Equal(t, 2, countOps(tf.module, torch.OnnxRotaryEmbedding))
		sdpa := findOps(tf.module, torch.AtenSDPA)
		require.Len(t, sdpa, 1)
		enableGQA, ok := torch.ConstantBoolValue(sdpa[0].Operand(7))
		require.True(t, ok)
		assert.True(t, enableGQA)
		assert.True(t, torch.IsNone(sdpa[0].Operand(6).Type()), "scale must be None when not set")

		returned := tf.fn.Returns()[0]
		presentKey := returned.Operand(1).DefiningOp()
		require.Equal(t, torch.AtenCat, presentKey.Name())
		list := presentKey.Operand(0).DefiningOp()
		assert.Equal(t, "!torch.list<vtensor>", list.Result(0).Type().String())
		assert.Equal(t, tf.arg(3), list.Operand(0))
		dim, _ := torch.ConstantIntValue(presentKey.Operand(1))
		assert.Equal(t, int64(2), dim)
	})

	t.Run("no new tokens", func(t *testing.T) {
		c := base
		c.presentSeq = c.pastSeq
		tf, _ := c.build()
		convertAll(t, tf)
		assert.Zero(t, countOps(tf.module, torch.AtenCat))
		returned := tf.fn.Returns()[0]
		assert.Equal(t, tf.arg(3), returned.Operand(1))
		assert.Equal(t, tf.arg(4), returned.Operand(2))
	})

	t.Run("without rotary", func(t *testing.T) {
		c := base
		c.doRotary = false
		tf, _ := c.build()
		convertAll(t, tf)
		assert.Zero(t, countOps(tf.module, torch.OnnxRotaryEmbedding))
		assert.Zero(t, countOps(tf.module, torch.AtenArange))
	})

	t.Run("explicit scale", func(t *testing.T) {
		c := base
		c.extraAttrs = []ir.NamedAttr{floatAttrOf("scale", 0.25)}
		tf, _ := c.build()
		convertAll(t, tf)
		sdpa := findOps(tf.module, torch.AtenSDPA)
		require.Len(t, sdpa, 1)
		scale, ok := torch.ConstantFloatValue(sdpa[0].Operand(6))
		require.True(t, ok)
		assert.Equal(t, 0.25, scale)
	})

	t.Run("position ids view", func(t *testing.T) {
		tf, _ := base.build()
		convertAll(t, tf)
		views := findOps(tf.module, torch.AtenView)
		require.Len(t, views, 2)
		for _, view := range views {
			sizes := view.Operand(1).DefiningOp()
			require.Equal(t, 2, sizes.NumOperands())
			first, _ := torch.ConstantIntValue(sizes.Operand(0))
			second, _ := torch.ConstantIntValue(sizes.Operand(1))
			assert.Equal(t, []int64{-1, 1}, []int64{first, second})
			assert.Equal(t, "!torch.vtensor<[2,1],si64>", view.Result(0).Type().String())
		}
	})

	for _, tc := range []struct {
		name   string
		modify func(c *gqaConfig)
		reason string
	}{
		{"local window", func(c *gqaConfig) { c.extraAttrs = []ir.NamedAttr{intAttrOf("local_window_size", 16)} }, "local_window_size"},
		{"smooth softmax", func(c *gqaConfig) { c.extraAttrs = []ir.NamedAttr{intAttrOf("smooth_softmax", 1)} }, "smooth_softmax"},
		{"softcap", func(c *gqaConfig) { c.extraAttrs = []ir.NamedAttr{floatAttrOf("softcap", 30)} }, "softcap"},
		{"dynamic query", func(c *gqaConfig) { c.dynamicQuery = true }, "shape not statically known"},
		{"missing num heads", func(c *gqaConfig) { c.numHeads = 0; c.headSize = 0 }, "non-zero"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.modify(&c)
			tf, _ := c.build()
			assert.Contains(t, convertExpectingFailure(t, tf), tc.reason)
		})
	}

	t.Run("rotary arity", func(t *testing.T) {
		c := base
		c.doRotary = false
		c.extraAttrs = []ir.NamedAttr{intAttrOf("do_rotary", 1)}
		tf, _ := c.build()
		assert.Contains(t, convertExpectingFailure(t, tf), "unimplemented arity")
	})

	t.Run("hidden not divisible", func(t *testing.T) {
		tf := newTestFunc(1)
		query := torch.VTensor(ir.F32, 1, 2, 10)
		kv := torch.VTensor(ir.F32, 1, 2, 5)
		cache := torch.VTensor(ir.F32, 1, 1, 2, 5)
		seq := torch.VTensor(ir.SI32, 1)
		for _, typ := range []ir.Type{query, kv, kv, cache, cache, seq, seq} {
			tf.fn.Entry().AddArgument(typ)
		}
		tf.fn.SetType(ir.FunctionType{Inputs: tf.fn.Entry().ArgTypes()})
		op := tf.onnxOp("GroupQueryAttention", tf.args(), []ir.Type{query, cache, cache},
			intAttrOf("num_heads", 3), intAttrOf("kv_num_heads", 1))
		tf.ret(op.Results()...)
		assert.Contains(t, convertExpectingFailure(t, tf), "not divisible")
	})
}

func TestFusedMatMul(t *testing.T) {
	lhs := torch.VTensor(ir.F32, 2, 3, 4)
	rhs := torch.VTensor(ir.F32, 2, 3, 5)
	result := torch.VTensor(ir.F32, 2, 4, 5)

	t.Run("transA", func(t *testing.T) {
		tf := newTestFunc(21, lhs, rhs)
		op := tf.onnxOp("FusedMatMul", tf.args(), []ir.Type{result}, intAttrOf("transA", 1))
		tf.ret(op.Result(0))
		convertAll(t, tf)

		transposes := findOps(tf.module, torch.AtenTransposeInt)
		require.Len(t, transposes, 1)
		assert.Equal(t, tf.arg(0), transposes[0].Operand(0))
		matmul := findOps(tf.module, torch.AtenMatmul)
		require.Len(t, matmul, 1)
		assert.Equal(t, transposes[0].Result(0), matmul[0].Operand(0))
		assert.Equal(t, tf.arg(1), matmul[0].Operand(1))
		newGolden(t).Assert(t, "fused_matmul_transA", []byte(tf.module.String()))
	})

	t.Run("transB", func(t *testing.T) {
		rhs := torch.VTensor(ir.F32, 2, 5, 4)
		tf := newTestFunc(21, lhs, rhs)
		op := tf.onnxOp("FusedMatMul", tf.args(), []ir.Type{torch.VTensor(ir.F32, 2, 3, 5)}, intAttrOf("transB", 1))
		tf.ret(op.Result(0))
		convertAll(t, tf)
		transposes := findOps(tf.module, torch.AtenTransposeInt)
		require.Len(t, transposes, 1)
		assert.Equal(t, tf.arg(1), transposes[0].Operand(0))
		assert.Equal(t, "!torch.vtensor<[2,4,5],f32>", transposes[0].Result(0).Type().String())
	})

	t.Run("plain", func(t *testing.T) {
		tf := newTestFunc(21, torch.VTensor(ir.F32, 4, 3), torch.VTensor(ir.F32, 3, 5))
		op := tf.onnxOp("FusedMatMul", tf.args(), []ir.Type{torch.VTensor(ir.F32, 4, 5)})
		tf.ret(op.Result(0))
		convertAll(t, tf)
		assert.Zero(t, countOps(tf.module, torch.AtenTransposeInt))
		assert.Equal(t, 1, countOps(tf.module, torch.AtenMatmul))
	})

	for _, tc := range []struct {
		name   string
		attr   ir.NamedAttr
		reason string
	}{
		{"transBatchA", intAttrOf("transBatchA", 1), "transBatchA"},
		{"transBatchB", intAttrOf("transBatchB", 1), "transBatchB"},
		{"alpha", floatAttrOf("alpha", 2), "alpha"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tf := newTestFunc(21, lhs, rhs)
			op := tf.onnxOp("FusedMatMul", tf.args(), []ir.Type{result}, intAttrOf("transA", 1), tc.attr)
			tf.ret(op.Result(0))
			assert.Contains(t, convertExpectingFailure(t, tf), tc.reason)
		})
	}

	t.Run("unranked", func(t *testing.T) {
		tf := newTestFunc(21, torch.ValueTensorType{Dtype: ir.F32}, rhs)
		op := tf.onnxOp("FusedMatMul", tf.args(), []ir.Type{result}, intAttrOf("transA", 1))
		tf.ret(op.Result(0))
		assert.Contains(t, convertExpectingFailure(t, tf), "rank")
	})
}
