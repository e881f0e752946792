package onnxtotorch

import (
	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/rewrite"
	"github.com/gomlx/onnx-torch/torch"
)

// populateComMicrosoftDomain registers the conversions of the com.microsoft operators.
func populateComMicrosoftDomain(r *Registry) {
	r.OnOp("RotaryEmbedding", 1, convertRotaryEmbedding)
	r.OnOp("GroupQueryAttention", 1, convertGroupQueryAttention)
	r.OnOp("FusedMatMul", 1, convertFusedMatMul)
	r.OnOp("QLinearAdd", 1, convertQLinearAdd)
	r.OnOp("QLinearMul", 1, convertQLinearMul)
	r.OnOp("QLinearLeakyRelu", 1, convertQLinearLeakyRelu)
	r.OnOp("QLinearSigmoid", 1, convertQLinearSigmoid)
	r.OnOp("QLinearConcat", 1, convertQLinearConcat)
	r.OnOp("QLinearGlobalAveragePool", 1, convertQLinearGlobalAveragePool)
	r.OnOp("QLinearAveragePool", 1, convertQLinearAveragePool)
}

// convertRotaryEmbedding maps com.microsoft.RotaryEmbedding to torch.onnx.rotary_embedding.
func convertRotaryEmbedding(b *OpBinder, rw *rewrite.Rewriter) error {
	op := b.Op()
	if b.NumOperands() != 4 {
		return rw.NotifyMatchFailure(op, "unimplemented arity: expected 4 operands, got %d", b.NumOperands())
	}
	operands, err := b.TensorOperandsList()
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	interleaved, err := b.S64IntegerAttr("interleaved", 0)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	isPackedBatching, err := b.S64IntegerAttr("is_packed_batching", 0)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	numHeads, err := b.S64IntegerAttr("num_heads", 0)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	rotaryEmbeddingDim, err := b.S64IntegerAttr("rotary_embedding_dim", 0)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	scale, err := b.F32FloatAttr("scale", 1.0)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	resultType, err := b.TensorResultType()
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}

	rotary := rotaryEmbeddingArgs{
		interleaved:        interleaved,
		isPackedBatching:   isPackedBatching,
		numHeads:           numHeads,
		rotaryEmbeddingDim: rotaryEmbeddingDim,
		scale:              float64(scale),
	}
	result := rotary.emit(rw, resultType, operands[0], operands[1], operands[2], operands[3])
	rw.ReplaceOp(op, []*ir.Value{result})
	return nil
}

type rotaryEmbeddingArgs struct {
	interleaved, isPackedBatching, numHeads, rotaryEmbeddingDim int64
	scale                                                       float64
}

func (a rotaryEmbeddingArgs) emit(rw *rewrite.Rewriter, resultType ir.Type, input, positionIDs, cosCache, sinCache *ir.Value) *ir.Value {
	return torch.Op(rw, torch.OnnxRotaryEmbedding, resultType,
		input, positionIDs, cosCache, sinCache,
		torch.ConstantInt(rw, a.interleaved),
		torch.ConstantInt(rw, a.isPackedBatching),
		torch.ConstantInt(rw, a.numHeads),
		torch.ConstantInt(rw, a.rotaryEmbeddingDim),
		torch.ConstantFloat(rw, a.scale))
}

// gqaAttributes are the attributes of com.microsoft.GroupQueryAttention.
type gqaAttributes struct {
	doRotary          bool
	kvNumHeads        int64
	localWindowSize   int64
	numHeads          int64
	rotaryInterleaved int64
	scale             float32
	smoothSoftmax     int64
	softcap           float32
}

func bindGQAAttributes(b *OpBinder) (attrs gqaAttributes, err error) {
	if attrs.doRotary, err = b.S64BoolAttr("do_rotary", false); err != nil {
		return
	}
	if attrs.kvNumHeads, err = b.S64IntegerAttr("kv_num_heads", 0); err != nil {
		return
	}
	if attrs.localWindowSize, err = b.S64IntegerAttr("local_window_size", -1); err != nil {
		return
	}
	if attrs.numHeads, err = b.S64IntegerAttr("num_heads", 0); err != nil {
		return
	}
	if attrs.rotaryInterleaved, err = b.S64IntegerAttr("rotary_interleaved", 0); err != nil {
		return
	}
	if attrs.scale, err = b.F32FloatAttr("scale", 0); err != nil {
		return
	}
	if attrs.smoothSoftmax, err = b.S64IntegerAttr("smooth_softmax", 0); err != nil {
		return
	}
	attrs.softcap, err = b.F32FloatAttr("softcap", 0)
	return
}

// convertGroupQueryAttention lowers com.microsoft.GroupQueryAttention.
//
// Operands: query, key, value, past_key, past_value, seqlens_k, total_sequence_length
// and, with do_rotary, cos_cache and sin_cache. Results: output, present_key,
// present_value.
func convertGroupQueryAttention(b *OpBinder, rw *rewrite.Rewriter) error {
	op := b.Op()
	operands, err := b.TensorOperandsList()
	if err != nil {
		return rw.NotifyMatchFailure(op, "operands bind failure: %v", err)
	}
	resultTypes, err := b.TensorResultTypes()
	if err != nil {
		return rw.NotifyMatchFailure(op, "result types bind failure: %v", err)
	}
	if len(resultTypes) != 3 {
		return rw.NotifyMatchFailure(op, "expected 3 results, got %d", len(resultTypes))
	}
	attrs, err := bindGQAAttributes(b)
	if err != nil {
		return rw.NotifyMatchFailure(op, "attributes bind failure: %v", err)
	}
	if !(len(operands) == 9 || (!attrs.doRotary && len(operands) == 7)) {
		return rw.NotifyMatchFailure(op, "unimplemented arity: expected 9 operands (or 7 without do_rotary), got %d", len(operands))
	}
	if attrs.localWindowSize != -1 {
		return rw.NotifyMatchFailure(op, "unimplemented attribute value: local_window_size=%d, only -1 is supported", attrs.localWindowSize)
	}
	if attrs.numHeads == 0 || attrs.kvNumHeads == 0 {
		return rw.NotifyMatchFailure(op, "num_heads and kv_num_heads are required and must be non-zero")
	}
	if attrs.smoothSoftmax != 0 {
		return rw.NotifyMatchFailure(op, "unimplemented attribute value: smooth_softmax=%d, only 0 is supported", attrs.smoothSoftmax)
	}
	if attrs.softcap != 0 {
		return rw.NotifyMatchFailure(op, "unimplemented attribute value: softcap=%g, only 0.0 is supported", attrs.softcap)
	}

	query, key, value := operands[0], operands[1], operands[2]
	pastKey, pastValue := operands[3], operands[4]
	seqlensK, totalSequenceLength := operands[5], operands[6]
	queryType, _ := torch.AsValueTensor(query.Type())
	if !queryType.AreAllSizesKnown() {
		return rw.NotifyMatchFailure(op, "shape not statically known: query is %s", queryType)
	}
	if queryType.Rank() != 3 {
		return rw.NotifyMatchFailure(op, "query must be (batch, sequence, hidden), got %s", queryType)
	}
	batchSize, sequenceLength, hiddenSize := queryType.Sizes[0], queryType.Sizes[1], queryType.Sizes[2]
	if hiddenSize%attrs.numHeads != 0 {
		return rw.NotifyMatchFailure(op, "hidden size %d is not divisible by num_heads=%d", hiddenSize, attrs.numHeads)
	}
	if attrs.numHeads%attrs.kvNumHeads != 0 {
		return rw.NotifyMatchFailure(op, "num_heads=%d is not a multiple of kv_num_heads=%d", attrs.numHeads, attrs.kvNumHeads)
	}
	headSize := hiddenSize / attrs.numHeads
	keyType, _ := torch.AsValueTensor(key.Type())
	valueType, _ := torch.AsValueTensor(value.Type())
	pastKeyType, _ := torch.AsValueTensor(pastKey.Type())
	pastValueType, _ := torch.AsValueTensor(pastValue.Type())

	cstBatchSize := torch.ConstantInt(rw, batchSize)
	cstSequenceLength := torch.ConstantInt(rw, sequenceLength)
	cstHiddenSize := torch.ConstantInt(rw, hiddenSize)
	cstHeadSize := torch.ConstantInt(rw, headSize)
	cstNumHeads := torch.ConstantInt(rw, attrs.numHeads)
	cstKVNumHeads := torch.ConstantInt(rw, attrs.kvNumHeads)

	// (batch, sequence, hidden) -> (batch, heads, sequence, head_size).
	querySizes := torch.ListConstruct(rw, torch.IntType, cstBatchSize, cstNumHeads, cstSequenceLength, cstHeadSize)
	qInput := torch.Op(rw, torch.AtenReshape,
		queryType.WithSizesAndDtype([]int64{batchSize, attrs.numHeads, sequenceLength, headSize}, queryType.Dtype),
		query, querySizes)
	kvSizesInt := []int64{batchSize, attrs.kvNumHeads, sequenceLength, headSize}
	kvSizes := torch.ListConstruct(rw, torch.IntType, cstBatchSize, cstKVNumHeads, cstSequenceLength, cstHeadSize)
	kInput := torch.Op(rw, torch.AtenReshape, keyType.WithSizesAndDtype(kvSizesInt, keyType.Dtype), key, kvSizes)
	vInput := torch.Op(rw, torch.AtenReshape, valueType.WithSizesAndDtype(kvSizesInt, valueType.Dtype), value, kvSizes)

	cstNone := torch.ConstantNone(rw)
	cstFalse := torch.ConstantBool(rw, false)

	qRotary, kRotary := qInput, kInput
	if attrs.doRotary {
		positionIDs := emitGQAPositionIDs(rw, gqaPositions{
			batchSize:           batchSize,
			sequenceLength:      sequenceLength,
			cstBatchSize:        cstBatchSize,
			cstSequenceLength:   cstSequenceLength,
			cstNone:             cstNone,
			cstFalse:            cstFalse,
			seqlensK:            seqlensK,
			totalSequenceLength: totalSequenceLength,
		})
		rotary := rotaryEmbeddingArgs{interleaved: attrs.rotaryInterleaved, scale: 1.0}
		cosCache, sinCache := operands[7], operands[8]
		qRotary = rotary.emit(rw, qInput.Type(), qInput, positionIDs, cosCache, sinCache)
		kRotary = rotary.emit(rw, kInput.Type(), kInput, positionIDs, cosCache, sinCache)
	}

	cstEnableGQA := torch.ConstantBool(rw, true)
	cstDropout := torch.ConstantFloat(rw, 0.0)
	cstScale := cstNone
	if attrs.scale != 0 {
		cstScale = torch.ConstantFloat(rw, float64(attrs.scale))
	}
	attention := torch.Op(rw, torch.AtenSDPA, qRotary.Type(),
		qRotary, kRotary, vInput, cstNone, cstDropout, cstFalse, cstScale, cstEnableGQA)
	// (batch, heads, sequence, head_size) -> (batch, sequence, hidden).
	resultSizes := torch.ListConstruct(rw, torch.IntType, cstBatchSize, cstSequenceLength, cstHiddenSize)
	attention = torch.Op(rw, torch.AtenReshape, resultTypes[0], attention, resultSizes)

	presentKey := appendToCache(rw, pastKey, pastKeyType, kRotary, resultTypes[1])
	presentValue := appendToCache(rw, pastValue, pastValueType, vInput, resultTypes[2])
	rw.ReplaceOp(op, []*ir.Value{attention, presentKey, presentValue})
	return nil
}

// appendToCache concatenates the new key (or value) to the past cache along the sequence
// axis, unless the declared present type has the same sizes as the past: then the
// cache is returned unchanged.
func appendToCache(rw *rewrite.Rewriter, past *ir.Value, pastType torch.ValueTensorType, current *ir.Value, presentType torch.ValueTensorType) *ir.Value {
	if sameSizes(pastType, presentType) {
		return past
	}
	list := torch.ListConstruct(rw, torch.ValueTensorType{}, past, current)
	return torch.Op(rw, torch.AtenCat, presentType, list, torch.ConstantInt(rw, 2))
}

func sameSizes(a, b torch.ValueTensorType) bool {
	if a.HasSizes() != b.HasSizes() || len(a.Sizes) != len(b.Sizes) {
		return false
	}
	for i := range a.Sizes {
		if a.Sizes[i] != b.Sizes[i] {
			return false
		}
	}
	return true
}

type gqaPositions struct {
	batchSize, sequenceLength      int64
	cstBatchSize, cstSequenceLength *ir.Value
	cstNone, cstFalse              *ir.Value
	seqlensK, totalSequenceLength  *ir.Value
}

// emitGQAPositionIDs computes the rotary position ids of GroupQueryAttention:
//
//	continuation = sequence_length > 1 && sequence_length != total_sequence_length
//	fresh = arange(sequence_length).repeat(batch_size, 1)
//	cache_length = seqlens_k + 1
//	past = cache_length - sequence_length
//	pos = fresh + past.view(-1, 1)
//	pos = where(pos < cache_length.view(-1, 1), pos, 1)
//	position_ids = where(continuation, pos, fresh)
//
// Positions beyond the cache length are set to 1, as the onnxruntime kernels do.
func emitGQAPositionIDs(rw *rewrite.Rewriter, p gqaPositions) *ir.Value {
	si64 := ir.SI64
	positionIDsType := torch.VTensor(si64, p.batchSize, p.sequenceLength)

	totalSeqLen := torch.Op(rw, torch.AtenItem, torch.IntType, p.totalSequenceLength)
	cstOne := torch.ConstantInt(rw, 1)
	condA := torch.Op(rw, torch.AtenGtInt, torch.BoolType, p.cstSequenceLength, cstOne)
	condB := torch.Op(rw, torch.AtenNeInt, torch.BoolType, p.cstSequenceLength, totalSeqLen)
	continuation := torch.Op(rw, torch.AtenAndBool, torch.BoolType, condA, condB)

	cstLong := torch.ConstantInt(rw, int64(torch.Long))
	posSizes := torch.ListConstruct(rw, torch.IntType, p.cstBatchSize, p.cstSequenceLength)

	seqlensKType, _ := torch.AsValueTensor(p.seqlensK.Type())
	seqlensK := torch.Op(rw, torch.AtenToDtype, seqlensKType.WithDtype(si64),
		p.seqlensK, cstLong, p.cstFalse, p.cstFalse, p.cstNone)
	cacheLength := torch.Op(rw, torch.AtenAddScalar, seqlensK.Type(), seqlensK, cstOne, cstOne)
	pastLength := torch.Op(rw, torch.AtenSubScalar, cacheLength.Type(), cacheLength, p.cstSequenceLength, cstOne)

	arange := torch.Op(rw, torch.AtenArange, torch.VTensor(si64, p.sequenceLength),
		p.cstSequenceLength, cstLong, p.cstNone, p.cstNone, p.cstNone)
	repeats := torch.ListConstruct(rw, torch.IntType, p.cstBatchSize, cstOne)
	fresh := torch.Op(rw, torch.AtenRepeat, positionIDsType, arange, repeats)

	columnSizes := torch.ListConstruct(rw, torch.IntType, torch.ConstantInt(rw, -1), cstOne)
	columnType := torch.VTensor(si64, p.batchSize, 1)
	pastColumn := torch.Op(rw, torch.AtenView, columnType, pastLength, columnSizes)
	positions := torch.Op(rw, torch.AtenAddTensor, positionIDsType, fresh, pastColumn, cstOne)
	cacheColumn := torch.Op(rw, torch.AtenView, columnType, cacheLength, columnSizes)
	inCache := torch.Op(rw, torch.AtenLtTensor, positionIDsType.WithDtype(ir.I1), positions, cacheColumn)
	cstOneTensor := torch.Op(rw, torch.AtenTensorInt, torch.VTensor(si64), cstOne, cstLong, p.cstNone, p.cstFalse)
	positions = torch.Op(rw, torch.AtenWhereSelf, positionIDsType, inCache, positions, cstOneTensor)

	continuationInt := torch.Op(rw, torch.AtenIntBool, torch.IntType, continuation)
	continuationMask := torch.Op(rw, torch.AtenFull, positionIDsType.WithDtype(ir.I1),
		posSizes, continuationInt, torch.ConstantInt(rw, int64(torch.Bool)), p.cstNone, p.cstNone, p.cstNone)
	return torch.Op(rw, torch.AtenWhereSelf, positionIDsType, continuationMask, positions, fresh)
}

// convertFusedMatMul lowers com.microsoft.FusedMatMul: optional transposition of the last
// two axes of each operand followed by aten.matmul.
func convertFusedMatMul(b *OpBinder, rw *rewrite.Rewriter) error {
	op := b.Op()
	operands, err := b.TensorOperands(2)
	if err != nil {
		return rw.NotifyMatchFailure(op, "unimplemented arity: %v", err)
	}
	var trans [4]bool
	for i, name := range []string{"transA", "transB", "transBatchA", "transBatchB"} {
		if trans[i], err = b.S64BoolAttr(name, false); err != nil {
			return rw.NotifyMatchFailure(op, "%v", err)
		}
	}
	transA, transB, transBatchA, transBatchB := trans[0], trans[1], trans[2], trans[3]
	alpha, err := b.F32FloatAttr("alpha", 1.0)
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	resultType, err := b.TensorResultType()
	if err != nil {
		return rw.NotifyMatchFailure(op, "%v", err)
	}
	if transBatchA || transBatchB {
		return rw.NotifyMatchFailure(op, "unimplemented attribute value: transBatchA and transBatchB are not supported")
	}
	if alpha != 1.0 {
		return rw.NotifyMatchFailure(op, "unimplemented attribute value: alpha=%g, only 1.0 is supported", alpha)
	}
	lhs, rhs := operands[0], operands[1]
	if transA && torchRank(lhs) < 2 {
		return rw.NotifyMatchFailure(op, "unimplemented: transA requires a ranked lhs of rank >= 2, got %s", lhs.Type())
	}
	if transB && torchRank(rhs) < 2 {
		return rw.NotifyMatchFailure(op, "unimplemented: transB requires a ranked rhs of rank >= 2, got %s", rhs.Type())
	}
	if transA {
		lhs = transposeLastTwo(rw, lhs)
	}
	if transB {
		rhs = transposeLastTwo(rw, rhs)
	}
	rw.ReplaceOpWithNewOp(op, torch.AtenMatmul, []*ir.Value{lhs, rhs}, []ir.Type{resultType})
	return nil
}

// torchRank returns the rank of a tensor value, or -1 if unranked.
func torchRank(v *ir.Value) int {
	vt, ok := torch.AsValueTensor(v.Type())
	if !ok {
		return -1
	}
	return vt.Rank()
}

// transposeLastTwo emits aten.transpose.int swapping the last two axes of v, which must
// have rank >= 2.
func transposeLastTwo(rw *rewrite.Rewriter, v *ir.Value) *ir.Value {
	vt, _ := torch.AsValueTensor(v.Type())
	rank := vt.Rank()
	return createTranspose(rw, v, rank-2, rank-1)
}

// createTranspose emits aten.transpose.int of the axes dimA and dimB.
func createTranspose(rw *rewrite.Rewriter, v *ir.Value, dimA, dimB int) *ir.Value {
	vt, _ := torch.AsValueTensor(v.Type())
	sizes := append([]int64{}, vt.Sizes...)
	sizes[dimA], sizes[dimB] = sizes[dimB], sizes[dimA]
	return torch.Op(rw, torch.AtenTransposeInt, vt.WithSizesAndDtype(sizes, vt.Dtype),
		v, torch.ConstantInt(rw, int64(dimA)), torch.ConstantInt(rw, int64(dimB)))
}
