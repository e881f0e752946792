package torchconversion

import (
	"strings"

	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/rewrite"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Arithmetic operations folded after finalization.
const (
	ExtFOp   = "arith.extf"
	TruncFOp = "arith.truncf"
)

// foldMaxIterations bounds the greedy truncf(extf(x)) folding.
var foldMaxIterations = rewrite.DefaultMaxIterations

// torchAttrPrefix marks function attributes only meaningful before backend conversion.
const torchAttrPrefix = "torch."

// FinalizingBackendTypeConversion removes the torch_c materializations left by
// FuncBackendTypeConversion and the lowering of the function bodies, once every other
// operation uses builtin types. It then folds truncf(extf(x)) into x and strips the
// torch.* attributes of functions.
//
// If any operation still uses Torch types, m is left as it was and the returned error
// wraps rewrite.ErrIllegal. If the folding doesn't converge, m is also restored and the
// error wraps rewrite.ErrNotConverged.
func FinalizingBackendTypeConversion(m *ir.Module) error {
	return finalizingBackendTypeConversion(m, Default)
}

// FinalizingBackendTypeConversionForStablehlo is FinalizingBackendTypeConversion for
// the StableHLO backend. It does not fold truncf(extf(x)).
func FinalizingBackendTypeConversionForStablehlo(m *ir.Module) error {
	return finalizingBackendTypeConversion(m, Stablehlo)
}

func finalizingBackendTypeConversion(m *ir.Module, backend Backend) error {
	target := rewrite.NewConversionTarget()
	converter := newTypeConverter(target, backend)

	target.AddIllegalOp(MaterializationOps...)
	target.AddLegalOp(ir.ModuleOpName)
	target.AddDynamicallyLegalOp(ir.FuncOpName, func(op *ir.Operation) bool {
		fn, _ := ir.AsFunc(op)
		return converter.IsSignatureLegal(fn.Type()) && converter.IsRegionLegal(fn.Body())
	})
	target.MarkUnknownOpDynamicallyLegal(converter.IsLegalOp)

	patterns := make([]rewrite.Pattern, 0, len(MaterializationOps))
	for _, name := range MaterializationOps {
		patterns = append(patterns, rewrite.PatternFunc{Root: name, Fn: finalizeMaterialization})
	}
	var snapshot *ir.Module
	if backend != Stablehlo {
		snapshot = m.Clone()
	}
	if err := rewrite.ApplyFullConversion(m, target, patterns); err != nil {
		return errors.WithMessagef(err, "while finalizing types for the %s backend", backend)
	}

	if backend != Stablehlo {
		changed, err := rewrite.ApplyPatternsGreedily(m.Op(), []rewrite.Pattern{
			rewrite.PatternFunc{Root: TruncFOp, Fn: foldExtFTruncF},
		}, foldMaxIterations)
		if err != nil {
			m.Restore(snapshot)
			return errors.WithMessage(err, "while folding truncf(extf(x))")
		}
		if changed {
			klog.V(2).Infof("folded truncf(extf(x)) pairs")
		}
	}

	stripped := stripTorchAttrs(m)
	klog.V(1).Infof("finalizing backend type conversion (%s): %d torch attribute(s) stripped", backend, stripped)
	return nil
}

// finalizeMaterialization forwards the input of a materialization to its users.
func finalizeMaterialization(op *ir.Operation, rw *rewrite.Rewriter) error {
	if op.NumOperands() != 1 || op.NumResults() != 1 {
		return rw.NotifyMatchFailure(op, "expected one operand and one result")
	}
	rw.ReplaceOp(op, []*ir.Value{op.Operand(0)})
	return nil
}

// foldExtFTruncF replaces truncf(extf(x)) by x when x already has the result type.
func foldExtFTruncF(op *ir.Operation, rw *rewrite.Rewriter) error {
	ext := op.Operand(0).DefiningOp()
	if ext == nil || ext.Name() != ExtFOp {
		return rw.NotifyMatchFailure(op, "operand is not produced by %s", ExtFOp)
	}
	x := ext.Operand(0)
	if !ir.TypesEqual(x.Type(), op.Result(0).Type()) {
		return rw.NotifyMatchFailure(op, "%s and %s round trip changes type", ExtFOp, TruncFOp)
	}
	rw.ReplaceOp(op, []*ir.Value{x})
	if len(ext.Result(0).Uses()) == 1 {
		rw.EraseOp(ext)
	}
	return nil
}

// stripTorchAttrs removes the torch.* attributes of all functions and returns how many.
func stripTorchAttrs(m *ir.Module) int {
	count := 0
	for _, fn := range m.Funcs() {
		for _, attr := range fn.Op().Attrs() {
			if strings.HasPrefix(attr.Name, torchAttrPrefix) && fn.Op().RemoveAttr(attr.Name) {
				count++
			}
		}
	}
	return count
}
