package torchconversion

import (
	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/rewrite"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FuncBackendTypeConversion converts the signatures of all functions of m, and the
// calls, returns and branches passing values across them, to builtin types. Values
// flowing into and out of other operations are bridged with torch_c materializations.
//
// On failure m is left as it was and the returned error wraps rewrite.ErrIllegal.
func FuncBackendTypeConversion(m *ir.Module) error {
	return funcBackendTypeConversion(m, Default)
}

// FuncBackendTypeConversionForStablehlo is FuncBackendTypeConversion keeping unsigned
// integer tensors unsigned.
func FuncBackendTypeConversionForStablehlo(m *ir.Module) error {
	return funcBackendTypeConversion(m, Stablehlo)
}

func funcBackendTypeConversion(m *ir.Module, backend Backend) error {
	target := rewrite.NewConversionTarget()
	converter := newTypeConverter(target, backend)

	target.AddLegalOp(ir.ModuleOpName)
	target.AddDynamicallyLegalOp(ir.FuncOpName, func(op *ir.Operation) bool {
		fn, _ := ir.AsFunc(op)
		return converter.IsSignatureLegal(fn.Type()) && converter.IsRegionLegal(fn.Body())
	})
	target.AddDynamicallyLegalOp(ir.CallOpName, converter.IsLegalOp)
	target.MarkUnknownOpDynamicallyLegal(func(op *ir.Operation) bool {
		if isReturnOrBranch(op) {
			return converter.AreLegal(op.OperandTypes())
		}
		return true
	})

	patterns := []rewrite.Pattern{
		rewrite.PatternFunc{Root: ir.FuncOpName, Fn: funcSignaturePattern(converter)},
		rewrite.PatternFunc{Root: ir.CallOpName, Fn: callPattern(converter)},
		rewrite.PatternFunc{Root: ir.ReturnOpName, Fn: operandsPattern(converter)},
		rewrite.PatternFunc{Root: ir.BranchOpName, Fn: operandsPattern(converter)},
		rewrite.PatternFunc{Root: ir.CondBranchOpName, Fn: operandsPattern(converter)},
	}
	if err := rewrite.ApplyFullConversion(m, target, patterns); err != nil {
		return errors.WithMessagef(err, "while converting function boundaries for the %s backend", backend)
	}
	klog.V(1).Infof("func backend type conversion (%s): %d function(s) converted", backend, len(m.Funcs()))
	return nil
}

func isReturnOrBranch(op *ir.Operation) bool {
	switch op.Name() {
	case ir.ReturnOpName, ir.BranchOpName, ir.CondBranchOpName:
		return true
	}
	return len(op.Successors()) > 0
}

// funcSignaturePattern converts the function type and the arguments of every block of
// the function. Uses of a converted argument are redirected to a source
// materialization rebuilding its previous type, placed at the start of its block.
func funcSignaturePattern(converter *rewrite.TypeConverter) func(*ir.Operation, *rewrite.Rewriter) error {
	return func(op *ir.Operation, rw *rewrite.Rewriter) error {
		fn, _ := ir.AsFunc(op)
		ft := fn.Type()
		inputs, err := converter.ConvertTypes(ft.Inputs)
		if err != nil {
			return rw.NotifyMatchFailure(op, "inputs of @%s: %v", fn.Name(), err)
		}
		results, err := converter.ConvertTypes(ft.Results)
		if err != nil {
			return rw.NotifyMatchFailure(op, "results of @%s: %v", fn.Name(), err)
		}

		type argUpdate struct {
			arg     *ir.Value
			newType ir.Type
			bridge  *ir.Value
		}
		var updates []argUpdate
		for _, block := range fn.Body().Blocks() {
			rw.SetInsertionPointToStart(block)
			for _, arg := range block.Args() {
				newType, ok := converter.Convert(arg.Type())
				if !ok {
					return rw.NotifyMatchFailure(op, "argument #%d of @%s has type %s without conversion",
						arg.Index(), fn.Name(), arg.Type())
				}
				if ir.TypesEqual(newType, arg.Type()) {
					continue
				}
				update := argUpdate{arg: arg, newType: newType}
				if arg.HasUses() {
					update.bridge, err = converter.MaterializeSource(rw, arg.Type(), arg)
					if err != nil {
						return rw.NotifyMatchFailure(op, "argument #%d of @%s: %v", arg.Index(), fn.Name(), err)
					}
				}
				updates = append(updates, update)
			}
		}

		rw.ModifyInPlace(func() {
			for _, u := range updates {
				if u.bridge != nil {
					bridgeOp := u.bridge.DefiningOp()
					u.arg.ReplaceUsesIf(u.bridge, func(use ir.Use) bool { return use.Op != bridgeOp })
				}
				u.arg.SetType(u.newType)
			}
			fn.SetType(ir.FunctionType{Inputs: inputs, Results: results})
		})
		return nil
	}
}

// operandsPattern converts the operands of a return or branch in place, bridging each
// illegal one with a target materialization.
func operandsPattern(converter *rewrite.TypeConverter) func(*ir.Operation, *rewrite.Rewriter) error {
	return func(op *ir.Operation, rw *rewrite.Rewriter) error {
		converted := op.Operands()
		changed := false
		for i, v := range converted {
			if converter.IsLegal(v.Type()) {
				continue
			}
			newType, ok := converter.Convert(v.Type())
			if !ok {
				return rw.NotifyMatchFailure(op, "operand #%d has type %s without conversion", i, v.Type())
			}
			bridged, err := converter.MaterializeTarget(rw, newType, v)
			if err != nil {
				return rw.NotifyMatchFailure(op, "operand #%d: %v", i, err)
			}
			converted[i] = bridged
			changed = true
		}
		if !changed {
			return rw.NotifyMatchFailure(op, "operands already legal")
		}
		rw.ModifyInPlace(func() { op.SetOperands(converted) })
		return nil
	}
}

// callPattern recreates a call with converted operand and result types, bridging the
// new results back to the types its users expect.
func callPattern(converter *rewrite.TypeConverter) func(*ir.Operation, *rewrite.Rewriter) error {
	return func(op *ir.Operation, rw *rewrite.Rewriter) error {
		resultTypes, err := converter.ConvertTypes(op.ResultTypes())
		if err != nil {
			return rw.NotifyMatchFailure(op, "results: %v", err)
		}
		operands := op.Operands()
		for i, v := range operands {
			newType, ok := converter.Convert(v.Type())
			if !ok {
				return rw.NotifyMatchFailure(op, "operand #%d has type %s without conversion", i, v.Type())
			}
			if ir.TypesEqual(newType, v.Type()) {
				continue
			}
			if operands[i], err = converter.MaterializeTarget(rw, newType, v); err != nil {
				return rw.NotifyMatchFailure(op, "operand #%d: %v", i, err)
			}
		}
		call := rw.Create(ir.CallOpName, operands, resultTypes, op.Attrs()...)
		replacements := call.Results()
		for i, res := range op.Results() {
			if ir.TypesEqual(res.Type(), resultTypes[i]) {
				continue
			}
			if replacements[i], err = converter.MaterializeSource(rw, res.Type(), replacements[i]); err != nil {
				return rw.NotifyMatchFailure(op, "result #%d: %v", i, err)
			}
		}
		rw.ReplaceOp(op, replacements)
		return nil
	}
}
