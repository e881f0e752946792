package onnxtotorch

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/rewrite"
	"github.com/gomlx/onnx-torch/torch"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrUnconverted is returned (wrapped) by Convert when ONNX operators are left in the
// module and Options.AllowUnconverted is not set.
var ErrUnconverted = errors.New("unconverted ONNX operators")

// Options of Convert.
type Options struct {
	// AllowUnconverted makes Convert succeed even if some operators could not be converted.
	// They are left in the module as torch.operator nodes.
	AllowUnconverted bool

	// Disabled lists operator types that are not converted, e.g. "GroupQueryAttention".
	Disabled []string

	// OpsetOverride, if > 0, replaces the opset version of every operator.
	OpsetOverride int
}

// Outcome of the conversion of one operator.
type Outcome struct {
	// Func is the name of the function holding the operator.
	Func string

	// Op is the ONNX operator type, e.g. "QLinearAdd".
	Op string

	// Version is the opset version the operator was dispatched with.
	Version int

	// Rule is the since-version of the rule that converted it, or of the last rule tried.
	// It is 0 if no rule was tried.
	Rule int

	Replaced bool

	// Reason why the operator was not replaced.
	Reason string
}

func (o Outcome) String() string {
	if o.Replaced {
		return fmt.Sprintf("%s@%d: replaced by rule v%d", o.Op, o.Version, o.Rule)
	}
	return fmt.Sprintf("%s@%d: %s", o.Op, o.Version, o.Reason)
}

// Report lists the outcome of each converted or attempted operator, in conversion order.
type Report struct {
	Outcomes []Outcome
}

// Unconverted returns the outcomes of the operators that were not replaced.
func (r *Report) Unconverted() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if !o.Replaced {
			failed = append(failed, o)
		}
	}
	return failed
}

// NumReplaced returns the number of operators replaced.
func (r *Report) NumReplaced() int {
	return len(r.Outcomes) - len(r.Unconverted())
}

// opsetVersion returns the opset version of op: its own torch.onnx_meta.opset_version, or
// the one of its enclosing function.
func opsetVersion(op *ir.Operation) (int, bool) {
	if v, ok := intAttr(op, torch.OpsetVersionAttr); ok {
		return v, true
	}
	fn := op.ParentOfName(ir.FuncOpName)
	if fn == nil {
		return 0, false
	}
	return intAttr(fn, torch.OpsetVersionAttr)
}

func intAttr(op *ir.Operation, name string) (int, bool) {
	attr, found := op.Attr(name)
	if !found {
		return 0, false
	}
	ia, ok := attr.(ir.IntegerAttr)
	return int(ia.Value), ok
}

// Convert replaces every `torch.operator "onnx.*"` of the module for which the registry
// has a rule. Operators created by rules (e.g. onnx.AveragePool) are converted as well.
//
// Operators are visited in program order. If the highest applicable rule of an operator
// fails, lower versioned rules are tried in turn. Failing rules leave the module untouched.
func Convert(module *ir.Module, registry *Registry, opts Options) (*Report, error) {
	disabled := make(map[string]bool, len(opts.Disabled))
	for _, name := range opts.Disabled {
		disabled[name] = true
	}
	report := &Report{}
	attempted := make(map[*ir.Operation]bool)
	for {
		var worklist []*ir.Operation
		for _, op := range module.Op().Collect() {
			if _, isOnnx := torch.IsOnnxOperator(op); isOnnx && !attempted[op] {
				worklist = append(worklist, op)
			}
		}
		if len(worklist) == 0 {
			break
		}
		for _, op := range worklist {
			attempted[op] = true
			report.Outcomes = append(report.Outcomes, convertOp(op, registry, opts, disabled))
		}
	}

	unconverted := report.Unconverted()
	klog.V(1).Infof("onnx-to-torch: %d operators replaced, %d left unconverted", report.NumReplaced(), len(unconverted))
	if len(unconverted) == 0 {
		return report, nil
	}
	if opts.AllowUnconverted {
		for _, o := range unconverted {
			klog.Warningf("onnx-to-torch: leaving %s unconverted: %s", o.Op, o.Reason)
		}
		return report, nil
	}
	parts := make([]string, len(unconverted))
	for i, o := range unconverted {
		parts[i] = o.String()
	}
	return report, errors.Wrapf(ErrUnconverted, "%d operators failed to convert:\n\t%s", len(unconverted), strings.Join(parts, "\n\t"))
}

// convertOp tries the candidate rules of op, highest version first.
func convertOp(op *ir.Operation, registry *Registry, opts Options, disabled map[string]bool) Outcome {
	opType, _ := torch.IsOnnxOperator(op)
	outcome := Outcome{Op: opType}
	if fn, ok := ir.AsFunc(op.ParentOfName(ir.FuncOpName)); ok {
		outcome.Func = fn.Name()
	}
	version, found := opsetVersion(op)
	if opts.OpsetOverride > 0 {
		version, found = opts.OpsetOverride, true
	}
	if !found {
		outcome.Reason = "missing opset version"
		return outcome
	}
	outcome.Version = version
	if disabled[opType] {
		outcome.Reason = "disabled"
		return outcome
	}
	candidates := registry.candidates(opType, version)
	if len(candidates) == 0 {
		outcome.Reason = fmt.Sprintf("unsupported operator/version: no rule for %s at opset %d", opType, version)
		return outcome
	}
	for _, reg := range candidates {
		outcome.Rule = reg.sinceVersion
		rw := rewrite.NewRewriter(op)
		var err error
		if panicErr := exceptions.TryCatch[error](func() { err = reg.handler(NewOpBinder(op), rw) }); panicErr != nil {
			err = errors.WithMessagef(panicErr, "rule v%d panicked", reg.sinceVersion)
		}
		if err == nil {
			rw.Commit()
			klog.V(2).Infof("onnx-to-torch: %s@%d replaced by rule v%d", opType, version, reg.sinceVersion)
			outcome.Replaced = true
			outcome.Reason = ""
			return outcome
		}
		rw.Rollback()
		var failure *rewrite.MatchFailure
		if errors.As(err, &failure) {
			outcome.Reason = failure.Reason
		} else {
			outcome.Reason = err.Error()
		}
		klog.V(2).Infof("onnx-to-torch: %s@%d rule v%d failed: %s", opType, version, reg.sinceVersion, outcome.Reason)
	}
	return outcome
}
