package rewrite

import (
	"strings"

	"github.com/gomlx/onnx-torch/ir"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LegalityFn decides whether an operation is legal.
type LegalityFn func(op *ir.Operation) bool

type legality struct {
	legal bool
	fn    LegalityFn
}

// ConversionTarget describes which operations are legal after a conversion. It is built
// fresh for every pass run; IsLegal is a pure function of the operation and the
// registered predicates, re-evaluated at every query.
type ConversionTarget struct {
	ops      map[string]legality
	dialects map[string]bool
	unknown  LegalityFn
}

// NewConversionTarget returns a target where every operation is illegal.
func NewConversionTarget() *ConversionTarget {
	return &ConversionTarget{
		ops:      make(map[string]legality),
		dialects: make(map[string]bool),
	}
}

// AddLegalOp marks operations as always legal.
func (t *ConversionTarget) AddLegalOp(names ...string) {
	for _, name := range names {
		t.ops[name] = legality{legal: true}
	}
}

// AddIllegalOp marks operations as always illegal, overriding earlier registrations.
func (t *ConversionTarget) AddIllegalOp(names ...string) {
	for _, name := range names {
		t.ops[name] = legality{legal: false}
	}
}

// AddDynamicallyLegalOp makes the legality of an operation depend on fn.
func (t *ConversionTarget) AddDynamicallyLegalOp(name string, fn LegalityFn) {
	t.ops[name] = legality{fn: fn}
}

// AddLegalDialect marks all operations of the given dialects (name prefixes) as legal.
func (t *ConversionTarget) AddLegalDialect(dialects ...string) {
	for _, d := range dialects {
		t.dialects[d] = true
	}
}

// MarkUnknownOpDynamicallyLegal sets the legality of operations not otherwise registered.
func (t *ConversionTarget) MarkUnknownOpDynamicallyLegal(fn LegalityFn) {
	t.unknown = fn
}

// IsLegal reports whether op is legal: a registration for its name wins over its
// dialect, which wins over the unknown-operation predicate. Unregistered operations
// without such predicate are illegal.
func (t *ConversionTarget) IsLegal(op *ir.Operation) bool {
	if l, found := t.ops[op.Name()]; found {
		if l.fn != nil {
			return l.fn(op)
		}
		return l.legal
	}
	if t.dialects[op.Dialect()] {
		return true
	}
	if t.unknown != nil {
		return t.unknown(op)
	}
	return false
}

// ConversionFn converts a type. It returns false if it does not apply to t.
type ConversionFn func(t ir.Type) (ir.Type, bool)

// MaterializationFn builds a value of type resultType out of input, or returns nil if
// it cannot handle the pair.
type MaterializationFn func(b ir.OpCreator, resultType ir.Type, input *ir.Value) *ir.Value

// TypeConverter maps source types to target types and knows how to bridge values
// between them.
type TypeConverter struct {
	conversions []ConversionFn
	source      []MaterializationFn
	target      []MaterializationFn
}

// NewTypeConverter returns an empty converter: no type converts.
func NewTypeConverter() *TypeConverter {
	return &TypeConverter{}
}

// AddConversion registers a conversion. Conversions are tried most recent first.
func (c *TypeConverter) AddConversion(fn ConversionFn) {
	c.conversions = append(c.conversions, fn)
}

// AddSourceMaterialization registers a callback bridging a converted (target) value
// back to a source type.
func (c *TypeConverter) AddSourceMaterialization(fn MaterializationFn) {
	c.source = append(c.source, fn)
}

// AddTargetMaterialization registers a callback bridging a source value to a target type.
func (c *TypeConverter) AddTargetMaterialization(fn MaterializationFn) {
	c.target = append(c.target, fn)
}

// Convert returns the converted type of t.
func (c *TypeConverter) Convert(t ir.Type) (ir.Type, bool) {
	for i := len(c.conversions) - 1; i >= 0; i-- {
		if converted, ok := c.conversions[i](t); ok {
			return converted, converted != nil
		}
	}
	return nil, false
}

// ConvertTypes converts a list of types, failing on the first unconvertible one.
func (c *TypeConverter) ConvertTypes(types []ir.Type) ([]ir.Type, error) {
	converted := make([]ir.Type, len(types))
	for i, t := range types {
		ct, ok := c.Convert(t)
		if !ok {
			return nil, errors.Errorf("type %s has no conversion", t)
		}
		converted[i] = ct
	}
	return converted, nil
}

// IsLegal reports whether t converts to itself.
func (c *TypeConverter) IsLegal(t ir.Type) bool {
	converted, ok := c.Convert(t)
	return ok && ir.TypesEqual(converted, t)
}

// AreLegal reports whether all types are legal.
func (c *TypeConverter) AreLegal(types []ir.Type) bool {
	for _, t := range types {
		if !c.IsLegal(t) {
			return false
		}
	}
	return true
}

// IsLegalOp reports whether all operand and result types of op are legal.
func (c *TypeConverter) IsLegalOp(op *ir.Operation) bool {
	return c.AreLegal(op.OperandTypes()) && c.AreLegal(op.ResultTypes())
}

// IsSignatureLegal reports whether all inputs and results of ft are legal.
func (c *TypeConverter) IsSignatureLegal(ft ir.FunctionType) bool {
	return c.AreLegal(ft.Inputs) && c.AreLegal(ft.Results)
}

// IsRegionLegal reports whether all block arguments of the region are legal.
func (c *TypeConverter) IsRegionLegal(r *ir.Region) bool {
	for _, b := range r.Blocks() {
		if !c.AreLegal(b.ArgTypes()) {
			return false
		}
	}
	return true
}

func materialize(fns []MaterializationFn, b ir.OpCreator, t ir.Type, v *ir.Value) (*ir.Value, error) {
	for i := len(fns) - 1; i >= 0; i-- {
		if result := fns[i](b, t, v); result != nil {
			return result, nil
		}
	}
	return nil, errors.Errorf("no materialization from %s to %s", v.Type(), t)
}

// MaterializeTarget bridges a source value v to the target type t.
func (c *TypeConverter) MaterializeTarget(b ir.OpCreator, t ir.Type, v *ir.Value) (*ir.Value, error) {
	return materialize(c.target, b, t, v)
}

// MaterializeSource bridges a converted value v back to the source type t.
func (c *TypeConverter) MaterializeSource(b ir.OpCreator, t ir.Type, v *ir.Value) (*ir.Value, error) {
	return materialize(c.source, b, t, v)
}

// ErrIllegal is the fatal error of a conversion leaving illegal operations behind.
var ErrIllegal = errors.New("failed to legalize")

// maxConversionSweeps bounds the full conversion driver.
const maxConversionSweeps = 16

// ApplyFullConversion rewrites every illegal operation in m with the given patterns
// until all operations are legal. If any operation stays illegal the module is restored
// to its original state and an error wrapping ErrIllegal is returned.
func ApplyFullConversion(m *ir.Module, target *ConversionTarget, patterns []Pattern) error {
	snapshot := m.Clone()
	root := m.Op()
	lastFailure := make(map[*ir.Operation]error)
	for sweep := 0; sweep < maxConversionSweeps; sweep++ {
		progress := false
		for _, op := range root.Collect() {
			if op != root && !live(root, op) {
				continue
			}
			if target.IsLegal(op) {
				continue
			}
			rewritten, err := tryPatterns(patterns, op)
			if rewritten {
				progress = true
				delete(lastFailure, op)
				continue
			}
			if err != nil {
				lastFailure[op] = err
			}
		}
		if !progress {
			break
		}
	}

	var illegal []string
	for _, op := range root.Collect() {
		if !target.IsLegal(op) {
			desc := op.String()
			if idx := strings.IndexByte(desc, '\n'); idx >= 0 {
				desc = desc[:idx]
			}
			if err, found := lastFailure[op]; found {
				desc += " (" + err.Error() + ")"
			}
			illegal = append(illegal, desc)
		}
	}
	if len(illegal) > 0 {
		for _, desc := range illegal {
			klog.V(1).Infof("illegal after conversion: %s", desc)
		}
		m.Restore(snapshot)
		return errors.Wrapf(ErrIllegal, "%d operation(s) remain illegal, first: %s", len(illegal), illegal[0])
	}
	return nil
}
