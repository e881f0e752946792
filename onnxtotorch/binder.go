package onnxtotorch

import (
	"strings"

	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/torch"
	"github.com/pkg/errors"
)

// OpBinder is a read-only view of an imported ONNX operator: operands, `torch.onnx.*`
// attributes and declared result types. All accessors return errors instead of panicking.
type OpBinder struct {
	op *ir.Operation
}

// NewOpBinder returns a binder for op.
func NewOpBinder(op *ir.Operation) *OpBinder {
	return &OpBinder{op: op}
}

// Op is the operation being converted.
func (b *OpBinder) Op() *ir.Operation { return b.op }

// NumOperands returns the number of operands, including absent optional ones.
func (b *OpBinder) NumOperands() int { return b.op.NumOperands() }

// TensorOperand returns the i-th operand, which must be a !torch.vtensor.
func (b *OpBinder) TensorOperand(i int) (*ir.Value, error) {
	if i < 0 || i >= b.op.NumOperands() {
		return nil, errors.Errorf("operand #%d requested, but operator has %d operands", i, b.op.NumOperands())
	}
	v := b.op.Operand(i)
	if _, ok := torch.AsValueTensor(v.Type()); !ok {
		return nil, errors.Errorf("operand #%d is %s, not a !torch.vtensor", i, v.Type())
	}
	return v, nil
}

// TensorOperands returns exactly n tensor operands.
func (b *OpBinder) TensorOperands(n int) ([]*ir.Value, error) {
	if b.op.NumOperands() != n {
		return nil, errors.Errorf("expected %d operands, got %d", n, b.op.NumOperands())
	}
	return b.TensorOperandsList()
}

// TensorOperandsList returns all operands, which must all be tensors.
func (b *OpBinder) TensorOperandsList() ([]*ir.Value, error) {
	operands := make([]*ir.Value, b.op.NumOperands())
	for i := range operands {
		v, err := b.TensorOperand(i)
		if err != nil {
			return nil, err
		}
		operands[i] = v
	}
	return operands, nil
}

// OptionalTensorOperand returns the i-th operand, or nil if it is missing or produced
// by torch.constant.none (the importer's encoding of an omitted ONNX input).
func (b *OpBinder) OptionalTensorOperand(i int) (*ir.Value, error) {
	if i >= b.op.NumOperands() || torch.IsNone(b.op.Operand(i).Type()) {
		return nil, nil
	}
	return b.TensorOperand(i)
}

// TensorResultTypes returns the declared result types, which must all be tensors.
func (b *OpBinder) TensorResultTypes() ([]torch.ValueTensorType, error) {
	types := make([]torch.ValueTensorType, b.op.NumResults())
	for i, t := range b.op.ResultTypes() {
		vt, ok := torch.AsValueTensor(t)
		if !ok {
			return nil, errors.Errorf("result #%d is %s, not a !torch.vtensor", i, t)
		}
		types[i] = vt
	}
	return types, nil
}

// TensorResultType returns the type of the single result.
func (b *OpBinder) TensorResultType() (torch.ValueTensorType, error) {
	if b.op.NumResults() != 1 {
		return torch.ValueTensorType{}, errors.Errorf("expected 1 result, got %d", b.op.NumResults())
	}
	types, err := b.TensorResultTypes()
	if err != nil {
		return torch.ValueTensorType{}, err
	}
	return types[0], nil
}

func (b *OpBinder) attr(name string) (ir.Attribute, bool) {
	return b.op.Attr(torch.OnnxAttrPrefix + name)
}

// HasAttr reports whether the ONNX attribute is set.
func (b *OpBinder) HasAttr(name string) bool {
	_, found := b.attr(name)
	return found
}

// S64IntegerAttr returns an integer attribute, or def if it is not set.
func (b *OpBinder) S64IntegerAttr(name string, def int64) (int64, error) {
	attr, found := b.attr(name)
	if !found {
		return def, nil
	}
	ia, ok := attr.(ir.IntegerAttr)
	if !ok {
		return 0, errors.Errorf("attribute %q is %s, not an integer", name, attr)
	}
	return ia.Value, nil
}

// RequiredS64IntegerAttr returns an integer attribute that must be set.
func (b *OpBinder) RequiredS64IntegerAttr(name string) (int64, error) {
	if !b.HasAttr(name) {
		return 0, errors.Errorf("missing required attribute %q", name)
	}
	return b.S64IntegerAttr(name, 0)
}

// S64BoolAttr returns an integer attribute interpreted as a boolean.
func (b *OpBinder) S64BoolAttr(name string, def bool) (bool, error) {
	defInt := int64(0)
	if def {
		defInt = 1
	}
	v, err := b.S64IntegerAttr(name, defInt)
	return v != 0, err
}

// F32FloatAttr returns a float attribute, or def if it is not set.
func (b *OpBinder) F32FloatAttr(name string, def float32) (float32, error) {
	attr, found := b.attr(name)
	if !found {
		return def, nil
	}
	fa, ok := attr.(ir.FloatAttr)
	if !ok {
		return 0, errors.Errorf("attribute %q is %s, not a float", name, attr)
	}
	return float32(fa.Value), nil
}

// StringAttr returns a string attribute, or def if it is not set.
func (b *OpBinder) StringAttr(name string, def string) (string, error) {
	attr, found := b.attr(name)
	if !found {
		return def, nil
	}
	sa, ok := attr.(ir.StringAttr)
	if !ok {
		return "", errors.Errorf("attribute %q is %s, not a string", name, attr)
	}
	return string(sa), nil
}

// S64IntegerArrayAttr returns a list of integers attribute, or def if it is not set.
func (b *OpBinder) S64IntegerArrayAttr(name string, def []int64) ([]int64, error) {
	attr, found := b.attr(name)
	if !found {
		return def, nil
	}
	arr, ok := attr.(ir.ArrayAttr)
	if !ok {
		return nil, errors.Errorf("attribute %q is %s, not a list of integers", name, attr)
	}
	values := make([]int64, len(arr))
	for i, e := range arr {
		ia, ok := e.(ir.IntegerAttr)
		if !ok {
			return nil, errors.Errorf("attribute %q element #%d is %s, not an integer", name, i, e)
		}
		values[i] = ia.Value
	}
	return values, nil
}

// OnnxAttrs returns the `torch.onnx.*` attributes of the operator, with their prefix.
func (b *OpBinder) OnnxAttrs() []ir.NamedAttr {
	var attrs []ir.NamedAttr
	for _, na := range b.op.Attrs() {
		if strings.HasPrefix(na.Name, torch.OnnxAttrPrefix) {
			attrs = append(attrs, na)
		}
	}
	return attrs
}
