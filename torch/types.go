// Package torch defines the Torch dialect types and operations emitted by the ONNX
// conversion rules.
package torch

import (
	"fmt"
	"strings"

	"github.com/gomlx/onnx-torch/ir"
)

// ValueTensorType is !torch.vtensor: a value-semantics tensor with optional sizes and
// optional dtype. Sizes == nil means unranked; Dtype == nil means unknown dtype.
type ValueTensorType struct {
	Sizes []int64
	Dtype ir.Type
}

// VTensor returns a ranked vtensor type with known dtype. Use ir.DynamicSize for
// unknown dimensions.
func VTensor(dtype ir.Type, sizes ...int64) ValueTensorType {
	if sizes == nil {
		sizes = []int64{}
	}
	return ValueTensorType{Sizes: sizes, Dtype: dtype}
}

// HasSizes reports whether the rank is known.
func (t ValueTensorType) HasSizes() bool { return t.Sizes != nil }

// HasDtype reports whether the dtype is known.
func (t ValueTensorType) HasDtype() bool { return t.Dtype != nil }

// Rank returns the rank, or -1 if unranked.
func (t ValueTensorType) Rank() int {
	if !t.HasSizes() {
		return -1
	}
	return len(t.Sizes)
}

// AreAllSizesKnown reports whether the type is ranked with every dimension static.
func (t ValueTensorType) AreAllSizesKnown() bool {
	if !t.HasSizes() {
		return false
	}
	for _, d := range t.Sizes {
		if d == ir.DynamicSize {
			return false
		}
	}
	return true
}

// WithSizesAndDtype returns a copy with the given sizes and dtype.
func (t ValueTensorType) WithSizesAndDtype(sizes []int64, dtype ir.Type) ValueTensorType {
	if sizes != nil {
		sizes = append([]int64{}, sizes...)
	}
	return ValueTensorType{Sizes: sizes, Dtype: dtype}
}

// WithDtype returns a copy with a different dtype.
func (t ValueTensorType) WithDtype(dtype ir.Type) ValueTensorType {
	return t.WithSizesAndDtype(t.Sizes, dtype)
}

func (t ValueTensorType) String() string {
	if !t.HasSizes() && !t.HasDtype() {
		return "!torch.vtensor"
	}
	var sb strings.Builder
	sb.WriteString("!torch.vtensor<")
	if t.HasSizes() {
		sb.WriteString("[")
		for i, d := range t.Sizes {
			if i > 0 {
				sb.WriteString(",")
			}
			if d == ir.DynamicSize {
				sb.WriteString("?")
			} else {
				fmt.Fprintf(&sb, "%d", d)
			}
		}
		sb.WriteString("]")
	} else {
		sb.WriteString("*")
	}
	sb.WriteString(",")
	if t.HasDtype() {
		sb.WriteString(t.Dtype.String())
	} else {
		sb.WriteString("unk")
	}
	sb.WriteString(">")
	return sb.String()
}

// ToBuiltinTensor returns the builtin tensor type equivalent to t, with signed and
// unsigned integers made signless. It returns false when the dtype is unknown.
func (t ValueTensorType) ToBuiltinTensor() (ir.TensorType, bool) {
	if !t.HasDtype() {
		return ir.TensorType{}, false
	}
	elem := t.Dtype
	if it, ok := elem.(ir.IntegerType); ok {
		elem = ir.IntegerType{Width: it.Width}
	} else if !ir.IsFloat(elem) {
		return ir.TensorType{}, false
	}
	if !t.HasSizes() {
		return ir.UnrankedTensor(elem), true
	}
	return ir.RankedTensor(elem, append([]int64{}, t.Sizes...)...), true
}

// AsValueTensor returns the vtensor type of v, if it is one.
func AsValueTensor(t ir.Type) (ValueTensorType, bool) {
	vt, ok := t.(ValueTensorType)
	return vt, ok
}

// scalarType is a Torch dialect type without parameters.
type scalarType string

func (t scalarType) String() string { return string(t) }

// Torch dialect scalar types.
var (
	IntType       ir.Type = scalarType("!torch.int")
	FloatType     ir.Type = scalarType("!torch.float")
	BoolType      ir.Type = scalarType("!torch.bool")
	NoneType      ir.Type = scalarType("!torch.none")
	StringType    ir.Type = scalarType("!torch.str")
	GeneratorType ir.Type = scalarType("!torch.Generator")
	DeviceType    ir.Type = scalarType("!torch.Device")
)

// Quantized dtypes, usable as the Dtype of a ValueTensorType.
var (
	QUInt8Type ir.Type = scalarType("!torch.quint8")
	QInt8Type  ir.Type = scalarType("!torch.qint8")
	QInt32Type ir.Type = scalarType("!torch.qint32")
)

// ListType is !torch.list<T>.
type ListType struct {
	Elem ir.Type
}

func (t ListType) String() string {
	return "!torch.list<" + strings.TrimPrefix(t.Elem.String(), "!torch.") + ">"
}

// ListOf returns !torch.list<elem>.
func ListOf(elem ir.Type) ListType { return ListType{Elem: elem} }

// IsNone reports whether t is !torch.none.
func IsNone(t ir.Type) bool { return ir.TypesEqual(t, NoneType) }

// IsTorchType reports whether t belongs to the Torch dialect.
func IsTorchType(t ir.Type) bool {
	switch t.(type) {
	case ValueTensorType, scalarType, ListType:
		return true
	}
	return false
}
