package ir

import (
	"fmt"
	"strings"
)

// Type is an IR type. Types are compared structurally through their printed form,
// see TypesEqual.
type Type interface {
	String() string
}

// TypesEqual returns whether two types are the same. A nil type only equals nil.
func TypesEqual(a, b Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

// TypeListsEqual compares two lists of types element-wise.
func TypeListsEqual(a, b []Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !TypesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Signedness of an IntegerType.
type Signedness int

const (
	Signless Signedness = iota
	Signed
	Unsigned
)

// IntegerType is a fixed width integer: i1, i64 (signless), si8 (signed), ui8 (unsigned).
type IntegerType struct {
	Width      int
	Signedness Signedness
}

func (t IntegerType) String() string {
	switch t.Signedness {
	case Signed:
		return fmt.Sprintf("si%d", t.Width)
	case Unsigned:
		return fmt.Sprintf("ui%d", t.Width)
	default:
		return fmt.Sprintf("i%d", t.Width)
	}
}

// IsSigned reports whether t is a signed integer (si*).
func (t IntegerType) IsSigned() bool { return t.Signedness == Signed }

// IsUnsigned reports whether t is an unsigned integer (ui*).
func (t IntegerType) IsUnsigned() bool { return t.Signedness == Unsigned }

// Integer type shortcuts.
var (
	I1   = IntegerType{Width: 1}
	I8   = IntegerType{Width: 8}
	I16  = IntegerType{Width: 16}
	I32  = IntegerType{Width: 32}
	I64  = IntegerType{Width: 64}
	SI8  = IntegerType{Width: 8, Signedness: Signed}
	SI16 = IntegerType{Width: 16, Signedness: Signed}
	SI32 = IntegerType{Width: 32, Signedness: Signed}
	SI64 = IntegerType{Width: 64, Signedness: Signed}
	UI8  = IntegerType{Width: 8, Signedness: Unsigned}
	UI16 = IntegerType{Width: 16, Signedness: Unsigned}
	UI32 = IntegerType{Width: 32, Signedness: Unsigned}
	UI64 = IntegerType{Width: 64, Signedness: Unsigned}
)

// FloatKind enumerates the supported floating point formats.
type FloatKind int

const (
	F16Kind FloatKind = iota
	BF16Kind
	F32Kind
	F64Kind
)

// FloatType is a floating point scalar type.
type FloatType struct {
	Kind FloatKind
}

func (t FloatType) String() string {
	switch t.Kind {
	case F16Kind:
		return "f16"
	case BF16Kind:
		return "bf16"
	case F32Kind:
		return "f32"
	default:
		return "f64"
	}
}

// Width in bits.
func (t FloatType) Width() int {
	switch t.Kind {
	case F16Kind, BF16Kind:
		return 16
	case F32Kind:
		return 32
	default:
		return 64
	}
}

// Float type shortcuts.
var (
	F16  = FloatType{Kind: F16Kind}
	BF16 = FloatType{Kind: BF16Kind}
	F32  = FloatType{Kind: F32Kind}
	F64  = FloatType{Kind: F64Kind}
)

// IsFloat reports whether t is a FloatType.
func IsFloat(t Type) bool {
	_, ok := t.(FloatType)
	return ok
}

// IsInteger reports whether t is an IntegerType.
func IsInteger(t Type) bool {
	_, ok := t.(IntegerType)
	return ok
}

// DynamicSize marks a tensor dimension whose size is not statically known.
const DynamicSize int64 = -1

// TensorType is the builtin tensor type. A nil Shape with Ranked false is the unranked
// tensor<*xT>.
type TensorType struct {
	Ranked bool
	Shape  []int64
	Elem   Type
}

// RankedTensor returns a ranked builtin tensor type.
func RankedTensor(elem Type, shape ...int64) TensorType {
	if shape == nil {
		shape = []int64{}
	}
	return TensorType{Ranked: true, Shape: shape, Elem: elem}
}

// UnrankedTensor returns tensor<*xelem>.
func UnrankedTensor(elem Type) TensorType {
	return TensorType{Elem: elem}
}

func (t TensorType) String() string {
	var sb strings.Builder
	sb.WriteString("tensor<")
	if !t.Ranked {
		sb.WriteString("*x")
	} else {
		for _, d := range t.Shape {
			if d == DynamicSize {
				sb.WriteString("?x")
			} else {
				fmt.Fprintf(&sb, "%dx", d)
			}
		}
	}
	sb.WriteString(t.Elem.String())
	sb.WriteString(">")
	return sb.String()
}

// NumElements returns the number of elements of a static shape, or -1.
func (t TensorType) NumElements() int64 {
	if !t.Ranked {
		return -1
	}
	n := int64(1)
	for _, d := range t.Shape {
		if d == DynamicSize {
			return -1
		}
		n *= d
	}
	return n
}

// FunctionType is the type of a function: (inputs) -> results.
type FunctionType struct {
	Inputs, Results []Type
}

func (t FunctionType) String() string {
	var sb strings.Builder
	sb.WriteString("(")
	writeTypeList(&sb, t.Inputs)
	sb.WriteString(") -> ")
	if len(t.Results) == 1 {
		if _, isFn := t.Results[0].(FunctionType); !isFn {
			sb.WriteString(t.Results[0].String())
			return sb.String()
		}
	}
	sb.WriteString("(")
	writeTypeList(&sb, t.Results)
	sb.WriteString(")")
	return sb.String()
}

func writeTypeList(sb *strings.Builder, types []Type) {
	for i, t := range types {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.String())
	}
}

// NoneType is the builtin none type.
type NoneType struct{}

func (NoneType) String() string { return "none" }
