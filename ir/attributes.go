package ir

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Attribute is a compile-time constant attached to an operation.
type Attribute interface {
	String() string
}

// NamedAttr is an attribute with its name.
type NamedAttr struct {
	Name  string
	Value Attribute
}

// IntegerAttr holds an integer of the given Type (usually i64 or si64).
type IntegerAttr struct {
	Value int64
	Type  Type
}

func (a IntegerAttr) String() string {
	if TypesEqual(a.Type, I1) {
		if a.Value != 0 {
			return "true"
		}
		return "false"
	}
	return fmt.Sprintf("%d : %s", a.Value, a.Type)
}

// I64Attr returns an i64 integer attribute.
func I64Attr(v int64) IntegerAttr { return IntegerAttr{Value: v, Type: I64} }

// SI64Attr returns an si64 integer attribute.
func SI64Attr(v int64) IntegerAttr { return IntegerAttr{Value: v, Type: SI64} }

// FloatAttr holds a floating point constant of the given Type.
type FloatAttr struct {
	Value float64
	Type  Type
}

func (a FloatAttr) String() string {
	return fmt.Sprintf("%s : %s", formatFloat(a.Value), a.Type)
}

// F64Attr returns an f64 attribute.
func F64Attr(v float64) FloatAttr { return FloatAttr{Value: v, Type: F64} }

// F32Attr returns an f32 attribute.
func F32Attr(v float32) FloatAttr { return FloatAttr{Value: float64(v), Type: F32} }

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "0x7FC00000"
	case math.IsInf(v, 1):
		return "0x7F800000"
	case math.IsInf(v, -1):
		return "0xFF800000"
	}
	if f := math.Abs(v); f == 0 || (f >= 1e-4 && f < 1e16) {
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	return strconv.FormatFloat(v, 'e', -1, 64)
}

// StringAttr is a string constant.
type StringAttr string

func (a StringAttr) String() string { return strconv.Quote(string(a)) }

// BoolAttr is a boolean constant.
type BoolAttr bool

func (a BoolAttr) String() string {
	if a {
		return "true"
	}
	return "false"
}

// UnitAttr is a present-or-absent marker.
type UnitAttr struct{}

func (UnitAttr) String() string { return "unit" }

// ArrayAttr is a list of attributes.
type ArrayAttr []Attribute

func (a ArrayAttr) String() string {
	parts := make([]string, len(a))
	for i, e := range a {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// TypeAttr wraps a Type.
type TypeAttr struct {
	Type Type
}

func (a TypeAttr) String() string { return a.Type.String() }

// DictAttr is an ordered dictionary of attributes.
type DictAttr []NamedAttr

func (a DictAttr) String() string {
	return "{" + formatNamedAttrs(a) + "}"
}

// DenseElementsAttr holds the contents of a constant tensor. Floating point element
// types are kept in Floats, integers (and booleans) in Ints; only one of them is used.
type DenseElementsAttr struct {
	Type   TensorType
	Floats []float64
	Ints   []int64
}

// maxInlineElements is the largest number of elements printed as a literal list; larger
// constants are printed as hex blobs.
const maxInlineElements = 16

// Len returns the number of stored elements.
func (a DenseElementsAttr) Len() int {
	if IsFloat(a.Type.Elem) {
		return len(a.Floats)
	}
	return len(a.Ints)
}

// IsSplat returns whether all elements are the same.
func (a DenseElementsAttr) IsSplat() bool {
	n := a.Len()
	if n == 0 {
		return false
	}
	for i := 1; i < n; i++ {
		if IsFloat(a.Type.Elem) {
			if a.Floats[i] != a.Floats[0] {
				return false
			}
		} else if a.Ints[i] != a.Ints[0] {
			return false
		}
	}
	return true
}

func (a DenseElementsAttr) element(i int) string {
	if IsFloat(a.Type.Elem) {
		return formatFloat(a.Floats[i])
	}
	if TypesEqual(a.Type.Elem, I1) {
		return BoolAttr(a.Ints[i] != 0).String()
	}
	return strconv.FormatInt(a.Ints[i], 10)
}

func (a DenseElementsAttr) String() string {
	n := a.Len()
	var body string
	switch {
	case n == 1 || (n > 1 && a.IsSplat() && n > maxInlineElements):
		body = a.element(0)
	case n <= maxInlineElements:
		parts := make([]string, n)
		for i := range parts {
			parts[i] = a.element(i)
		}
		body = "[" + strings.Join(parts, ", ") + "]"
	default:
		var raw []byte
		for i := 0; i < n; i++ {
			var bits uint64
			if IsFloat(a.Type.Elem) {
				bits = math.Float64bits(a.Floats[i])
			} else {
				bits = uint64(a.Ints[i])
			}
			for b := 0; b < 8; b++ {
				raw = append(raw, byte(bits>>(8*b)))
			}
		}
		body = `"0x` + strings.ToUpper(hex.EncodeToString(raw)) + `"`
	}
	return fmt.Sprintf("dense<%s> : %s", body, a.Type)
}

func formatNamedAttrs(attrs []NamedAttr) string {
	parts := make([]string, len(attrs))
	for i, na := range attrs {
		if _, isUnit := na.Value.(UnitAttr); isUnit {
			parts[i] = na.Name
			continue
		}
		parts[i] = na.Name + " = " + na.Value.String()
	}
	return strings.Join(parts, ", ")
}
