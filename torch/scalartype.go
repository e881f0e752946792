package torch

import (
	"fmt"

	"github.com/gomlx/onnx-torch/ir"
	"github.com/pkg/errors"
)

// ScalarType is the PyTorch dtype enumeration, used as integer dtype arguments of
// aten operations.
type ScalarType int64

// ScalarType values, as in c10::ScalarType.
const (
	Byte     ScalarType = 0
	Char     ScalarType = 1
	Short    ScalarType = 2
	Int      ScalarType = 3
	Long     ScalarType = 4
	Half     ScalarType = 5
	Float    ScalarType = 6
	Double   ScalarType = 7
	Bool     ScalarType = 11
	QInt8    ScalarType = 12
	QUInt8   ScalarType = 13
	QInt32   ScalarType = 14
	BFloat16 ScalarType = 15
)

var scalarTypeNames = map[ScalarType]string{
	Byte: "Byte", Char: "Char", Short: "Short", Int: "Int", Long: "Long", Half: "Half",
	Float: "Float", Double: "Double", Bool: "Bool", QInt8: "QInt8", QUInt8: "QUInt8",
	QInt32: "QInt32", BFloat16: "BFloat16",
}

func (s ScalarType) String() string {
	if name, found := scalarTypeNames[s]; found {
		return name
	}
	return fmt.Sprintf("ScalarType(%d)", int64(s))
}

// ScalarTypeOf returns the ScalarType of a Torch dtype.
func ScalarTypeOf(dtype ir.Type) (ScalarType, error) {
	switch {
	case dtype == nil:
		return 0, errors.New("unknown dtype has no scalar type")
	case ir.TypesEqual(dtype, QUInt8Type):
		return QUInt8, nil
	case ir.TypesEqual(dtype, QInt8Type):
		return QInt8, nil
	case ir.TypesEqual(dtype, QInt32Type):
		return QInt32, nil
	}
	switch t := dtype.(type) {
	case ir.FloatType:
		switch t.Kind {
		case ir.F16Kind:
			return Half, nil
		case ir.BF16Kind:
			return BFloat16, nil
		case ir.F32Kind:
			return Float, nil
		default:
			return Double, nil
		}
	case ir.IntegerType:
		switch {
		case t.Width == 1:
			return Bool, nil
		case t.Width == 8 && t.IsUnsigned():
			return Byte, nil
		case t.Width == 8:
			return Char, nil
		case t.Width == 16 && !t.IsUnsigned():
			return Short, nil
		case t.Width == 32 && !t.IsUnsigned():
			return Int, nil
		case t.Width == 64 && !t.IsUnsigned():
			return Long, nil
		}
	}
	return 0, errors.Errorf("dtype %s has no torch scalar type", dtype)
}

// QuantizedDtype returns the quantized dtype storing values of the integer dtype:
// ui8 -> !torch.quint8, si8 -> !torch.qint8, si32 -> !torch.qint32.
func QuantizedDtype(dtype ir.Type) (ir.Type, bool) {
	switch {
	case ir.TypesEqual(dtype, ir.UI8):
		return QUInt8Type, true
	case ir.TypesEqual(dtype, ir.SI8):
		return QInt8Type, true
	case ir.TypesEqual(dtype, ir.SI32):
		return QInt32Type, true
	}
	return nil, false
}

// QuantizedTensorType maps an integer vtensor to its quantized counterpart with the
// same sizes.
func QuantizedTensorType(t ValueTensorType) (ValueTensorType, bool) {
	q, ok := QuantizedDtype(t.Dtype)
	if !ok {
		return ValueTensorType{}, false
	}
	return t.WithDtype(q), true
}
