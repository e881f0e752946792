package onnx

import (
	"fmt"

	"github.com/gomlx/onnx-torch/ir"
	"github.com/pkg/errors"
)

// DataType is the TensorProto.DataType enum.
type DataType int32

const (
	DataTypeUndefined DataType = iota
	DataTypeFloat
	DataTypeUint8
	DataTypeInt8
	DataTypeUint16
	DataTypeInt16
	DataTypeInt32
	DataTypeInt64
	DataTypeString
	DataTypeBool
	DataTypeFloat16
	DataTypeDouble
	DataTypeUint32
	DataTypeUint64
	DataTypeComplex64
	DataTypeComplex128
	DataTypeBFloat16
)

var dataTypeNames = []string{
	"UNDEFINED", "FLOAT", "UINT8", "INT8", "UINT16", "INT16", "INT32", "INT64", "STRING", "BOOL",
	"FLOAT16", "DOUBLE", "UINT32", "UINT64", "COMPLEX64", "COMPLEX128", "BFLOAT16",
}

func (dt DataType) String() string {
	if dt >= 0 && int(dt) < len(dataTypeNames) {
		return dataTypeNames[dt]
	}
	return fmt.Sprintf("DataType(%d)", int32(dt))
}

// ElementType converts an ONNX data type to the element type of Torch value tensors:
// signed integers are si*, unsigned ui*, and booleans i1.
func (dt DataType) ElementType() (ir.Type, error) {
	switch dt {
	case DataTypeFloat:
		return ir.F32, nil
	case DataTypeFloat16:
		return ir.F16, nil
	case DataTypeBFloat16:
		return ir.BF16, nil
	case DataTypeDouble:
		return ir.F64, nil
	case DataTypeInt8:
		return ir.SI8, nil
	case DataTypeInt16:
		return ir.SI16, nil
	case DataTypeInt32:
		return ir.SI32, nil
	case DataTypeInt64:
		return ir.SI64, nil
	case DataTypeUint8:
		return ir.UI8, nil
	case DataTypeUint16:
		return ir.UI16, nil
	case DataTypeUint32:
		return ir.UI32, nil
	case DataTypeUint64:
		return ir.UI64, nil
	case DataTypeBool:
		return ir.I1, nil
	default:
		return nil, errors.Errorf("unsupported/unknown ONNX data type %s", dt)
	}
}

// byteSize returns the size in bytes of one element in raw data, or 0 if unknown.
func (dt DataType) byteSize() int {
	switch dt {
	case DataTypeUint8, DataTypeInt8, DataTypeBool:
		return 1
	case DataTypeUint16, DataTypeInt16, DataTypeFloat16, DataTypeBFloat16:
		return 2
	case DataTypeInt32, DataTypeUint32, DataTypeFloat:
		return 4
	case DataTypeInt64, DataTypeUint64, DataTypeDouble:
		return 8
	default:
		return 0
	}
}
