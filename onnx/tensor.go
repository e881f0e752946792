package onnx

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/gomlx/onnx-torch/ir"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// TensorType returns the builtin tensor type holding the contents of proto.
func TensorType(proto *TensorProto) (ir.TensorType, error) {
	if proto == nil {
		return ir.TensorType{}, errors.New("ONNX TensorProto is nil")
	}
	elem, err := proto.DataType.ElementType()
	if err != nil {
		return ir.TensorType{}, errors.WithMessagef(err, "while parsing tensor %q", proto.Name)
	}
	if proto.HasSegment {
		return ir.TensorType{}, errors.Errorf("tensor %q: segmented tensors not supported", proto.Name)
	}
	return ir.RankedTensor(elem, append([]int64{}, proto.Dims...)...), nil
}

// DenseElements converts the contents of proto to a dense elements attribute. raw
// replaces proto.RawData when not nil; it is used for external data.
func DenseElements(proto *TensorProto, raw []byte) (ir.DenseElementsAttr, error) {
	tt, err := TensorType(proto)
	if err != nil {
		return ir.DenseElementsAttr{}, err
	}
	dense := ir.DenseElementsAttr{Type: tt}
	size := int(proto.NumElements())
	if raw == nil {
		raw = proto.RawData
	}
	if raw != nil {
		return decodeRawData(proto, raw, dense, size)
	}

	var count int
	isFloat := ir.IsFloat(tt.Elem)
	switch proto.DataType {
	case DataTypeFloat:
		count = len(proto.FloatData)
		for _, f := range proto.FloatData {
			dense.Floats = append(dense.Floats, float64(f))
		}
	case DataTypeDouble:
		count = len(proto.DoubleData)
		dense.Floats = append(dense.Floats, proto.DoubleData...)
	case DataTypeInt64:
		count = len(proto.Int64Data)
		dense.Ints = append(dense.Ints, proto.Int64Data...)
	case DataTypeUint32, DataTypeUint64:
		count = len(proto.Uint64Data)
		for _, u := range proto.Uint64Data {
			dense.Ints = append(dense.Ints, int64(u))
		}
	default:
		// Narrow types, including 16 bits floats as their bit patterns, use int32_data.
		count = len(proto.Int32Data)
		for _, i := range proto.Int32Data {
			if isFloat {
				dense.Floats = append(dense.Floats, float64(halfToFloat32(proto.DataType, uint16(i))))
			} else {
				dense.Ints = append(dense.Ints, int64(i))
			}
		}
	}
	if count != size {
		return ir.DenseElementsAttr{}, errors.Errorf("tensor %q shaped %s has size %d, but ONNX model provided %d values",
			proto.Name, tt, size, count)
	}
	return dense, nil
}

func halfToFloat32(dt DataType, bits uint16) float32 {
	if dt == DataTypeBFloat16 {
		return math.Float32frombits(uint32(bits) << 16)
	}
	return float16.Frombits(bits).Float32()
}

// decodeRawData decodes little-endian raw data.
func decodeRawData(proto *TensorProto, raw []byte, dense ir.DenseElementsAttr, size int) (ir.DenseElementsAttr, error) {
	elemSize := proto.DataType.byteSize()
	if elemSize == 0 {
		return ir.DenseElementsAttr{}, errors.Errorf("tensor %q: raw data of type %s not supported", proto.Name, proto.DataType)
	}
	if len(raw) != size*elemSize {
		return ir.DenseElementsAttr{}, errors.Errorf("tensor %q shaped %s uses %d bytes, but ONNX model provided %d bytes of raw-data",
			proto.Name, dense.Type, size*elemSize, len(raw))
	}
	le := binary.LittleEndian
	for i := 0; i < size; i++ {
		chunk := raw[i*elemSize : (i+1)*elemSize]
		switch proto.DataType {
		case DataTypeFloat:
			dense.Floats = append(dense.Floats, float64(math.Float32frombits(le.Uint32(chunk))))
		case DataTypeDouble:
			dense.Floats = append(dense.Floats, math.Float64frombits(le.Uint64(chunk)))
		case DataTypeFloat16, DataTypeBFloat16:
			dense.Floats = append(dense.Floats, float64(halfToFloat32(proto.DataType, le.Uint16(chunk))))
		case DataTypeInt8:
			dense.Ints = append(dense.Ints, int64(int8(chunk[0])))
		case DataTypeUint8, DataTypeBool:
			dense.Ints = append(dense.Ints, int64(chunk[0]))
		case DataTypeInt16:
			dense.Ints = append(dense.Ints, int64(int16(le.Uint16(chunk))))
		case DataTypeUint16:
			dense.Ints = append(dense.Ints, int64(le.Uint16(chunk)))
		case DataTypeInt32:
			dense.Ints = append(dense.Ints, int64(int32(le.Uint32(chunk))))
		case DataTypeUint32:
			dense.Ints = append(dense.Ints, int64(le.Uint32(chunk)))
		case DataTypeInt64, DataTypeUint64:
			dense.Ints = append(dense.Ints, int64(le.Uint64(chunk)))
		}
	}
	return dense, nil
}

// externalDataInfo is where the contents of a tensor live outside the model file.
type externalDataInfo struct {
	location string
	offset   int64
	length   int64
}

func parseExternalData(proto *TensorProto) (*externalDataInfo, error) {
	info := &externalDataInfo{}
	for _, entry := range proto.ExternalData {
		var err error
		switch entry.Key {
		case "location":
			info.location = entry.Value
		case "offset":
			info.offset, err = parseInt64(entry.Value)
		case "length":
			info.length, err = parseInt64(entry.Value)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "tensor %q external data %q", proto.Name, entry.Key)
		}
	}
	if info.location == "" {
		return nil, errors.Errorf("tensor %q has external data without a location", proto.Name)
	}
	return info, nil
}

func parseInt64(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	return v, errors.Wrapf(err, "invalid number %q", s)
}
