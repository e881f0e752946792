package onnx

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// fieldHandler decodes the value of one field from b, returning the number of bytes
// consumed. Returning 0 skips the field.
type fieldHandler func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// decodeMessage walks the fields of a serialized message.
func decodeMessage(b []byte, message string, handle fieldHandler) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "%s: invalid field tag", message)
		}
		b = b[n:]
		n, err := handle(num, typ, b)
		if err != nil {
			return errors.WithMessagef(err, "while decoding %s field %d", message, num)
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "%s field %d", message, num)
		}
		b = b[n:]
	}
	return nil
}

func expectType(typ, want protowire.Type) error {
	if typ != want {
		return errors.Errorf("wire type %d, expected %d", typ, want)
	}
	return nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if err := expectType(typ, protowire.BytesType); err != nil {
		return nil, 0, err
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeString(typ protowire.Type, b []byte, s *string) (int, error) {
	v, n, err := consumeBytes(typ, b)
	*s = string(v)
	return n, err
}

func consumeVarint(typ protowire.Type, b []byte, v *int64) (int, error) {
	if err := expectType(typ, protowire.VarintType); err != nil {
		return 0, err
	}
	x, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*v = int64(x)
	return n, nil
}

// consumeMessage decodes an embedded message with decode.
func consumeMessage(typ protowire.Type, b []byte, decode func([]byte) error) (int, error) {
	v, n, err := consumeBytes(typ, b)
	if err != nil {
		return 0, err
	}
	return n, decode(v)
}

// consumeRepeatedVarint appends one value, or a packed list of values.
func consumeRepeatedVarint(typ protowire.Type, b []byte, appendFn func(uint64)) (int, error) {
	if typ == protowire.VarintType {
		x, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		appendFn(x)
		return n, nil
	}
	packed, n, err := consumeBytes(typ, b)
	if err != nil {
		return 0, err
	}
	for len(packed) > 0 {
		x, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		appendFn(x)
		packed = packed[m:]
	}
	return n, nil
}

func consumeRepeatedFixed32(typ protowire.Type, b []byte, appendFn func(uint32)) (int, error) {
	if typ == protowire.Fixed32Type {
		x, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		appendFn(x)
		return n, nil
	}
	packed, n, err := consumeBytes(typ, b)
	if err != nil {
		return 0, err
	}
	for len(packed) > 0 {
		x, m := protowire.ConsumeFixed32(packed)
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		appendFn(x)
		packed = packed[m:]
	}
	return n, nil
}

func consumeRepeatedFixed64(typ protowire.Type, b []byte, appendFn func(uint64)) (int, error) {
	if typ == protowire.Fixed64Type {
		x, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		appendFn(x)
		return n, nil
	}
	packed, n, err := consumeBytes(typ, b)
	if err != nil {
		return 0, err
	}
	for len(packed) > 0 {
		x, m := protowire.ConsumeFixed64(packed)
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		appendFn(x)
		packed = packed[m:]
	}
	return n, nil
}

func decodeModel(b []byte) (*ModelProto, error) {
	m := &ModelProto{}
	err := decodeMessage(b, "ModelProto", func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeVarint(typ, b, &m.IRVersion)
		case 2:
			return consumeString(typ, b, &m.ProducerName)
		case 3:
			return consumeString(typ, b, &m.ProducerVersion)
		case 4:
			return consumeString(typ, b, &m.Domain)
		case 5:
			return consumeVarint(typ, b, &m.ModelVersion)
		case 6:
			return consumeString(typ, b, &m.DocString)
		case 7:
			return consumeMessage(typ, b, func(b []byte) (err error) {
				m.Graph, err = decodeGraph(b)
				return
			})
		case 8:
			return consumeMessage(typ, b, func(b []byte) error {
				var opset OperatorSetID
				err := decodeMessage(b, "OperatorSetIdProto", func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					switch num {
					case 1:
						return consumeString(typ, b, &opset.Domain)
					case 2:
						return consumeVarint(typ, b, &opset.Version)
					}
					return 0, nil
				})
				m.OpsetImport = append(m.OpsetImport, opset)
				return err
			})
		case 14:
			return consumeMessage(typ, b, func(b []byte) error {
				entry, err := decodeStringStringEntry(b)
				m.MetadataProps = append(m.MetadataProps, entry)
				return err
			})
		case 25:
			m.NumFunctions++
		}
		return 0, nil
	})
	return m, err
}

func decodeStringStringEntry(b []byte) (StringStringEntry, error) {
	var entry StringStringEntry
	err := decodeMessage(b, "StringStringEntryProto", func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &entry.Key)
		case 2:
			return consumeString(typ, b, &entry.Value)
		}
		return 0, nil
	})
	return entry, err
}

func decodeGraph(b []byte) (*GraphProto, error) {
	g := &GraphProto{}
	valueInfo := func(list *[]*ValueInfoProto) func([]byte) error {
		return func(b []byte) error {
			vi, err := decodeValueInfo(b)
			*list = append(*list, vi)
			return err
		}
	}
	err := decodeMessage(b, "GraphProto", func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeMessage(typ, b, func(b []byte) error {
				node, err := decodeNode(b)
				g.Node = append(g.Node, node)
				return err
			})
		case 2:
			return consumeString(typ, b, &g.Name)
		case 5:
			return consumeMessage(typ, b, func(b []byte) error {
				t, err := decodeTensor(b)
				g.Initializer = append(g.Initializer, t)
				return err
			})
		case 10:
			return consumeString(typ, b, &g.DocString)
		case 11:
			return consumeMessage(typ, b, valueInfo(&g.Input))
		case 12:
			return consumeMessage(typ, b, valueInfo(&g.Output))
		case 13:
			return consumeMessage(typ, b, valueInfo(&g.ValueInfo))
		case 15:
			g.NumSparseInitializer++
		}
		return 0, nil
	})
	return g, err
}

func decodeNode(b []byte) (*NodeProto, error) {
	node := &NodeProto{}
	err := decodeMessage(b, "NodeProto", func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 2:
			var s string
			n, err := consumeString(typ, b, &s)
			if num == 1 {
				node.Input = append(node.Input, s)
			} else {
				node.Output = append(node.Output, s)
			}
			return n, err
		case 3:
			return consumeString(typ, b, &node.Name)
		case 4:
			return consumeString(typ, b, &node.OpType)
		case 5:
			return consumeMessage(typ, b, func(b []byte) error {
				attr, err := decodeAttribute(b)
				node.Attribute = append(node.Attribute, attr)
				return err
			})
		case 6:
			return consumeString(typ, b, &node.DocString)
		case 7:
			return consumeString(typ, b, &node.Domain)
		}
		return 0, nil
	})
	return node, err
}

func decodeAttribute(b []byte) (*AttributeProto, error) {
	attr := &AttributeProto{}
	err := decodeMessage(b, "AttributeProto", func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &attr.Name)
		case 2:
			return consumeRepeatedFixed32(typ, b, func(x uint32) { attr.F = math.Float32frombits(x) })
		case 3:
			return consumeVarint(typ, b, &attr.I)
		case 4:
			s, n, err := consumeBytes(typ, b)
			attr.S = append([]byte(nil), s...)
			return n, err
		case 5:
			return consumeMessage(typ, b, func(b []byte) (err error) {
				attr.T, err = decodeTensor(b)
				return
			})
		case 7:
			return consumeRepeatedFixed32(typ, b, func(x uint32) { attr.Floats = append(attr.Floats, math.Float32frombits(x)) })
		case 8:
			return consumeRepeatedVarint(typ, b, func(x uint64) { attr.Ints = append(attr.Ints, int64(x)) })
		case 9:
			s, n, err := consumeBytes(typ, b)
			attr.Strings = append(attr.Strings, append([]byte(nil), s...))
			return n, err
		case 20:
			var t int64
			n, err := consumeVarint(typ, b, &t)
			attr.Type = AttributeType(t)
			return n, err
		}
		return 0, nil
	})
	return attr, err
}

func decodeValueInfo(b []byte) (*ValueInfoProto, error) {
	vi := &ValueInfoProto{}
	err := decodeMessage(b, "ValueInfoProto", func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &vi.Name)
		case 2:
			return consumeMessage(typ, b, func(b []byte) (err error) {
				vi.Type, err = decodeType(b)
				return
			})
		case 3:
			return consumeString(typ, b, &vi.DocString)
		}
		return 0, nil
	})
	return vi, err
}

func decodeType(b []byte) (*TypeProto, error) {
	tp := &TypeProto{}
	err := decodeMessage(b, "TypeProto", func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			tp.Tensor = &TensorTypeProto{}
			return consumeMessage(typ, b, func(b []byte) error {
				return decodeTensorType(b, tp.Tensor)
			})
		case 4, 5, 8, 9:
			tp.Other = true
		}
		return 0, nil
	})
	return tp, err
}

func decodeTensorType(b []byte, tt *TensorTypeProto) error {
	return decodeMessage(b, "TypeProto.Tensor", func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			var elem int64
			n, err := consumeVarint(typ, b, &elem)
			tt.ElemType = DataType(elem)
			return n, err
		case 2:
			tt.Shape = &TensorShapeProto{}
			return consumeMessage(typ, b, func(b []byte) error {
				return decodeMessage(b, "TensorShapeProto", func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					if num != 1 {
						return 0, nil
					}
					return consumeMessage(typ, b, func(b []byte) error {
						dim, err := decodeDimension(b)
						tt.Shape.Dim = append(tt.Shape.Dim, dim)
						return err
					})
				})
			})
		}
		return 0, nil
	})
}

func decodeDimension(b []byte) (Dimension, error) {
	var dim Dimension
	err := decodeMessage(b, "TensorShapeProto.Dimension", func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			dim.HasValue = true
			return consumeVarint(typ, b, &dim.Value)
		case 2:
			return consumeString(typ, b, &dim.Param)
		}
		return 0, nil
	})
	return dim, err
}

func decodeTensor(b []byte) (*TensorProto, error) {
	t := &TensorProto{}
	err := decodeMessage(b, "TensorProto", func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeRepeatedVarint(typ, b, func(x uint64) { t.Dims = append(t.Dims, int64(x)) })
		case 2:
			var dt int64
			n, err := consumeVarint(typ, b, &dt)
			t.DataType = DataType(dt)
			return n, err
		case 3:
			t.HasSegment = true
		case 4:
			return consumeRepeatedFixed32(typ, b, func(x uint32) { t.FloatData = append(t.FloatData, math.Float32frombits(x)) })
		case 5:
			return consumeRepeatedVarint(typ, b, func(x uint64) { t.Int32Data = append(t.Int32Data, int32(x)) })
		case 6:
			s, n, err := consumeBytes(typ, b)
			t.StringData = append(t.StringData, append([]byte(nil), s...))
			return n, err
		case 7:
			return consumeRepeatedVarint(typ, b, func(x uint64) { t.Int64Data = append(t.Int64Data, int64(x)) })
		case 8:
			return consumeString(typ, b, &t.Name)
		case 9:
			raw, n, err := consumeBytes(typ, b)
			t.RawData = append([]byte{}, raw...)
			return n, err
		case 10:
			return consumeRepeatedFixed64(typ, b, func(x uint64) { t.DoubleData = append(t.DoubleData, math.Float64frombits(x)) })
		case 11:
			return consumeRepeatedVarint(typ, b, func(x uint64) { t.Uint64Data = append(t.Uint64Data, x) })
		case 12:
			return consumeString(typ, b, &t.DocString)
		case 13:
			return consumeMessage(typ, b, func(b []byte) error {
				entry, err := decodeStringStringEntry(b)
				t.ExternalData = append(t.ExternalData, entry)
				return err
			})
		case 14:
			var loc int64
			n, err := consumeVarint(typ, b, &loc)
			t.DataLocation = DataLocation(loc)
			return n, err
		}
		return 0, nil
	})
	return t, err
}
