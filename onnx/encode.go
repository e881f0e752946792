package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal serializes the model in the ONNX wire format. Repeated scalars are written the
// way onnx.proto declares them: tensor data packed, dims and attribute lists unpacked.
func (m *ModelProto) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.IRVersion))
	b = appendStringField(b, 2, m.ProducerName)
	b = appendStringField(b, 3, m.ProducerVersion)
	b = appendStringField(b, 4, m.Domain)
	b = appendVarintField(b, 5, uint64(m.ModelVersion))
	b = appendStringField(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessageField(b, 7, m.Graph.marshal())
	}
	for _, opset := range m.OpsetImport {
		var sub []byte
		sub = appendStringField(sub, 1, opset.Domain)
		sub = protowire.AppendTag(sub, 2, protowire.VarintType)
		sub = protowire.AppendVarint(sub, uint64(opset.Version))
		b = appendMessageField(b, 8, sub)
	}
	for _, entry := range m.MetadataProps {
		b = appendMessageField(b, 14, entry.marshal())
	}
	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func (e StringStringEntry) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, e.Key)
	return appendStringField(b, 2, e.Value)
}

func (g *GraphProto) marshal() []byte {
	var b []byte
	for _, node := range g.Node {
		b = appendMessageField(b, 1, node.marshal())
	}
	b = appendStringField(b, 2, g.Name)
	for _, t := range g.Initializer {
		b = appendMessageField(b, 5, t.marshal())
	}
	b = appendStringField(b, 10, g.DocString)
	for _, list := range []struct {
		num    protowire.Number
		values []*ValueInfoProto
	}{{11, g.Input}, {12, g.Output}, {13, g.ValueInfo}} {
		for _, vi := range list.values {
			b = appendMessageField(b, list.num, vi.marshal())
		}
	}
	return b
}

func (n *NodeProto) marshal() []byte {
	var b []byte
	// Empty names mark omitted optional inputs and must be kept.
	for _, input := range n.Input {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, input)
	}
	for _, output := range n.Output {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, output)
	}
	b = appendStringField(b, 3, n.Name)
	b = appendStringField(b, 4, n.OpType)
	for _, attr := range n.Attribute {
		b = appendMessageField(b, 5, attr.marshal())
	}
	b = appendStringField(b, 6, n.DocString)
	return appendStringField(b, 7, n.Domain)
}

func (a *AttributeProto) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, a.Name)
	switch a.Type {
	case AttributeFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeInt:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I))
	case AttributeString:
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, a.S)
	case AttributeTensor:
		if a.T != nil {
			b = appendMessageField(b, 5, a.T.marshal())
		}
	case AttributeFloats:
		for _, f := range a.Floats {
			b = protowire.AppendTag(b, 7, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(f))
		}
	case AttributeInts:
		for _, i := range a.Ints {
			b = protowire.AppendTag(b, 8, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(i))
		}
	case AttributeStrings:
		for _, s := range a.Strings {
			b = protowire.AppendTag(b, 9, protowire.BytesType)
			b = protowire.AppendBytes(b, s)
		}
	}
	b = protowire.AppendTag(b, 20, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(a.Type))
}

func (vi *ValueInfoProto) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, vi.Name)
	if vi.Type != nil && vi.Type.Tensor != nil {
		tt := vi.Type.Tensor
		var tensorType []byte
		tensorType = appendVarintField(tensorType, 1, uint64(tt.ElemType))
		if tt.Shape != nil {
			var shape []byte
			for _, dim := range tt.Shape.Dim {
				var d []byte
				if dim.HasValue {
					d = protowire.AppendTag(d, 1, protowire.VarintType)
					d = protowire.AppendVarint(d, uint64(dim.Value))
				}
				d = appendStringField(d, 2, dim.Param)
				shape = appendMessageField(shape, 1, d)
			}
			tensorType = appendMessageField(tensorType, 2, shape)
		}
		b = appendMessageField(b, 2, appendMessageField(nil, 1, tensorType))
	}
	return appendStringField(b, 3, vi.DocString)
}

func (t *TensorProto) marshal() []byte {
	var b []byte
	for _, d := range t.Dims {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	b = appendVarintField(b, 2, uint64(t.DataType))
	if len(t.FloatData) > 0 {
		var packed []byte
		for _, f := range t.FloatData {
			packed = protowire.AppendFixed32(packed, math.Float32bits(f))
		}
		b = appendMessageField(b, 4, packed)
	}
	if len(t.Int32Data) > 0 {
		var packed []byte
		for _, i := range t.Int32Data {
			packed = protowire.AppendVarint(packed, uint64(int64(i)))
		}
		b = appendMessageField(b, 5, packed)
	}
	if len(t.Int64Data) > 0 {
		var packed []byte
		for _, i := range t.Int64Data {
			packed = protowire.AppendVarint(packed, uint64(i))
		}
		b = appendMessageField(b, 7, packed)
	}
	b = appendStringField(b, 8, t.Name)
	if t.RawData != nil {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, t.RawData)
	}
	if len(t.DoubleData) > 0 {
		var packed []byte
		for _, f := range t.DoubleData {
			packed = protowire.AppendFixed64(packed, math.Float64bits(f))
		}
		b = appendMessageField(b, 10, packed)
	}
	if len(t.Uint64Data) > 0 {
		var packed []byte
		for _, u := range t.Uint64Data {
			packed = protowire.AppendVarint(packed, u)
		}
		b = appendMessageField(b, 11, packed)
	}
	for _, entry := range t.ExternalData {
		b = appendMessageField(b, 13, entry.marshal())
	}
	return appendVarintField(b, 14, uint64(t.DataLocation))
}
