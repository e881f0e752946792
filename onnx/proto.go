package onnx

import "fmt"

// The message types below mirror the subset of onnx.proto used for lowering. Field
// numbers are the ones of the ONNX IR specification.

// ModelProto is the top-level ONNX message.
type ModelProto struct {
	IRVersion       int64
	OpsetImport     []OperatorSetID
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	MetadataProps   []StringStringEntry
	NumFunctions    int
}

// OperatorSetID names the version of an operator domain used by a model.
type OperatorSetID struct {
	Domain  string
	Version int64
}

// StringStringEntry is a key/value pair.
type StringStringEntry struct {
	Key, Value string
}

// GraphProto is a computation graph.
type GraphProto struct {
	Name                 string
	Node                 []*NodeProto
	Initializer          []*TensorProto
	Input                []*ValueInfoProto
	Output               []*ValueInfoProto
	ValueInfo            []*ValueInfoProto
	DocString            string
	NumSparseInitializer int
}

// NodeProto is one operator invocation.
type NodeProto struct {
	Input     []string
	Output    []string
	Name      string
	OpType    string
	Domain    string
	Attribute []*AttributeProto
	DocString string
}

// AttributeType enumerates the kinds of AttributeProto values.
type AttributeType int32

const (
	AttributeUndefined AttributeType = iota
	AttributeFloat
	AttributeInt
	AttributeString
	AttributeTensor
	AttributeGraph
	AttributeFloats
	AttributeInts
	AttributeStrings
	AttributeTensors
	AttributeGraphs
	AttributeSparseTensor
	AttributeSparseTensors
	AttributeTypeProto
	AttributeTypeProtos
)

var attributeTypeNames = []string{
	"UNDEFINED", "FLOAT", "INT", "STRING", "TENSOR", "GRAPH", "FLOATS", "INTS", "STRINGS",
	"TENSORS", "GRAPHS", "SPARSE_TENSOR", "SPARSE_TENSORS", "TYPE_PROTO", "TYPE_PROTOS",
}

func (t AttributeType) String() string {
	if t >= 0 && int(t) < len(attributeTypeNames) {
		return attributeTypeNames[t]
	}
	return fmt.Sprintf("AttributeType(%d)", int32(t))
}

// AttributeProto is a named node attribute.
type AttributeProto struct {
	Name    string
	Type    AttributeType
	F       float32
	I       int64
	S       []byte
	T       *TensorProto
	Floats  []float32
	Ints    []int64
	Strings [][]byte
}

// ValueInfoProto describes a graph value.
type ValueInfoProto struct {
	Name      string
	Type      *TypeProto
	DocString string
}

// TypeProto is the type of a value. Only tensor types are decoded; Other is set for
// sequences, maps, optionals and sparse tensors.
type TypeProto struct {
	Tensor *TensorTypeProto
	Other  bool
}

// TensorTypeProto is a tensor type: element type and an optional shape.
type TensorTypeProto struct {
	ElemType DataType
	Shape    *TensorShapeProto
}

// TensorShapeProto is a list of dimensions.
type TensorShapeProto struct {
	Dim []Dimension
}

// Dimension is either a static size, a symbolic name, or unknown.
type Dimension struct {
	Value    int64
	Param    string
	HasValue bool
}

// DataLocation tells where the contents of a TensorProto are stored.
type DataLocation int32

const (
	DataLocationDefault DataLocation = iota
	DataLocationExternal
)

// TensorProto is a serialized tensor.
type TensorProto struct {
	Dims         []int64
	DataType     DataType
	HasSegment   bool
	FloatData    []float32
	Int32Data    []int32
	StringData   [][]byte
	Int64Data    []int64
	Name         string
	RawData      []byte
	DoubleData   []float64
	Uint64Data   []uint64
	DocString    string
	ExternalData []StringStringEntry
	DataLocation DataLocation
}

// NumElements returns the number of elements implied by Dims.
func (t *TensorProto) NumElements() int64 {
	n := int64(1)
	for _, d := range t.Dims {
		n *= d
	}
	return n
}
