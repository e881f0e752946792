package onnx

import (
	"regexp"
	"slices"

	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/torch"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Function attributes describing the imported model.
const (
	IRVersionAttr       = torch.OnnxMetaPrefix + "ir_version"
	ProducerNameAttr    = torch.OnnxMetaPrefix + "producer_name"
	ProducerVersionAttr = torch.OnnxMetaPrefix + "producer_version"
	OpsetVersionsAttr   = torch.OnnxMetaPrefix + "opset_versions"
)

// DefaultFuncName is the name of the imported function when the graph has no usable name.
const DefaultFuncName = "main"

var symbolName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$.]*$`)

// importer holds the state of one Model.Import call.
type importer struct {
	m      *Model
	types  map[string]ir.Type
	values map[string]*ir.Value
	b      *ir.Builder
	none   *ir.Value
}

// Import builds a module with a single function computing the model graph. Graph inputs
// become function arguments, initializers torch.vtensor.literal constants and nodes
// torch.operator "onnx.<OpType>" operations, with their attributes prefixed by
// "torch.onnx.". Omitted optional inputs are passed as torch.constant.none.
//
// Nodes of non-default domains carry the domain opset version in their own
// torch.onnx_meta.opset_version attribute.
func (m *Model) Import() (*ir.Module, error) {
	graph := m.Proto.Graph
	if graph.NumSparseInitializer > 0 {
		return nil, errors.New("ONNX sparse initializers are not supported")
	}
	if m.Proto.NumFunctions > 0 {
		return nil, errors.New("ONNX model local functions are not supported")
	}
	opset, found := m.OpsetVersion(DefaultDomain)
	if !found {
		return nil, errors.New("ONNX model does not import the default operator set")
	}

	imp := &importer{m: m, types: make(map[string]ir.Type), values: make(map[string]*ir.Value)}
	for _, list := range [][]*ValueInfoProto{graph.ValueInfo, graph.Output, graph.Input} {
		for _, vi := range list {
			t, err := valueInfoType(vi)
			if err != nil {
				return nil, err
			}
			imp.types[vi.Name] = t
		}
	}

	inputs := make([]ir.Type, len(m.InputsNames))
	for i, name := range m.InputsNames {
		inputs[i] = imp.types[name]
	}
	results := make([]ir.Type, len(m.OutputsNames))
	for i, name := range m.OutputsNames {
		results[i] = imp.types[name]
	}
	name := DefaultFuncName
	if symbolName.MatchString(graph.Name) {
		name = graph.Name
	}
	fn := ir.NewFunc(name, ir.FunctionType{Inputs: inputs, Results: results})
	imp.setFuncAttrs(fn, opset)
	for i, name := range m.InputsNames {
		imp.values[name] = fn.Entry().Arg(i)
	}
	imp.b = ir.AtEnd(fn.Entry())

	for _, t := range graph.Initializer {
		if err := imp.importInitializer(t); err != nil {
			return nil, err
		}
	}
	nodes, err := m.sortedNodes()
	if err != nil {
		return nil, err
	}
	for ii, node := range nodes {
		if err := imp.importNode(node); err != nil {
			return nil, errors.WithMessagef(err, "while importing node %d out of %d (%s %q)", ii, len(nodes), node.OpType, node.Name)
		}
	}

	returned := make([]*ir.Value, len(m.OutputsNames))
	for i, name := range m.OutputsNames {
		v, found := imp.values[name]
		if !found {
			return nil, errors.Errorf("graph output %q is never computed", name)
		}
		returned[i] = v
	}
	imp.b.Create(ir.ReturnOpName, returned, nil)

	module := ir.NewModule()
	module.AddFunc(fn)
	klog.V(1).Infof("imported ONNX graph %q: %d inputs, %d initializers, %d nodes, opset %d",
		graph.Name, len(inputs), len(graph.Initializer), len(nodes), opset)
	return module, nil
}

func (imp *importer) setFuncAttrs(fn *ir.Func, opset int64) {
	p := imp.m.Proto
	op := fn.Op()
	op.SetAttr(torch.OpsetVersionAttr, ir.SI64Attr(opset))
	op.SetAttr(IRVersionAttr, ir.SI64Attr(p.IRVersion))
	if p.ProducerName != "" {
		op.SetAttr(ProducerNameAttr, ir.StringAttr(p.ProducerName))
	}
	if p.ProducerVersion != "" {
		op.SetAttr(ProducerVersionAttr, ir.StringAttr(p.ProducerVersion))
	}
	var others ir.DictAttr
	for _, o := range p.OpsetImport {
		if canonicalDomain(o.Domain) != DefaultDomain {
			others = append(others, ir.NamedAttr{Name: o.Domain, Value: ir.SI64Attr(o.Version)})
		}
	}
	if len(others) > 0 {
		slices.SortFunc(others, func(a, b ir.NamedAttr) int {
			switch {
			case a.Name < b.Name:
				return -1
			case a.Name > b.Name:
				return 1
			}
			return 0
		})
		op.SetAttr(OpsetVersionsAttr, others)
	}
}

// valueInfoType converts the type of a graph value to a !torch.vtensor. Missing
// information (element type, shape, or dimension sizes) is left unknown.
func valueInfoType(vi *ValueInfoProto) (ir.Type, error) {
	if vi.Type == nil || (vi.Type.Tensor == nil && !vi.Type.Other) {
		return torch.ValueTensorType{}, nil
	}
	if vi.Type.Tensor == nil {
		return nil, errors.Errorf("value %q: only tensor types are supported", vi.Name)
	}
	var vt torch.ValueTensorType
	tt := vi.Type.Tensor
	if tt.ElemType != DataTypeUndefined {
		elem, err := tt.ElemType.ElementType()
		if err != nil {
			return nil, errors.WithMessagef(err, "value %q", vi.Name)
		}
		vt.Dtype = elem
	}
	if tt.Shape != nil {
		vt.Sizes = make([]int64, len(tt.Shape.Dim))
		for i, dim := range tt.Shape.Dim {
			if dim.HasValue && dim.Value >= 0 {
				vt.Sizes[i] = dim.Value
			} else {
				vt.Sizes[i] = ir.DynamicSize
			}
		}
	}
	return vt, nil
}

func (imp *importer) importInitializer(t *TensorProto) error {
	raw, err := imp.m.tensorData(t)
	if err != nil {
		return err
	}
	dense, err := DenseElements(t, raw)
	if err != nil {
		return errors.WithMessagef(err, "while importing initializer %q", t.Name)
	}
	vt := torch.VTensor(dense.Type.Elem, dense.Type.Shape...)
	literal := imp.b.Create(torch.VTensorLiteral, nil, []ir.Type{vt}, ir.NamedAttr{Name: torch.ValueAttr, Value: dense})
	imp.values[t.Name] = literal.Result(0)
	return nil
}

func (imp *importer) noneValue() *ir.Value {
	if imp.none == nil {
		imp.none = torch.ConstantNone(imp.b)
	}
	return imp.none
}

func (imp *importer) importNode(node *NodeProto) error {
	operands := make([]*ir.Value, len(node.Input))
	for i, name := range node.Input {
		if name == "" {
			operands[i] = imp.noneValue()
			continue
		}
		v, found := imp.values[name]
		if !found {
			return errors.Errorf("input #%d %q is not defined", i, name)
		}
		operands[i] = v
	}
	resultTypes := make([]ir.Type, len(node.Output))
	for i, name := range node.Output {
		if t, found := imp.types[name]; found {
			resultTypes[i] = t
		} else {
			resultTypes[i] = torch.ValueTensorType{}
		}
	}

	attrs := make([]ir.NamedAttr, 0, len(node.Attribute)+1)
	if domain := canonicalDomain(node.Domain); domain != DefaultDomain {
		version, found := imp.m.OpsetVersion(domain)
		if !found {
			return errors.Errorf("domain %q is not imported by the model", node.Domain)
		}
		attrs = append(attrs, ir.NamedAttr{Name: torch.OpsetVersionAttr, Value: ir.SI64Attr(version)})
	}
	for _, attr := range node.Attribute {
		value, err := imp.attribute(attr)
		if err != nil {
			return err
		}
		attrs = append(attrs, ir.NamedAttr{Name: torch.OnnxAttrPrefix + attr.Name, Value: value})
	}

	op := torch.OnnxOperator(imp.b, node.OpType, operands, resultTypes, attrs...)
	for i, name := range node.Output {
		if name != "" {
			imp.values[name] = op.Result(i)
		}
	}
	return nil
}

func (imp *importer) attribute(attr *AttributeProto) (ir.Attribute, error) {
	switch attr.Type {
	case AttributeFloat:
		return ir.F32Attr(attr.F), nil
	case AttributeInt:
		return ir.SI64Attr(attr.I), nil
	case AttributeString:
		return ir.StringAttr(attr.S), nil
	case AttributeTensor:
		raw, err := imp.m.tensorData(attr.T)
		if err != nil {
			return nil, err
		}
		dense, err := DenseElements(attr.T, raw)
		return dense, errors.WithMessagef(err, "attribute %q", attr.Name)
	case AttributeFloats:
		arr := make(ir.ArrayAttr, len(attr.Floats))
		for i, f := range attr.Floats {
			arr[i] = ir.F32Attr(f)
		}
		return arr, nil
	case AttributeInts:
		arr := make(ir.ArrayAttr, len(attr.Ints))
		for i, v := range attr.Ints {
			arr[i] = ir.SI64Attr(v)
		}
		return arr, nil
	case AttributeStrings:
		arr := make(ir.ArrayAttr, len(attr.Strings))
		for i, s := range attr.Strings {
			arr[i] = ir.StringAttr(s)
		}
		return arr, nil
	}
	return nil, errors.Errorf("attribute %q of type %s not supported", attr.Name, attr.Type)
}
