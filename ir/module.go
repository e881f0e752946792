package ir

import (
	"strings"

	"github.com/pkg/errors"
)

// Names of the builtin and structural operations.
const (
	ModuleOpName     = "builtin.module"
	FuncOpName       = "func.func"
	ReturnOpName     = "func.return"
	CallOpName       = "func.call"
	BranchOpName     = "cf.br"
	CondBranchOpName = "cf.cond_br"

	SymNameAttr       = "sym_name"
	FunctionTypeAttr  = "function_type"
	CalleeAttr        = "callee"
	SegmentSizesAttr  = "operandSegmentSizes"
	symbolPrefix      = "@"
	entryArgumentName = "arg"
)

// SymbolRefAttr refers to a symbol (e.g. a function) by name.
type SymbolRefAttr string

func (a SymbolRefAttr) String() string { return symbolPrefix + string(a) }

// Module is the top-level container of functions.
type Module struct {
	op *Operation
}

// NewModule creates an empty module.
func NewModule() *Module {
	op := NewOperation(State{Name: ModuleOpName, Regions: []*Region{NewRegion(NewBlock())}})
	return &Module{op: op}
}

// Op returns the underlying builtin.module operation.
func (m *Module) Op() *Operation { return m.op }

// Body is the single block of the module.
func (m *Module) Body() *Block { return m.op.regions[0].Entry() }

// AddFunc appends a function to the module.
func (m *Module) AddFunc(f *Func) { m.Body().Append(f.op) }

// Funcs returns the functions of the module, in order.
func (m *Module) Funcs() []*Func {
	var funcs []*Func
	for _, op := range m.Body().ops {
		if f, ok := AsFunc(op); ok {
			funcs = append(funcs, f)
		}
	}
	return funcs
}

// Func returns the function with the given name, or nil.
func (m *Module) Func(name string) *Func {
	for _, f := range m.Funcs() {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

// Clone returns a deep copy of the module.
func (m *Module) Clone() *Module {
	return &Module{op: m.op.Clone()}
}

// Restore replaces the contents of m with the contents of snapshot, which must be a
// clone of m taken earlier. The snapshot is consumed.
func (m *Module) Restore(snapshot *Module) {
	m.op.regions[0].TakeBody(snapshot.op.regions[0])
	m.op.attrs = snapshot.op.attrs
}

// String prints the module.
func (m *Module) String() string {
	p := newPrinter()
	p.printModule(m.op)
	return p.sb.String()
}

// Func is a view over a func.func operation.
type Func struct {
	op *Operation
}

// NewFunc creates a detached function with an entry block whose arguments match the
// inputs of ft.
func NewFunc(name string, ft FunctionType) *Func {
	op := NewOperation(State{
		Name: FuncOpName,
		Attrs: []NamedAttr{
			{Name: SymNameAttr, Value: StringAttr(name)},
			{Name: FunctionTypeAttr, Value: TypeAttr{Type: ft}},
		},
		Regions: []*Region{NewRegion(NewBlock(ft.Inputs...))},
	})
	return &Func{op: op}
}

// AsFunc returns a Func view if op is a func.func.
func AsFunc(op *Operation) (*Func, bool) {
	if op == nil || op.name != FuncOpName {
		return nil, false
	}
	return &Func{op: op}, true
}

// Op returns the underlying func.func operation.
func (f *Func) Op() *Operation { return f.op }

// Name of the function.
func (f *Func) Name() string {
	attr, _ := f.op.Attr(SymNameAttr)
	name, _ := attr.(StringAttr)
	return string(name)
}

// Type returns the function type.
func (f *Func) Type() FunctionType {
	attr, _ := f.op.Attr(FunctionTypeAttr)
	ta, _ := attr.(TypeAttr)
	ft, _ := ta.Type.(FunctionType)
	return ft
}

// SetType sets the function type attribute. Block arguments are not changed.
func (f *Func) SetType(ft FunctionType) {
	f.op.SetAttr(FunctionTypeAttr, TypeAttr{Type: ft})
}

// Body is the function region.
func (f *Func) Body() *Region { return f.op.regions[0] }

// Entry is the entry block of the function.
func (f *Func) Entry() *Block { return f.op.regions[0].Entry() }

// Returns lists the func.return operations of the function.
func (f *Func) Returns() []*Operation {
	var returns []*Operation
	for _, b := range f.Body().blocks {
		if t := b.Terminator(); t != nil && t.name == ReturnOpName {
			returns = append(returns, t)
		}
	}
	return returns
}

// CalleeName returns the callee of a func.call.
func CalleeName(call *Operation) (string, error) {
	attr, found := call.Attr(CalleeAttr)
	if !found {
		return "", errors.Errorf("%s has no %q attribute", call.name, CalleeAttr)
	}
	ref, ok := attr.(SymbolRefAttr)
	if !ok {
		return "", errors.Errorf("%s attribute %q is %T, not a symbol reference", call.name, CalleeAttr, attr)
	}
	return strings.TrimPrefix(string(ref), symbolPrefix), nil
}

// SuccessorOperands returns the operands forwarded to the i-th successor of a branch.
// cf.br forwards all of its operands; operations with several successors use the
// operandSegmentSizes attribute, whose first segment holds non-forwarded operands.
func SuccessorOperands(op *Operation, i int) []*Value {
	if len(op.successors) == 1 {
		return op.Operands()
	}
	attr, found := op.Attr(SegmentSizesAttr)
	segments, ok := attr.(ArrayAttr)
	if !found || !ok || len(segments) != len(op.successors)+1 {
		return nil
	}
	start := 0
	for s := 0; s <= i; s++ {
		size, _ := segments[s].(IntegerAttr)
		start += int(size.Value)
	}
	size, _ := segments[i+1].(IntegerAttr)
	return append([]*Value(nil), op.operands[start:start+int(size.Value)]...)
}
