package ir

import (
	"sort"
	"strings"

	"github.com/gomlx/exceptions"
)

// Operation is a node of the IR: a named operation with operands, results,
// sorted attributes, nested regions and successor blocks.
type Operation struct {
	name       string
	operands   []*Value
	results    []*Value
	attrs      []NamedAttr
	regions    []*Region
	successors []*Block
	block      *Block
}

// State collects everything needed to create an Operation.
type State struct {
	Name        string
	Operands    []*Value
	ResultTypes []Type
	Attrs       []NamedAttr
	Regions     []*Region
	Successors  []*Block
}

// NewOperation creates a detached operation. Operand uses are registered immediately,
// so a detached operation that is not inserted must be destroyed with Erase.
func NewOperation(s State) *Operation {
	op := &Operation{name: s.Name}
	for i, v := range s.Operands {
		if v == nil {
			exceptions.Panicf("operation %q: operand #%d is nil", s.Name, i)
		}
		op.operands = append(op.operands, v)
		v.addUse(op, i)
	}
	for i, t := range s.ResultTypes {
		op.results = append(op.results, &Value{typ: t, op: op, index: i})
	}
	for _, na := range s.Attrs {
		op.SetAttr(na.Name, na.Value)
	}
	for _, r := range s.Regions {
		r.parent = op
		op.regions = append(op.regions, r)
	}
	op.successors = append(op.successors, s.Successors...)
	return op
}

// Name of the operation, e.g. "torch.aten.matmul".
func (op *Operation) Name() string { return op.name }

// Dialect is the name prefix before the first dot.
func (op *Operation) Dialect() string {
	dialect, _, _ := strings.Cut(op.name, ".")
	return dialect
}

// NumOperands returns the number of operands.
func (op *Operation) NumOperands() int { return len(op.operands) }

// Operand returns the i-th operand.
func (op *Operation) Operand(i int) *Value { return op.operands[i] }

// Operands returns a copy of the operand list.
func (op *Operation) Operands() []*Value {
	operands := make([]*Value, len(op.operands))
	copy(operands, op.operands)
	return operands
}

// OperandTypes returns the types of the operands.
func (op *Operation) OperandTypes() []Type {
	types := make([]Type, len(op.operands))
	for i, v := range op.operands {
		types[i] = v.typ
	}
	return types
}

// SetOperand replaces the i-th operand.
func (op *Operation) SetOperand(i int, v *Value) {
	op.operands[i].removeUse(op, i)
	op.operands[i] = v
	v.addUse(op, i)
}

// SetOperands replaces the whole operand list.
func (op *Operation) SetOperands(values []*Value) {
	op.dropOperandUses()
	op.operands = make([]*Value, len(values))
	for i, v := range values {
		op.operands[i] = v
		v.addUse(op, i)
	}
}

func (op *Operation) dropOperandUses() {
	for i, v := range op.operands {
		v.removeUse(op, i)
	}
}

// NumResults returns the number of results.
func (op *Operation) NumResults() int { return len(op.results) }

// Result returns the i-th result.
func (op *Operation) Result(i int) *Value { return op.results[i] }

// Results returns a copy of the results.
func (op *Operation) Results() []*Value {
	results := make([]*Value, len(op.results))
	copy(results, op.results)
	return results
}

// ResultTypes returns the types of the results.
func (op *Operation) ResultTypes() []Type {
	types := make([]Type, len(op.results))
	for i, v := range op.results {
		types[i] = v.typ
	}
	return types
}

// Attr returns the attribute with the given name.
func (op *Operation) Attr(name string) (Attribute, bool) {
	idx := op.attrIndex(name)
	if idx < len(op.attrs) && op.attrs[idx].Name == name {
		return op.attrs[idx].Value, true
	}
	return nil, false
}

// Attrs returns a copy of the attributes, sorted by name.
func (op *Operation) Attrs() []NamedAttr {
	attrs := make([]NamedAttr, len(op.attrs))
	copy(attrs, op.attrs)
	return attrs
}

// SetAttr sets (or replaces) an attribute, keeping attributes sorted by name.
func (op *Operation) SetAttr(name string, value Attribute) {
	idx := op.attrIndex(name)
	if idx < len(op.attrs) && op.attrs[idx].Name == name {
		op.attrs[idx].Value = value
		return
	}
	op.attrs = append(op.attrs, NamedAttr{})
	copy(op.attrs[idx+1:], op.attrs[idx:])
	op.attrs[idx] = NamedAttr{Name: name, Value: value}
}

// RemoveAttr removes an attribute and returns whether it was present.
func (op *Operation) RemoveAttr(name string) bool {
	idx := op.attrIndex(name)
	if idx < len(op.attrs) && op.attrs[idx].Name == name {
		op.attrs = append(op.attrs[:idx], op.attrs[idx+1:]...)
		return true
	}
	return false
}

func (op *Operation) attrIndex(name string) int {
	return sort.Search(len(op.attrs), func(i int) bool { return op.attrs[i].Name >= name })
}

// Regions returns the nested regions.
func (op *Operation) Regions() []*Region { return op.regions }

// Successors returns the successor blocks of a terminator.
func (op *Operation) Successors() []*Block { return op.successors }

// Block returns the block containing op, or nil if detached.
func (op *Operation) Block() *Block { return op.block }

// ParentOp returns the operation owning the region that contains op.
func (op *Operation) ParentOp() *Operation {
	if op.block == nil || op.block.region == nil {
		return nil
	}
	return op.block.region.parent
}

// ParentOfName walks up the parents until an operation with the given name is found.
func (op *Operation) ParentOfName(name string) *Operation {
	for p := op.ParentOp(); p != nil; p = p.ParentOp() {
		if p.name == name {
			return p
		}
	}
	return nil
}

// IsAncestor reports whether op contains other (or is other).
func (op *Operation) IsAncestor(other *Operation) bool {
	for p := other; p != nil; p = p.ParentOp() {
		if p == op {
			return true
		}
	}
	return false
}

// Remove detaches op from its block without touching its operands or results.
func (op *Operation) Remove() {
	if op.block != nil {
		op.block.remove(op)
	}
}

// Erase detaches op, drops its operand uses and erases all nested operations.
// It panics if any result is still in use.
func (op *Operation) Erase() {
	for _, r := range op.results {
		if r.HasUses() {
			exceptions.Panicf("erasing %q whose result #%d still has %d uses", op.name, r.index, len(r.uses))
		}
	}
	op.Remove()
	op.destroy()
}

func (op *Operation) destroy() {
	for _, r := range op.regions {
		for _, b := range r.blocks {
			// Erase in reverse so that users go before their producers.
			for i := len(b.ops) - 1; i >= 0; i-- {
				inner := b.ops[i]
				inner.block = nil
				inner.destroy()
			}
			b.ops = nil
		}
	}
	op.dropOperandUses()
	op.operands = nil
}

// Walk visits op and all nested operations in pre-order. Operations may not be erased
// during the walk.
func (op *Operation) Walk(fn func(*Operation)) {
	fn(op)
	for _, r := range op.regions {
		for _, b := range r.blocks {
			for _, inner := range b.Operations() {
				inner.Walk(fn)
			}
		}
	}
}

// Collect returns op and all nested operations in pre-order.
func (op *Operation) Collect() []*Operation {
	var ops []*Operation
	op.Walk(func(o *Operation) { ops = append(ops, o) })
	return ops
}

// String prints the operation in generic form.
func (op *Operation) String() string {
	p := newPrinter()
	p.numberOp(op)
	p.printOp(op, 0)
	return strings.TrimRight(p.sb.String(), "\n")
}
