package ir

// OpCreator is anything able to create operations: the plain Builder below, or a
// transactional rewriter.
type OpCreator interface {
	Create(name string, operands []*Value, resultTypes []Type, attrs ...NamedAttr) *Operation
}

// Builder inserts new operations at an insertion point: either at the end of a block or
// right before a given operation.
type Builder struct {
	block  *Block
	before *Operation
}

// AtEnd returns a builder appending to block.
func AtEnd(block *Block) *Builder {
	return &Builder{block: block}
}

// Before returns a builder inserting right before op.
func Before(op *Operation) *Builder {
	return &Builder{block: op.block, before: op}
}

// After returns a builder inserting right after op. Subsequent operations are inserted
// in creation order.
func After(op *Operation) *Builder {
	b := op.block
	ops := b.ops
	for i, o := range ops {
		if o == op && i+1 < len(ops) {
			return &Builder{block: b, before: ops[i+1]}
		}
	}
	return &Builder{block: b}
}

// AtStart returns a builder inserting at the start of block, in creation order.
func AtStart(block *Block) *Builder {
	if len(block.ops) == 0 {
		return AtEnd(block)
	}
	return &Builder{block: block, before: block.ops[0]}
}

// Insert places a detached operation at the insertion point.
func (b *Builder) Insert(op *Operation) *Operation {
	if b.before != nil {
		b.block.InsertBefore(b.before, op)
	} else {
		b.block.Append(op)
	}
	return op
}

// Create builds an operation and inserts it at the insertion point.
func (b *Builder) Create(name string, operands []*Value, resultTypes []Type, attrs ...NamedAttr) *Operation {
	return b.Insert(NewOperation(State{Name: name, Operands: operands, ResultTypes: resultTypes, Attrs: attrs}))
}

// Block where operations are inserted.
func (b *Builder) Block() *Block { return b.block }
