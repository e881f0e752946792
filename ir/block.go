package ir

import "github.com/gomlx/exceptions"

// Block is a list of operations with block arguments. The last operation is expected to
// be a terminator.
type Block struct {
	args   []*Value
	ops    []*Operation
	region *Region
}

// NewBlock creates a detached block with arguments of the given types.
func NewBlock(argTypes ...Type) *Block {
	b := &Block{}
	for _, t := range argTypes {
		b.AddArgument(t)
	}
	return b
}

// AddArgument appends a block argument.
func (b *Block) AddArgument(t Type) *Value {
	v := &Value{typ: t, block: b, index: len(b.args)}
	b.args = append(b.args, v)
	return v
}

// Args returns the block arguments.
func (b *Block) Args() []*Value { return b.args }

// Arg returns the i-th block argument.
func (b *Block) Arg(i int) *Value { return b.args[i] }

// ArgTypes returns the types of the block arguments.
func (b *Block) ArgTypes() []Type {
	types := make([]Type, len(b.args))
	for i, a := range b.args {
		types[i] = a.typ
	}
	return types
}

// Operations returns a snapshot of the operations in the block.
func (b *Block) Operations() []*Operation {
	ops := make([]*Operation, len(b.ops))
	copy(ops, b.ops)
	return ops
}

// Len is the number of operations in the block.
func (b *Block) Len() int { return len(b.ops) }

// Region containing the block.
func (b *Block) Region() *Region { return b.region }

// ParentOp returns the operation owning the block's region.
func (b *Block) ParentOp() *Operation {
	if b.region == nil {
		return nil
	}
	return b.region.parent
}

// Terminator returns the last operation, or nil for an empty block.
func (b *Block) Terminator() *Operation {
	if len(b.ops) == 0 {
		return nil
	}
	return b.ops[len(b.ops)-1]
}

// Append adds op at the end of the block.
func (b *Block) Append(op *Operation) {
	b.insertAt(len(b.ops), op)
}

// Prepend adds op at the start of the block.
func (b *Block) Prepend(op *Operation) {
	b.insertAt(0, op)
}

// InsertBefore inserts op right before anchor, which must be in b.
func (b *Block) InsertBefore(anchor, op *Operation) {
	b.insertAt(b.indexOf(anchor), op)
}

// InsertAfter inserts op right after anchor, which must be in b.
func (b *Block) InsertAfter(anchor, op *Operation) {
	b.insertAt(b.indexOf(anchor)+1, op)
}

func (b *Block) insertAt(idx int, op *Operation) {
	if op.block != nil {
		exceptions.Panicf("operation %q is already in a block", op.name)
	}
	b.ops = append(b.ops, nil)
	copy(b.ops[idx+1:], b.ops[idx:])
	b.ops[idx] = op
	op.block = b
}

func (b *Block) indexOf(op *Operation) int {
	for i, o := range b.ops {
		if o == op {
			return i
		}
	}
	exceptions.Panicf("operation %q not found in block", op.name)
	return -1
}

// IsBefore reports whether a comes before c; both must be in b.
func (b *Block) IsBefore(a, c *Operation) bool {
	return b.indexOf(a) < b.indexOf(c)
}

func (b *Block) remove(op *Operation) {
	idx := b.indexOf(op)
	b.ops = append(b.ops[:idx], b.ops[idx+1:]...)
	op.block = nil
}

// Region is a list of blocks owned by an operation. The first block is the entry block.
type Region struct {
	blocks []*Block
	parent *Operation
}

// NewRegion creates a region holding the given blocks.
func NewRegion(blocks ...*Block) *Region {
	r := &Region{}
	for _, b := range blocks {
		r.AddBlock(b)
	}
	return r
}

// AddBlock appends b to the region.
func (r *Region) AddBlock(b *Block) {
	b.region = r
	r.blocks = append(r.blocks, b)
}

// Blocks of the region.
func (r *Region) Blocks() []*Block { return r.blocks }

// Entry returns the first block, or nil.
func (r *Region) Entry() *Block {
	if len(r.blocks) == 0 {
		return nil
	}
	return r.blocks[0]
}

// ParentOp is the operation owning the region.
func (r *Region) ParentOp() *Operation { return r.parent }

// TakeBody replaces the contents of r with the blocks of other, which is left empty.
// Operations previously in r are destroyed.
func (r *Region) TakeBody(other *Region) {
	for _, b := range r.blocks {
		for i := len(b.ops) - 1; i >= 0; i-- {
			op := b.ops[i]
			op.block = nil
			op.destroy()
		}
	}
	r.blocks = nil
	for _, b := range other.blocks {
		r.AddBlock(b)
	}
	other.blocks = nil
}
