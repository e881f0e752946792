package ir

// Use is one operand slot referring to a Value.
type Use struct {
	Op    *Operation
	Index int
}

// Value is an SSA value: either the result of an Operation or an argument of a Block.
type Value struct {
	typ   Type
	op    *Operation
	block *Block
	index int
	uses  []Use
}

// Type of the value.
func (v *Value) Type() Type { return v.typ }

// SetType changes the type of the value in place. Users are not updated.
func (v *Value) SetType(t Type) { v.typ = t }

// DefiningOp returns the operation producing v, or nil for block arguments.
func (v *Value) DefiningOp() *Operation { return v.op }

// IsBlockArgument reports whether v is an argument of a block.
func (v *Value) IsBlockArgument() bool { return v.block != nil }

// OwnerBlock returns the block owning the argument v, or nil for op results.
func (v *Value) OwnerBlock() *Block { return v.block }

// Index is the result number or the argument number of v.
func (v *Value) Index() int { return v.index }

// Uses returns a snapshot of the operand slots using v.
func (v *Value) Uses() []Use {
	uses := make([]Use, len(v.uses))
	copy(uses, v.uses)
	return uses
}

// HasUses reports whether any operation uses v.
func (v *Value) HasUses() bool { return len(v.uses) > 0 }

// Users returns the distinct operations using v, in use order.
func (v *Value) Users() []*Operation {
	var users []*Operation
	seen := make(map[*Operation]bool)
	for _, u := range v.uses {
		if !seen[u.Op] {
			seen[u.Op] = true
			users = append(users, u.Op)
		}
	}
	return users
}

// ReplaceAllUsesWith makes every user of v use nv instead.
func (v *Value) ReplaceAllUsesWith(nv *Value) {
	v.ReplaceUsesIf(nv, func(Use) bool { return true })
}

// ReplaceUsesIf replaces the uses of v for which pred returns true.
func (v *Value) ReplaceUsesIf(nv *Value, pred func(Use) bool) {
	if v == nv {
		return
	}
	for _, u := range v.Uses() {
		if pred(u) {
			u.Op.SetOperand(u.Index, nv)
		}
	}
}

func (v *Value) addUse(op *Operation, idx int) {
	v.uses = append(v.uses, Use{Op: op, Index: idx})
}

func (v *Value) removeUse(op *Operation, idx int) {
	for i, u := range v.uses {
		if u.Op == op && u.Index == idx {
			v.uses = append(v.uses[:i], v.uses[i+1:]...)
			return
		}
	}
}
