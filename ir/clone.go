package ir

// Clone returns a detached deep copy of op. Operands defined outside of op are shared
// with the original.
func (op *Operation) Clone() *Operation {
	return op.cloneWith(make(map[*Value]*Value), make(map[*Block]*Block))
}

func (op *Operation) cloneWith(values map[*Value]*Value, blocks map[*Block]*Block) *Operation {
	mapValue := func(v *Value) *Value {
		if nv, found := values[v]; found {
			return nv
		}
		return v
	}
	var regions []*Region
	for _, r := range op.regions {
		nr := &Region{}
		// Blocks first, so that forward branches and block arguments resolve.
		for _, b := range r.blocks {
			nb := NewBlock(b.ArgTypes()...)
			for i, a := range b.args {
				values[a] = nb.args[i]
			}
			blocks[b] = nb
			nr.AddBlock(nb)
		}
		for _, b := range r.blocks {
			nb := blocks[b]
			for _, inner := range b.ops {
				nb.Append(inner.cloneWith(values, blocks))
			}
		}
		regions = append(regions, nr)
	}
	operands := make([]*Value, len(op.operands))
	for i, v := range op.operands {
		operands[i] = mapValue(v)
	}
	successors := make([]*Block, len(op.successors))
	for i, s := range op.successors {
		if ns, found := blocks[s]; found {
			successors[i] = ns
		} else {
			successors[i] = s
		}
	}
	clone := NewOperation(State{
		Name:        op.name,
		Operands:    operands,
		ResultTypes: op.ResultTypes(),
		Attrs:       op.Attrs(),
		Regions:     regions,
		Successors:  successors,
	})
	for i, r := range op.results {
		values[r] = clone.results[i]
	}
	return clone
}
