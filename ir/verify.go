package ir

import (
	"github.com/pkg/errors"
)

// Verify checks structural consistency of a module: operands are defined inside the
// same function and not erased, function signatures match their entry blocks and
// returns, and branches forward values matching the successor block arguments.
func Verify(m *Module) error {
	for _, f := range m.Funcs() {
		if err := verifyFunc(f); err != nil {
			return errors.WithMessagef(err, "while verifying function @%s", f.Name())
		}
	}
	return nil
}

func verifyFunc(f *Func) error {
	ft := f.Type()
	entry := f.Entry()
	if entry == nil {
		return nil
	}
	if !TypeListsEqual(entry.ArgTypes(), ft.Inputs) {
		return errors.Errorf("entry block arguments %v do not match function inputs %v",
			entry.ArgTypes(), ft.Inputs)
	}
	defined := make(map[*Value]bool)
	for _, b := range f.Body().blocks {
		for _, a := range b.args {
			defined[a] = true
		}
		for _, op := range b.ops {
			for _, r := range op.Collect() {
				for _, res := range r.results {
					defined[res] = true
				}
				for _, region := range r.regions {
					for _, inner := range region.blocks {
						for _, a := range inner.args {
							defined[a] = true
						}
					}
				}
			}
		}
	}
	for bi, b := range f.Body().blocks {
		if b.Terminator() == nil {
			return errors.Errorf("block #%d is empty", bi)
		}
		for _, op := range b.ops {
			for _, inner := range op.Collect() {
				for i, v := range inner.operands {
					if !defined[v] {
						return errors.Errorf("operand #%d of %q is not defined in the function", i, inner.name)
					}
				}
			}
			if err := verifyTerminator(op, ft); err != nil {
				return err
			}
		}
	}
	return nil
}

func verifyTerminator(op *Operation, ft FunctionType) error {
	if op.name == ReturnOpName && !TypeListsEqual(op.OperandTypes(), ft.Results) {
		return errors.Errorf("%s operand types %v do not match function results %v",
			ReturnOpName, op.OperandTypes(), ft.Results)
	}
	for i, succ := range op.successors {
		forwarded := SuccessorOperands(op, i)
		types := make([]Type, len(forwarded))
		for j, v := range forwarded {
			types[j] = v.typ
		}
		if !TypeListsEqual(types, succ.ArgTypes()) {
			return errors.Errorf("%s forwards %v to a successor expecting %v", op.name, types, succ.ArgTypes())
		}
	}
	return nil
}
