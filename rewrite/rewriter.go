// Package rewrite provides the transactional rewriter and the pattern drivers used by
// the conversion passes: a greedy driver and a full type-conversion driver.
//
// A Rewriter stages every mutation requested by a pattern. Staged operations are only
// inserted into the program, and replacements only applied, when the pattern succeeds:
// a failing pattern leaves the program untouched.
package rewrite

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/onnx-torch/ir"
)

// MatchFailure is returned by patterns that decline to rewrite an operation. It is
// not fatal: the driver may try other patterns or report the operation as unconverted.
type MatchFailure struct {
	OpName string
	Reason string
}

func (e *MatchFailure) Error() string {
	return fmt.Sprintf("%s: %s", e.OpName, e.Reason)
}

type insertionPoint struct {
	block  *ir.Block
	before *ir.Operation
	after  *ir.Operation
	start  bool
}

type stagedOp struct {
	op *ir.Operation
	ip insertionPoint
}

type replacement struct {
	op     *ir.Operation
	values []*ir.Value
}

// Rewriter is the only mutation surface given to patterns. By default new operations
// are inserted right before the operation being rewritten.
type Rewriter struct {
	root         *ir.Operation
	ip           insertionPoint
	staged       []stagedOp
	inPlace      []func()
	replacements []replacement
	erased       []*ir.Operation
	lastFailure  *MatchFailure
	committed    bool
}

// NewRewriter returns a rewriter for root, inserting new operations before it.
func NewRewriter(root *ir.Operation) *Rewriter {
	return &Rewriter{root: root, ip: insertionPoint{block: root.Block(), before: root}}
}

// Root is the operation being rewritten.
func (rw *Rewriter) Root() *ir.Operation { return rw.root }

// SetInsertionPointBefore makes following creations go right before op.
func (rw *Rewriter) SetInsertionPointBefore(op *ir.Operation) {
	rw.ip = insertionPoint{block: op.Block(), before: op}
}

// SetInsertionPointAfter makes following creations go right after op, in creation order.
func (rw *Rewriter) SetInsertionPointAfter(op *ir.Operation) {
	rw.ip = insertionPoint{block: op.Block(), after: op}
}

// SetInsertionPointToStart makes following creations go at the start of block, in
// creation order.
func (rw *Rewriter) SetInsertionPointToStart(block *ir.Block) {
	rw.ip = insertionPoint{block: block, start: true}
}

// Create stages a new operation. Its results can be used right away by other staged
// operations and replacements.
func (rw *Rewriter) Create(name string, operands []*ir.Value, resultTypes []ir.Type, attrs ...ir.NamedAttr) *ir.Operation {
	rw.checkOpen()
	op := ir.NewOperation(ir.State{Name: name, Operands: operands, ResultTypes: resultTypes, Attrs: attrs})
	rw.staged = append(rw.staged, stagedOp{op: op, ip: rw.ip})
	return op
}

// ReplaceOp stages the replacement of every result of op by values, and the erasure of op.
func (rw *Rewriter) ReplaceOp(op *ir.Operation, values []*ir.Value) {
	rw.checkOpen()
	if len(values) != op.NumResults() {
		exceptions.Panicf("replacing %q: got %d values for %d results", op.Name(), len(values), op.NumResults())
	}
	rw.replacements = append(rw.replacements, replacement{op: op, values: values})
}

// ReplaceOpWithNewOp stages a new operation and the replacement of op by its results.
func (rw *Rewriter) ReplaceOpWithNewOp(op *ir.Operation, name string, operands []*ir.Value, resultTypes []ir.Type, attrs ...ir.NamedAttr) *ir.Operation {
	newOp := rw.Create(name, operands, resultTypes, attrs...)
	rw.ReplaceOp(op, newOp.Results())
	return newOp
}

// EraseOp stages the erasure of an operation whose results have no remaining uses.
func (rw *Rewriter) EraseOp(op *ir.Operation) {
	rw.checkOpen()
	rw.erased = append(rw.erased, op)
}

// ModifyInPlace stages an in-place update of an existing operation (attributes, operand
// list, block argument types). fn runs at commit time.
func (rw *Rewriter) ModifyInPlace(fn func()) {
	rw.checkOpen()
	rw.inPlace = append(rw.inPlace, fn)
}

// NotifyMatchFailure records why op was not rewritten and returns the failure, so
// patterns can write `return rw.NotifyMatchFailure(op, "...")`.
func (rw *Rewriter) NotifyMatchFailure(op *ir.Operation, format string, args ...any) error {
	rw.lastFailure = &MatchFailure{OpName: op.Name(), Reason: fmt.Sprintf(format, args...)}
	return rw.lastFailure
}

// NumStaged returns the number of operations created so far.
func (rw *Rewriter) NumStaged() int { return len(rw.staged) }

// Staged returns the operations created so far, in creation order.
func (rw *Rewriter) Staged() []*ir.Operation {
	ops := make([]*ir.Operation, len(rw.staged))
	for i, s := range rw.staged {
		ops[i] = s.op
	}
	return ops
}

func (rw *Rewriter) checkOpen() {
	if rw.committed {
		exceptions.Panicf("rewriter for %q used after commit or rollback", rw.root.Name())
	}
}

// Commit applies all staged mutations, in order: insertions, in-place modifications,
// replacements and erasures. It returns the inserted operations.
func (rw *Rewriter) Commit() []*ir.Operation {
	rw.checkOpen()
	rw.committed = true
	last := make(map[insertionPoint]*ir.Operation)
	inserted := make([]*ir.Operation, 0, len(rw.staged))
	for _, s := range rw.staged {
		switch prev := last[s.ip]; {
		case prev != nil:
			s.ip.block.InsertAfter(prev, s.op)
		case s.ip.before != nil:
			s.ip.block.InsertBefore(s.ip.before, s.op)
		case s.ip.after != nil:
			s.ip.block.InsertAfter(s.ip.after, s.op)
		case s.ip.start:
			s.ip.block.Prepend(s.op)
		default:
			s.ip.block.Append(s.op)
		}
		last[s.ip] = s.op
		inserted = append(inserted, s.op)
	}
	for _, fn := range rw.inPlace {
		fn()
	}
	for _, r := range rw.replacements {
		for i, res := range r.op.Results() {
			res.ReplaceAllUsesWith(r.values[i])
		}
		r.op.Erase()
	}
	for _, op := range rw.erased {
		op.Erase()
	}
	return inserted
}

// Rollback discards all staged operations; the program is left as it was.
func (rw *Rewriter) Rollback() {
	rw.checkOpen()
	rw.committed = true
	for i := len(rw.staged) - 1; i >= 0; i-- {
		rw.staged[i].op.Erase()
	}
	rw.staged = nil
}
