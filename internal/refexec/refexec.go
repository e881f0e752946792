// Package refexec evaluates Torch dialect functions with GoMLX, to check the numerics of
// the programs produced by the rewrites.
//
// Values are evaluated on demand, starting from the requested ones: operations whose
// results are not needed are never visited, so a function may hold operations the
// evaluator doesn't support (e.g. attention kernels) as long as they are not on the path.
//
// Torch scalars that are compile time constants (torch.constant.*) stay static Go values;
// the ones extracted from tensors (aten.item) become rank-0 nodes.
package refexec

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph" //nolint
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/quant"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Evaluator runs functions on a GoMLX backend.
type Evaluator struct {
	backend backends.Backend
}

// New returns an evaluator using the given backend, usually simplego.
func New(backend backends.Backend) *Evaluator {
	return &Evaluator{backend: backend}
}

// Call evaluates fn and returns the values it returns. Inputs can be *tensors.Tensor or
// anything tensors.FromAnyValue accepts, one per function argument.
func (e *Evaluator) Call(fn *ir.Func, inputs ...any) ([]*tensors.Tensor, error) {
	returns := fn.Returns()
	if len(returns) != 1 {
		return nil, errors.Errorf("refexec: function %q must have exactly one return, got %d", fn.Name(), len(returns))
	}
	return e.Values(fn, returns[0].Operands(), inputs...)
}

// Values evaluates the given values of fn, which must be arguments or results of
// operations in its entry block.
func (e *Evaluator) Values(fn *ir.Func, values []*ir.Value, inputs ...any) (outputs []*tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() { outputs = e.values(fn, values, inputs) })
	if err != nil {
		err = errors.WithMessagef(err, "refexec: while evaluating function %q", fn.Name())
	}
	return
}

func (e *Evaluator) values(fn *ir.Func, values []*ir.Value, inputs []any) []*tensors.Tensor {
	if len(fn.Body().Blocks()) != 1 {
		exceptions.Panicf("control flow (%d blocks) is not supported", len(fn.Body().Blocks()))
	}
	entry := fn.Entry()
	if len(inputs) != len(entry.Args()) {
		exceptions.Panicf("function takes %d arguments, %d inputs given", len(entry.Args()), len(inputs))
	}

	g := NewGraph(e.backend, fn.Name())
	defer g.Finalize()
	s := &state{g: g, env: make(map[*ir.Value]value)}
	inputTensors := make([]*tensors.Tensor, len(inputs))
	for i, arg := range entry.Args() {
		t, ok := inputs[i].(*tensors.Tensor)
		if !ok {
			t = tensors.FromAnyValue(inputs[i])
		}
		checkShape(fmt.Sprintf("argument #%d", i), arg.Type(), t.Shape().DType, t.Shape().Dimensions)
		inputTensors[i] = t
		s.env[arg] = Parameter(g, fmt.Sprintf("arg%d", i), t.Shape())
	}

	nodes := make([]*Node, len(values))
	for i, v := range values {
		if v.DefiningOp() != nil && v.DefiningOp().Block() != entry {
			exceptions.Panicf("value #%d is not defined in the entry block of the function", i)
		}
		nodes[i] = s.tensor(s.eval(v))
	}
	klog.V(2).Infof("refexec: %q evaluated with %d operations", fn.Name(), s.numEvaluated)
	g.Compile(nodes...)
	runInputs := make([]any, len(inputTensors))
	for i, t := range inputTensors {
		runInputs[i] = t
	}
	return g.Run(runInputs...)
}

// value is the result of an evaluated operation: *Node for tensors, static Go scalars
// (int64, float64, bool, string), none{}, []value for lists, or *quantized.
type value any

type none struct{}

// quantized is a per-tensor quantized tensor: raw integers plus their parameters.
type quantized struct {
	raw              *Node
	scale, zeroPoint value
	dtype            quant.DType
}

type state struct {
	g            *Graph
	env          map[*ir.Value]value
	numEvaluated int
}

// eval returns the value of v, evaluating its defining operation (and recursively its
// operands) if needed.
func (s *state) eval(v *ir.Value) value {
	if result, found := s.env[v]; found {
		return result
	}
	op := v.DefiningOp()
	if op == nil {
		exceptions.Panicf("value of type %s is not an argument of the evaluated function", v.Type())
	}
	handler, found := handlers[op.Name()]
	if !found {
		exceptions.Panicf("operation %q is not supported", op.Name())
	}
	operands := make([]value, op.NumOperands())
	for i := range operands {
		operands[i] = s.eval(op.Operand(i))
	}
	var results []value
	err := exceptions.TryCatch[error](func() { results = handler(s, op, operands) })
	if err != nil {
		panic(errors.WithMessagef(err, "while evaluating %s", op.Name()))
	}
	if len(results) != op.NumResults() {
		exceptions.Panicf("%s: evaluated %d results, expected %d", op.Name(), len(results), op.NumResults())
	}
	for i, r := range results {
		if n, ok := r.(*Node); ok {
			checkShape(fmt.Sprintf("%s result #%d", op.Name(), i), op.Result(i).Type(), n.DType(), n.Shape().Dimensions)
		}
		s.env[op.Result(i)] = r
	}
	s.numEvaluated++
	return s.env[v]
}
