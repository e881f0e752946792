package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addModule builds @add(%a, %b) = %a + %b, with a second block reached by a branch.
func addModule() (*Module, *Func) {
	m := NewModule()
	t := RankedTensor(F32, 2, DynamicSize)
	f := NewFunc("add", FunctionType{Inputs: []Type{t, t}, Results: []Type{t}})
	m.AddFunc(f)
	entry := f.Entry()
	exit := NewBlock(t)
	f.Body().AddBlock(exit)
	b := AtEnd(entry)
	sum := b.Create("test.add", []*Value{entry.Arg(0), entry.Arg(1)}, []Type{t}, NamedAttr{Name: "fast", Value: BoolAttr(true)})
	b.Insert(NewOperation(State{Name: BranchOpName, Operands: []*Value{sum.Result(0)}, Successors: []*Block{exit}}))
	AtEnd(exit).Create(ReturnOpName, []*Value{exit.Arg(0)}, nil)
	return m, f
}

func TestPrinter(t *testing.T) {
	m, _ := addModule()
	want := `module {
  func.func @add(%arg0: tensor<2x?xf32>, %arg1: tensor<2x?xf32>) -> tensor<2x?xf32> {
    %0 = "test.add"(%arg0, %arg1) {fast = true} : (tensor<2x?xf32>, tensor<2x?xf32>) -> tensor<2x?xf32>
    "cf.br"(%0)[^bb1] : (tensor<2x?xf32>) -> ()
  ^bb1(%1: tensor<2x?xf32>):
    "func.return"(%1) : (tensor<2x?xf32>) -> ()
  }
}
`
	assert.Equal(t, want, m.String())
}

func TestTypesAndAttributes(t *testing.T) {
	assert.Equal(t, "tensor<*xbf16>", UnrankedTensor(BF16).String())
	assert.Equal(t, "tensor<si64>", RankedTensor(SI64).String())
	assert.Equal(t, int64(6), RankedTensor(F32, 2, 3).NumElements())
	assert.Equal(t, int64(-1), RankedTensor(F32, 2, DynamicSize).NumElements())
	assert.Equal(t, "(i1, ui8) -> (f16, f64)", FunctionType{Inputs: []Type{I1, UI8}, Results: []Type{F16, F64}}.String())
	assert.True(t, TypesEqual(RankedTensor(F32, 1), TensorType{Ranked: true, Shape: []int64{1}, Elem: F32}))
	assert.False(t, TypesEqual(SI8, I8))
	assert.False(t, TypesEqual(nil, I8))

	assert.Equal(t, "1.0 : f32", F32Attr(1).String())
	assert.Equal(t, "1e-05 : f64", F64Attr(1e-5).String())
	assert.Equal(t, "0x7FC00000 : f32", FloatAttr{Value: math.NaN(), Type: F32}.String())
	assert.Equal(t, "-3 : si64", SI64Attr(-3).String())
	assert.Equal(t, "true", IntegerAttr{Value: 1, Type: I1}.String())
	assert.Equal(t, `["a", false]`, ArrayAttr{StringAttr("a"), BoolAttr(false)}.String())
	assert.Equal(t, "{x = 1 : i64, y}", DictAttr{{Name: "x", Value: I64Attr(1)}, {Name: "y", Value: UnitAttr{}}}.String())

	splat := DenseElementsAttr{Type: RankedTensor(F32, 32), Floats: make([]float64, 32)}
	assert.True(t, splat.IsSplat())
	assert.Equal(t, "dense<0.0> : tensor<32xf32>", splat.String())
	large := DenseElementsAttr{Type: RankedTensor(SI64, 17), Ints: make([]int64, 17)}
	large.Ints[16] = 1
	assert.Contains(t, large.String(), `dense<"0x0000`)
}

func TestAttrsSorted(t *testing.T) {
	op := NewOperation(State{Name: "test.op"})
	op.SetAttr("c", I64Attr(3))
	op.SetAttr("a", I64Attr(1))
	op.SetAttr("b", I64Attr(2))
	op.SetAttr("a", I64Attr(10))
	var names []string
	for _, na := range op.Attrs() {
		names = append(names, na.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
	v, found := op.Attr("a")
	require.True(t, found)
	assert.Equal(t, I64Attr(10), v)
	assert.True(t, op.RemoveAttr("b"))
	assert.False(t, op.RemoveAttr("b"))
	_, found = op.Attr("b")
	assert.False(t, found)
}

func TestUsesAndErase(t *testing.T) {
	_, f := addModule()
	entry := f.Entry()
	sum := entry.Operations()[0]
	assert.Len(t, entry.Arg(0).Uses(), 1)
	assert.Equal(t, []*Operation{sum}, entry.Arg(1).Users())

	// Erasing an operation whose result is in use panics.
	require.Panics(t, func() { sum.Erase() })

	// Forward the argument directly and erase the add.
	sum.Result(0).ReplaceAllUsesWith(entry.Arg(0))
	assert.False(t, sum.Result(0).HasUses())
	sum.Erase()
	assert.Len(t, entry.Operations(), 1)
	assert.Len(t, entry.Arg(0).Uses(), 1)
	assert.False(t, entry.Arg(1).HasUses())
	assert.Equal(t, BranchOpName, entry.Arg(0).Users()[0].Name())
}

func TestBuilderInsertionPoints(t *testing.T) {
	block := NewBlock()
	AtStart(block).Create("test.b", nil, nil)
	AtEnd(block).Create("test.d", nil, nil)
	first := AtStart(block).Create("test.a", nil, nil)
	After(first).Create("test.a2", nil, nil)
	Before(block.Operations()[len(block.Operations())-1]).Create("test.c", nil, nil)
	var names []string
	for _, op := range block.Operations() {
		names = append(names, op.Name())
	}
	assert.Equal(t, []string{"test.a", "test.a2", "test.b", "test.c", "test.d"}, names)
	assert.True(t, block.IsBefore(first, block.Terminator()))
	assert.Equal(t, "test", first.Dialect())
}

func TestVerify(t *testing.T) {
	m, f := addModule()
	require.NoError(t, Verify(m))

	// Return type mismatch.
	f.SetType(FunctionType{Inputs: f.Type().Inputs, Results: []Type{RankedTensor(F64, 2, DynamicSize)}})
	err := Verify(m)
	require.ErrorContains(t, err, "while verifying function @add")
	require.ErrorContains(t, err, "func.return operand types")

	// Branch forwarding the wrong types.
	m, f = addModule()
	f.Body().Blocks()[1].Arg(0).SetType(RankedTensor(SI64))
	require.ErrorContains(t, Verify(m), "cf.br forwards")

	// Operand defined in another function.
	m, f = addModule()
	other := NewFunc("other", FunctionType{Inputs: []Type{I1}})
	AtEnd(other.Entry()).Create(ReturnOpName, nil, nil)
	m.AddFunc(other)
	AtStart(other.Entry()).Create("test.use", []*Value{f.Entry().Arg(0)}, nil)
	err = Verify(m)
	require.ErrorContains(t, err, "@other")
	require.ErrorContains(t, err, `operand #0 of "test.use" is not defined in the function`)

	// Entry block arguments don't match the signature.
	m, f = addModule()
	f.Entry().AddArgument(I1)
	require.ErrorContains(t, Verify(m), "entry block arguments")
}

func TestCloneRestore(t *testing.T) {
	m, f := addModule()
	before := m.String()
	snapshot := m.Clone()
	assert.Equal(t, before, snapshot.String())

	// The clone is independent: its values are fresh, and its branch targets its own block.
	cf := snapshot.Func("add")
	require.NotNil(t, cf)
	assert.NotSame(t, f.Entry(), cf.Entry())
	br := cf.Entry().Terminator()
	assert.Same(t, cf.Body().Blocks()[1], br.Successors()[0])
	assert.False(t, f.Entry().Arg(0).Users()[0] == cf.Entry().Arg(0).Users()[0])

	// Mutate the original and roll back.
	sum := f.Entry().Operations()[0]
	sum.SetAttr("fast", BoolAttr(false))
	f.Op().SetAttr(SymNameAttr, StringAttr("renamed"))
	assert.Nil(t, m.Func("add"))
	m.Restore(snapshot)
	assert.Equal(t, before, m.String())
	require.NoError(t, Verify(m))
}

func TestParentOfName(t *testing.T) {
	m, f := addModule()
	sum := f.Entry().Operations()[0]
	assert.Same(t, f.Op(), sum.ParentOfName(FuncOpName))
	assert.Same(t, m.Op(), sum.ParentOfName(ModuleOpName))
	assert.Nil(t, sum.ParentOfName("scf.for"))
	assert.True(t, m.Op().IsAncestor(sum))
	assert.False(t, sum.IsAncestor(m.Op()))
	assert.Len(t, m.Op().Collect(), 5)

	call := NewOperation(State{Name: CallOpName, Attrs: []NamedAttr{{Name: CalleeAttr, Value: SymbolRefAttr("add")}}})
	name, err := CalleeName(call)
	require.NoError(t, err)
	assert.Equal(t, "add", name)
	_, err = CalleeName(NewOperation(State{Name: CallOpName}))
	require.Error(t, err)
}
