// Package torchconversion legalizes the types of Torch dialect programs into the builtin
// types used by backends, in two passes:
//
//   - FuncBackendTypeConversion converts function signatures, calls, returns and branches,
//     bridging with torch_c materialization operations where types change.
//   - FinalizingBackendTypeConversion removes those materializations once every other
//     operation uses legal types, folds truncf(extf(x)) pairs and strips the torch.*
//     function attributes.
//
// Both passes have a variant for the StableHLO backend, which keeps unsigned integer
// tensors unsigned.
package torchconversion

import (
	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/rewrite"
	"github.com/gomlx/onnx-torch/torch"
)

// Materialization operations bridging Torch and builtin types.
const (
	ToBuiltinTensorOp   = "torch_c.to_builtin_tensor"
	FromBuiltinTensorOp = "torch_c.from_builtin_tensor"
	ToI1Op              = "torch_c.to_i1"
	FromI1Op            = "torch_c.from_i1"
	ToI64Op             = "torch_c.to_i64"
	FromI64Op           = "torch_c.from_i64"
	ToF64Op             = "torch_c.to_f64"
	FromF64Op           = "torch_c.from_f64"
	GeneratorToI64Op    = "torch_c.generator_to_i64"
	I64ToGeneratorOp    = "torch_c.i64_to_generator"
)

// MaterializationOps lists all bridging operations.
var MaterializationOps = []string{
	ToBuiltinTensorOp, FromBuiltinTensorOp, FromI1Op, ToI1Op, FromI64Op, ToI64Op,
	FromF64Op, ToF64Op, I64ToGeneratorOp, GeneratorToI64Op,
}

// Backend selects the type mapping.
type Backend int

const (
	// Default maps every integer tensor to signless integers.
	Default Backend = iota

	// Stablehlo keeps unsigned integer tensors unsigned.
	Stablehlo
)

func (b Backend) String() string {
	if b == Stablehlo {
		return "stablehlo"
	}
	return "default"
}

// newTypeConverter returns a converter where every type is legal unless a later
// conversion says otherwise, configured for backend.
func newTypeConverter(target *rewrite.ConversionTarget, backend Backend) *rewrite.TypeConverter {
	converter := rewrite.NewTypeConverter()
	converter.AddConversion(func(t ir.Type) (ir.Type, bool) { return t, true })
	if backend == Stablehlo {
		SetupBackendTypeConversionForStablehlo(target, converter)
	} else {
		SetupBackendTypeConversion(target, converter)
	}
	return converter
}

// SetupBackendTypeConversion registers the conversions of Torch types to builtin types,
// with signless integer tensors, and marks the materialization operations legal.
func SetupBackendTypeConversion(target *rewrite.ConversionTarget, converter *rewrite.TypeConverter) {
	setupValueTensorConversion(target, converter, torch.ValueTensorType.ToBuiltinTensor)
	setupScalarConversions(target, converter)
}

// SetupBackendTypeConversionForStablehlo is SetupBackendTypeConversion, except that
// unsigned integer tensors keep their signedness.
func SetupBackendTypeConversionForStablehlo(target *rewrite.ConversionTarget, converter *rewrite.TypeConverter) {
	setupValueTensorConversion(target, converter, func(t torch.ValueTensorType) (ir.TensorType, bool) {
		builtin, ok := t.ToBuiltinTensor()
		if !ok {
			return builtin, false
		}
		if it, isInt := t.Dtype.(ir.IntegerType); isInt && it.IsUnsigned() {
			builtin.Elem = it
		}
		return builtin, true
	})
	setupScalarConversions(target, converter)
}

func setupValueTensorConversion(target *rewrite.ConversionTarget, converter *rewrite.TypeConverter,
	toBuiltin func(torch.ValueTensorType) (ir.TensorType, bool)) {
	target.AddLegalOp(ToBuiltinTensorOp, FromBuiltinTensorOp)
	converter.AddConversion(func(t ir.Type) (ir.Type, bool) {
		vt, ok := torch.AsValueTensor(t)
		if !ok {
			return nil, false
		}
		builtin, ok := toBuiltin(vt)
		if !ok {
			// Unknown dtypes and quantized types have no builtin counterpart.
			return nil, true
		}
		return builtin, true
	})
	converter.AddTargetMaterialization(func(b ir.OpCreator, resultType ir.Type, input *ir.Value) *ir.Value {
		if _, ok := resultType.(ir.TensorType); !ok {
			return nil
		}
		if _, ok := torch.AsValueTensor(input.Type()); !ok {
			return nil
		}
		return torch.Op(b, ToBuiltinTensorOp, resultType, input)
	})
	converter.AddSourceMaterialization(func(b ir.OpCreator, resultType ir.Type, input *ir.Value) *ir.Value {
		if _, ok := torch.AsValueTensor(resultType); !ok {
			return nil
		}
		return torch.Op(b, FromBuiltinTensorOp, resultType, input)
	})
}

// scalarBridge describes the conversion of a Torch scalar type to a builtin type.
type scalarBridge struct {
	source, target ir.Type
	toOp, fromOp   string
}

var scalarBridges = []scalarBridge{
	{torch.BoolType, ir.I1, ToI1Op, FromI1Op},
	{torch.IntType, ir.I64, ToI64Op, FromI64Op},
	{torch.FloatType, ir.F64, ToF64Op, FromF64Op},
	{torch.GeneratorType, ir.I64, GeneratorToI64Op, I64ToGeneratorOp},
}

func setupScalarConversions(target *rewrite.ConversionTarget, converter *rewrite.TypeConverter) {
	for _, bridge := range scalarBridges {
		target.AddLegalOp(bridge.toOp, bridge.fromOp)
		converter.AddConversion(func(t ir.Type) (ir.Type, bool) {
			if !ir.TypesEqual(t, bridge.source) {
				return nil, false
			}
			return bridge.target, true
		})
		converter.AddTargetMaterialization(func(b ir.OpCreator, resultType ir.Type, input *ir.Value) *ir.Value {
			if !ir.TypesEqual(resultType, bridge.target) || !ir.TypesEqual(input.Type(), bridge.source) {
				return nil
			}
			return torch.Op(b, bridge.toOp, resultType, input)
		})
		// The input may still carry its source type while a signature is being converted,
		// so source materializations are selected by result type alone.
		converter.AddSourceMaterialization(func(b ir.OpCreator, resultType ir.Type, input *ir.Value) *ir.Value {
			if !ir.TypesEqual(resultType, bridge.source) {
				return nil
			}
			return torch.Op(b, bridge.fromOp, resultType, input)
		})
	}
}
