// Package benchmarks times the lowering of synthetic quantized models, and the reference
// evaluation of the lowered programs.
//
// Benchmarks are disabled unless --bench_duration is set, e.g.:
//
//	go test ./internal/benchmarks -bench_duration=10s -num_layers=32
package benchmarks

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"runtime"
	"testing"

	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/onnx-torch/internal/refexec"
	"github.com/gomlx/onnx-torch/onnx"
	"github.com/gomlx/onnx-torch/onnx/onnxtest"
	"github.com/gomlx/onnx-torch/pipeline"
	"github.com/janpfeifer/go-benchmarks"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

var (
	flagBenchDuration = flag.Duration("bench_duration", 0, "Benchmark duration, typically use 10 seconds. If left as 0, benchmark tests are disabled")
	flagNumLayers     = flag.Int("num_layers", 16, "Number of layers of the synthetic model")
	flagHiddenSize    = flag.Int("hidden_size", 64, "Hidden size of the synthetic model")
	flagBatchSize     = flag.Int("batch_size", 8, "Batch size of the synthetic model")
)

// quantizedMLP builds a model where each layer is
//
//	x = DequantizeLinear(QLinearLeakyRelu(QuantizeLinear(FusedMatMul(x, w, transB=1))))
//
// with a shared per-tensor quantization.
func quantizedMLP(numLayers, batchSize, hiddenSize int) []byte {
	b, h := int64(batchSize), int64(hiddenSize)
	r := rand.New(rand.NewPCG(42, 0))
	m := onnxtest.NewModel(21).
		Opset("com.microsoft", 1).
		Input("x0", onnx.DataTypeFloat, b, h).
		Output(fmt.Sprintf("x%d", numLayers), onnx.DataTypeFloat, b, h).
		Initializer(onnxtest.FloatTensor("scale", []int64{}, 0.05)).
		Initializer(onnxtest.Uint8Tensor("zero_point", []int64{}, 128))
	for layer := range numLayers {
		weights := make([]float32, hiddenSize*hiddenSize)
		for i := range weights {
			weights[i] = (r.Float32() - 0.5) / float32(hiddenSize)
		}
		x, w := fmt.Sprintf("x%d", layer), fmt.Sprintf("w%d", layer)
		dense, q, act, next := fmt.Sprintf("dense%d", layer), fmt.Sprintf("q%d", layer), fmt.Sprintf("act%d", layer), fmt.Sprintf("x%d", layer+1)
		m.Initializer(onnxtest.FloatTensor(w, []int64{h, h}, weights...)).
			ValueInfo(dense, onnx.DataTypeFloat, b, h).
			ValueInfo(q, onnx.DataTypeUint8, b, h).
			ValueInfo(act, onnx.DataTypeUint8, b, h).
			DomainNode("com.microsoft", "FusedMatMul", []string{x, w}, []string{dense}, onnxtest.AttrInt("transB", 1)).
			Node("QuantizeLinear", []string{dense, "scale", "zero_point"}, []string{q}).
			DomainNode("com.microsoft", "QLinearLeakyRelu", []string{q, "scale", "zero_point", "scale", "zero_point"}, []string{act},
				onnxtest.AttrFloat("alpha", 0.1)).
			Node("DequantizeLinear", []string{act, "scale", "zero_point"}, []string{next})
		if layer < numLayers-1 {
			m.ValueInfo(next, onnx.DataTypeFloat, b, h)
		}
	}
	return m.Bytes()
}

func TestBenchLowering(t *testing.T) {
	if *flagBenchDuration == 0 {
		fmt.Printf("Skipping lowering benchmarks: --bench_duration is not set\n")
		t.SkipNow()
	}
	contents := quantizedMLP(*flagNumLayers, *flagBatchSize, *flagHiddenSize)
	ctx := context.Background()
	stages := []pipeline.Stage{pipeline.StageTorch, pipeline.StageBackend}
	pipelines := make([]*pipeline.Pipeline, len(stages))
	for i, stage := range stages {
		cfg := pipeline.DefaultConfig()
		cfg.Stage = stage
		pipelines[i] = must.M1(pipeline.New(cfg))
	}

	fns := []benchmarks.NamedFunction{{
		Name: fmt.Sprintf("Import/Layers=%d", *flagNumLayers),
		Func: func() {
			model := must.M1(onnx.Parse(contents))
			_ = must.M1(model.Import())
		},
	}}
	for i, stage := range stages {
		p := pipelines[i]
		fns = append(fns, benchmarks.NamedFunction{
			Name: fmt.Sprintf("Lower/Stage=%s/Layers=%d", stage, *flagNumLayers),
			Func: func() {
				model := must.M1(onnx.Parse(contents))
				_ = must.M1(p.Run(ctx, model))
			},
		})
	}
	for i, fn := range fns {
		benchmarks.New(fn).
			WithWarmUps(16).
			WithDuration(*flagBenchDuration).
			WithHeader(i == 0).
			Done()
	}
}

func TestBenchReferenceEvaluation(t *testing.T) {
	if *flagBenchDuration == 0 {
		fmt.Printf("Skipping reference evaluation benchmarks: --bench_duration is not set\n")
		t.SkipNow()
	}
	cfg := pipeline.DefaultConfig()
	cfg.Stage = pipeline.StageTorch
	p := must.M1(pipeline.New(cfg))
	result := must.M1(p.Run(context.Background(), must.M1(onnx.Parse(quantizedMLP(*flagNumLayers, *flagBatchSize, *flagHiddenSize)))))
	fn := result.Module.Funcs()[0]

	backend, err := simplego.New("")
	require.NoError(t, err)
	evaluator := refexec.New(backend)
	input := tensors.FromShape(shapes.Make(dtypes.Float32, *flagBatchSize, *flagHiddenSize))
	r := rand.New(rand.NewPCG(42, 0))
	tensors.MutableFlatData[float32](input, func(flat []float32) {
		for i := range flat {
			flat[i] = r.Float32()
		}
	})

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	benchmarks.New(benchmarks.NamedFunction{
		Name: fmt.Sprintf("RefExec/Layers=%d/BatchSize=%d", *flagNumLayers, *flagBatchSize),
		Func: func() {
			outputs := must.M1(evaluator.Call(fn, input))
			tensors.ConstFlatData(outputs[0], func(flat []float32) { _ = flat[0] })
		},
	}).
		WithWarmUps(4).
		WithDuration(*flagBenchDuration).
		WithHeader(true).
		Done()
}

// TestQuantizedMLP checks the synthetic model is fully lowered and evaluates.
func TestQuantizedMLP(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.Stage = pipeline.StageTorch
	p := must.M1(pipeline.New(cfg))
	result, err := p.Run(context.Background(), must.M1(onnx.Parse(quantizedMLP(2, 2, 4))))
	require.NoError(t, err)
	require.Equal(t, 8, result.Report.NumReplaced())

	backend, err := simplego.New("")
	require.NoError(t, err)
	outputs, err := refexec.New(backend).Call(result.Module.Funcs()[0], [][]float32{{1, 2, 3, 4}, {-1, -2, -3, -4}})
	require.NoError(t, err)
	require.Equal(t, []int{2, 4}, outputs[0].Shape().Dimensions)
}
