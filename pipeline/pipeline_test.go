package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/onnx-torch/onnx"
	"github.com/gomlx/onnx-torch/onnx/onnxtest"
	"github.com/gomlx/onnx-torch/onnxtotorch"
	"github.com/gomlx/onnx-torch/rewrite"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fusedMatMulModel() *onnxtest.Builder {
	return onnxtest.NewModel(21).
		Opset("com.microsoft", 1).
		Input("a", onnx.DataTypeFloat, 3, 2).
		Input("b", onnx.DataTypeFloat, 3, 4).
		Output("y", onnx.DataTypeFloat, 2, 4).
		DomainNode("com.microsoft", "FusedMatMul", []string{"a", "b"}, []string{"y"}, onnxtest.AttrInt("transA", 1))
}

func newPipeline(t *testing.T, modify func(cfg *Config)) *Pipeline {
	cfg := DefaultConfig()
	if modify != nil {
		modify(&cfg)
	}
	return must.M1(New(cfg))
}

func TestRunStages(t *testing.T) {
	ctx := context.Background()

	t.Run("torch", func(t *testing.T) {
		p := newPipeline(t, func(cfg *Config) { cfg.Stage = StageTorch })
		result, err := p.Run(ctx, fusedMatMulModel().Model(t))
		require.NoError(t, err)
		assert.Equal(t, StageTorch, result.Stage)
		assert.Equal(t, 1, result.Report.NumReplaced())
		text := result.Module.String()
		assert.Contains(t, text, `"torch.aten.matmul"`)
		assert.Contains(t, text, `"torch.aten.transpose.int"`)
		assert.NotContains(t, text, `"torch.operator"`)
	})

	t.Run("backend", func(t *testing.T) {
		p := newPipeline(t, func(cfg *Config) { cfg.SkipFinalize = true })
		result, err := p.Run(ctx, fusedMatMulModel().Model(t))
		require.NoError(t, err)
		assert.Equal(t, StageBackend, result.Stage)
		text := result.Module.String()
		assert.Contains(t, text, "func.func @main_graph(%arg0: tensor<3x2xf32>, %arg1: tensor<3x4xf32>) -> tensor<2x4xf32>")
		assert.Contains(t, text, `"torch_c.from_builtin_tensor"`)
		assert.Contains(t, text, `"torch_c.to_builtin_tensor"`)
	})

	t.Run("final needs lowered bodies", func(t *testing.T) {
		p := newPipeline(t, nil)
		result, err := p.Run(ctx, fusedMatMulModel().Model(t))
		require.Error(t, err)
		assert.True(t, errors.Is(err, rewrite.ErrIllegal), "got %v", err)
		assert.Contains(t, err.Error(), "pipeline stage final")
		// The module is the one of the last successful stage.
		assert.Equal(t, StageBackend, result.Stage)
		assert.Contains(t, result.Module.String(), `"torch_c.from_builtin_tensor"`)
	})

	t.Run("final identity", func(t *testing.T) {
		m := onnxtest.NewModel(21).
			Input("x", onnx.DataTypeUint8, 2).
			Output("x", onnx.DataTypeUint8, 2).
			Model(t)
		for backend, wantType := range map[string]string{"default": "tensor<2xi8>", "stablehlo": "tensor<2xui8>"} {
			p := newPipeline(t, func(cfg *Config) { cfg.Backend = backend })
			result, err := p.Run(ctx, m)
			require.NoError(t, err, "backend %s", backend)
			assert.Equal(t, StageFinal, result.Stage)
			text := result.Module.String()
			assert.Contains(t, text, "(%arg0: "+wantType+") -> "+wantType, "backend %s", backend)
			assert.NotContains(t, text, "torch", "backend %s", backend)
		}
	})
}

func TestRunUnconverted(t *testing.T) {
	ctx := context.Background()
	model := func() *onnx.Model {
		return onnxtest.NewModel(21).
			Opset("com.microsoft", 1).
			Input("a", onnx.DataTypeFloat, 3, 2).
			Input("b", onnx.DataTypeFloat, 3, 4).
			Output("y", onnx.DataTypeFloat, 2, 4).
			DomainNode("com.microsoft", "FusedMatMul", []string{"a", "b"}, []string{"y"},
				onnxtest.AttrInt("transA", 1), onnxtest.AttrFloat("alpha", 2)).
			Model(t)
	}

	result, err := newPipeline(t, nil).Run(ctx, model())
	require.Error(t, err)
	assert.True(t, errors.Is(err, onnxtotorch.ErrUnconverted))
	assert.Equal(t, Stage(""), result.Stage)
	require.Len(t, result.Report.Unconverted(), 1)
	assert.Contains(t, result.Report.Unconverted()[0].Reason, "alpha=2")

	p := newPipeline(t, func(cfg *Config) {
		cfg.AllowUnconverted = true
		cfg.SkipFinalize = true
	})
	result, err = p.Run(ctx, model())
	require.NoError(t, err)
	assert.Equal(t, StageBackend, result.Stage)
	assert.Contains(t, result.Module.String(), `{name = "onnx.FusedMatMul"`)

	// Disabled operators are reported as such.
	p = newPipeline(t, func(cfg *Config) {
		cfg.AllowUnconverted = true
		cfg.DisabledOps = []string{"FusedMatMul"}
		cfg.Stage = StageTorch
	})
	result, err = p.Run(ctx, fusedMatMulModel().Model(t))
	require.NoError(t, err)
	require.Len(t, result.Report.Outcomes, 1)
	assert.Equal(t, "disabled", result.Report.Outcomes[0].Reason)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := newPipeline(t, nil).Run(ctx, fusedMatMulModel().Model(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Stage(""), result.Stage)
}

func TestRunImportError(t *testing.T) {
	m := onnxtest.NewModel(21).
		Input("x", onnx.DataTypeFloat, 2).
		Output("y", onnx.DataTypeFloat, 2).
		Model(t)
	_, err := newPipeline(t, nil).Run(context.Background(), m)
	require.ErrorContains(t, err, "while importing ONNX model")
}

func TestConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = ParseConfig(strings.NewReader(`
backend: stablehlo
allow_unconverted: true
disabled_ops: [GroupQueryAttention, QLinearConcat]
opset_override: 1
stage: backend
report: /tmp/report.parquet
`))
	require.NoError(t, err)
	assert.Equal(t, Config{
		Backend:          "stablehlo",
		AllowUnconverted: true,
		DisabledOps:      []string{"GroupQueryAttention", "QLinearConcat"},
		OpsetOverride:    1,
		Stage:            StageBackend,
		Report:           "/tmp/report.parquet",
	}, cfg)

	for yaml, wantErr := range map[string]string{
		"backend: linalg":       `invalid backend "linalg"`,
		"stage: lowered":        `invalid stage "lowered"`,
		"opset_override: -2":    "opset_override must be positive",
		"disabled_ops: ['']":    "empty operator names",
		"allow_unconvertd: yes": "field allow_unconvertd not found",
	} {
		_, err := ParseConfig(strings.NewReader(yaml))
		require.ErrorContains(t, err, wantErr, "config %q", yaml)
	}

	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("skip_finalize: true\n"), 0o644))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, StageBackend, cfg.FinalStage())

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
