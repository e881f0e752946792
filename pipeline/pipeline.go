// Package pipeline chains the conversions of an ONNX model down to a module with builtin
// types: import, ONNX operators to Torch dialect, function signatures to builtin types and
// finally the removal of the Torch to builtin materializations.
package pipeline

import (
	"context"
	"time"

	"github.com/gomlx/onnx-torch/ir"
	"github.com/gomlx/onnx-torch/onnx"
	"github.com/gomlx/onnx-torch/onnxtotorch"
	"github.com/gomlx/onnx-torch/torchconversion"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Result of a pipeline run.
type Result struct {
	// Module at the last stage reached. If the run failed, it holds the module as it was
	// after the last stage that succeeded.
	Module *ir.Module

	// Report of the ONNX to Torch conversion, nil if the import failed.
	Report *onnxtotorch.Report

	// Stage is the last stage completed, empty if not even the Torch conversion succeeded.
	Stage Stage
}

// Pipeline runs the conversions configured by Config. It is safe for concurrent use:
// each run works on its own module.
type Pipeline struct {
	cfg      Config
	backend  torchconversion.Backend
	registry *onnxtotorch.Registry
}

// New validates cfg and returns a pipeline using the default rule registry.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backend, _ := ParseBackend(cfg.Backend)
	return &Pipeline{cfg: cfg, backend: backend, registry: onnxtotorch.DefaultRegistry()}, nil
}

// WithRegistry replaces the registry of ONNX to Torch rules.
func (p *Pipeline) WithRegistry(registry *onnxtotorch.Registry) *Pipeline {
	p.registry = registry
	return p
}

// Config returns the configuration of the pipeline.
func (p *Pipeline) Config() Config { return p.cfg }

// Run imports model and converts it. ctx is checked between stages.
func (p *Pipeline) Run(ctx context.Context, model *onnx.Model) (*Result, error) {
	start := time.Now()
	module, err := model.Import()
	if err != nil {
		return &Result{}, errors.WithMessage(err, "while importing ONNX model")
	}
	klog.V(1).Infof("pipeline: imported model in %s", time.Since(start))
	return p.RunModule(ctx, module)
}

// RunModule converts an imported module. The module is modified in place.
func (p *Pipeline) RunModule(ctx context.Context, module *ir.Module) (*Result, error) {
	result := &Result{Module: module}
	opts := onnxtotorch.Options{
		AllowUnconverted: p.cfg.AllowUnconverted,
		Disabled:         p.cfg.DisabledOps,
		OpsetOverride:    p.cfg.OpsetOverride,
	}
	last := p.cfg.FinalStage()
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return result, errors.Wrapf(err, "pipeline interrupted before stage %s", stage)
		}
		start := time.Now()
		var err error
		switch stage {
		case StageTorch:
			result.Report, err = onnxtotorch.Convert(module, p.registry, opts)
		case StageBackend:
			if p.backend == torchconversion.Stablehlo {
				err = torchconversion.FuncBackendTypeConversionForStablehlo(module)
			} else {
				err = torchconversion.FuncBackendTypeConversion(module)
			}
		case StageFinal:
			if p.backend == torchconversion.Stablehlo {
				err = torchconversion.FinalizingBackendTypeConversionForStablehlo(module)
			} else {
				err = torchconversion.FinalizingBackendTypeConversion(module)
			}
		}
		if err == nil {
			err = ir.Verify(module)
		}
		if err != nil {
			return result, errors.WithMessagef(err, "pipeline stage %s", stage)
		}
		result.Stage = stage
		klog.V(1).Infof("pipeline: stage %s (%s backend) done in %s", stage, p.backend, time.Since(start))
		if stage == last {
			break
		}
	}
	return result, nil
}
