package pipeline

import (
	"bytes"
	"io"
	"os"
	"slices"

	"github.com/gomlx/onnx-torch/torchconversion"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Stage where the pipeline stops.
type Stage string

const (
	// StageTorch stops after the ONNX operators are converted to the Torch dialect.
	StageTorch Stage = "torch"

	// StageBackend stops after the function signatures are converted to builtin types,
	// leaving the torch_c materializations in place.
	StageBackend Stage = "backend"

	// StageFinal removes the materializations: it only succeeds if the function bodies
	// were lowered to builtin types.
	StageFinal Stage = "final"
)

var stages = []Stage{StageTorch, StageBackend, StageFinal}

// Config of a pipeline run, usually loaded from YAML.
type Config struct {
	// Backend is "default" or "stablehlo".
	Backend string `yaml:"backend"`

	// AllowUnconverted keeps going when ONNX operators can't be converted.
	AllowUnconverted bool `yaml:"allow_unconverted"`

	// SkipFinalize stops at StageBackend, whatever Stage says.
	SkipFinalize bool `yaml:"skip_finalize"`

	// DisabledOps are ONNX operator types, e.g. "QLinearAdd" or "GroupQueryAttention", that
	// are left unconverted.
	DisabledOps []string `yaml:"disabled_ops"`

	// OpsetOverride, if > 0, replaces the opset version of every ONNX operator.
	OpsetOverride int `yaml:"opset_override"`

	// Stage where the pipeline stops. Defaults to StageFinal.
	Stage Stage `yaml:"stage"`

	// Report is the path of a Parquet file where the conversion outcomes are written.
	// Empty for no report.
	Report string `yaml:"report"`
}

// DefaultConfig converts everything down to StageFinal for the default backend.
func DefaultConfig() Config {
	return Config{Backend: torchconversion.Default.String(), Stage: StageFinal}
}

// ParseConfig parses a YAML configuration. Unset fields take their DefaultConfig value,
// unknown fields are an error.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, errors.Wrap(err, "parsing pipeline configuration")
	}
	return cfg, cfg.Validate()
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), errors.Wrapf(err, "reading pipeline configuration")
	}
	cfg, err := ParseConfig(bytes.NewReader(contents))
	if err != nil {
		return cfg, errors.WithMessagef(err, "configuration file %q", path)
	}
	return cfg, nil
}

// Validate checks the values of the configuration.
func (c Config) Validate() error {
	if _, err := ParseBackend(c.Backend); err != nil {
		return err
	}
	if !slices.Contains(stages, c.Stage) {
		return errors.Errorf("invalid stage %q, valid stages are %q", c.Stage, stages)
	}
	if c.OpsetOverride < 0 {
		return errors.Errorf("opset_override must be positive (or 0 to disable), got %d", c.OpsetOverride)
	}
	for _, name := range c.DisabledOps {
		if name == "" {
			return errors.New("disabled_ops can't have empty operator names")
		}
	}
	return nil
}

// FinalStage is the stage where the pipeline stops, taking SkipFinalize into account.
func (c Config) FinalStage() Stage {
	if c.SkipFinalize && c.Stage == StageFinal {
		return StageBackend
	}
	return c.Stage
}

// ParseBackend converts a backend name to torchconversion.Backend. An empty name is the
// default backend.
func ParseBackend(name string) (torchconversion.Backend, error) {
	for _, b := range []torchconversion.Backend{torchconversion.Default, torchconversion.Stablehlo} {
		if name == b.String() {
			return b, nil
		}
	}
	if name == "" {
		return torchconversion.Default, nil
	}
	return torchconversion.Default, errors.Errorf("invalid backend %q, valid backends are \"default\" and \"stablehlo\"", name)
}
