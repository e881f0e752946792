package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/onnx-torch/internal/report"
	"github.com/gomlx/onnx-torch/onnx"
	"github.com/gomlx/onnx-torch/pipeline"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// hfPrefix marks models downloaded from a HuggingFace repository: hf:<owner>/<repo>/<file>.
const hfPrefix = "hf:"

// LowerOptions holds flags for the lower command. Flags explicitly set override the
// configuration file.
type LowerOptions struct {
	*RootOptions
	Backend          string
	Stage            string
	Report           string
	AllowUnconverted bool
	OutputDir        string
	Jobs             int
}

// NewLowerCommand creates the lower command.
func NewLowerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LowerOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "lower <model.onnx | hf:owner/repo/file.onnx>...",
		Short: "Lower ONNX models and print the resulting modules",
		Long: `Lower imports each ONNX model, converts its operators to the Torch dialect and
legalizes the types of its functions, stopping at the configured stage.

Models can be local files or files of a HuggingFace repository, given as
hf:<owner>/<repo>/<path>. HF_TOKEN is used to authenticate if set.

Several models are lowered concurrently.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLower(cmd, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.Backend, "backend", "default", `type mapping: "default" or "stablehlo"`)
	cmd.Flags().StringVar(&opts.Stage, "stage", string(pipeline.StageFinal), "stage to stop at: torch, backend or final")
	cmd.Flags().StringVar(&opts.Report, "report", "", "write the per-node conversion outcomes to this Parquet file")
	cmd.Flags().BoolVar(&opts.AllowUnconverted, "allow-unconverted", false, "keep going if some ONNX operators can't be converted")
	cmd.Flags().StringVarP(&opts.OutputDir, "output-dir", "o", "", "write each module to <output-dir>/<model>.mlir instead of stdout")
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", runtime.NumCPU(), "number of models lowered in parallel")
	return cmd
}

// config loads the configuration file, if any, and applies the flags set.
func (opts *LowerOptions) config(cmd *cobra.Command) (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = pipeline.LoadConfig(opts.ConfigPath); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = opts.Backend
	}
	if flags.Changed("stage") {
		cfg.Stage = pipeline.Stage(opts.Stage)
		cfg.SkipFinalize = false
	}
	if flags.Changed("report") {
		cfg.Report = opts.Report
	}
	if flags.Changed("allow-unconverted") {
		cfg.AllowUnconverted = opts.AllowUnconverted
	}
	return cfg, cfg.Validate()
}

// lowered is the outcome of one model.
type lowered struct {
	text string
	rows []report.Row
}

func runLower(cmd *cobra.Command, opts *LowerOptions, args []string) error {
	cfg, err := opts.config(cmd)
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}
	if opts.OutputDir != "" {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			return errors.Wrapf(err, "creating output directory")
		}
	}

	results := make([]lowered, len(args))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(opts.Jobs, 1))
	for i, arg := range args {
		g.Go(func() error {
			var err error
			results[i], err = lowerModel(ctx, p, arg)
			return errors.WithMessagef(err, "lowering %q", arg)
		})
	}
	err = g.Wait()

	if cfg.Report != "" {
		var rows []report.Row
		for _, r := range results {
			rows = append(rows, r.rows...)
		}
		if reportErr := report.WriteFile(cfg.Report, rows); reportErr != nil {
			klog.Errorf("failed to write report: %v", reportErr)
		} else {
			klog.V(1).Infof("wrote %d report rows to %s", len(rows), cfg.Report)
		}
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, arg := range args {
		if opts.OutputDir != "" {
			path := filepath.Join(opts.OutputDir, modelStem(arg)+".mlir")
			if err := os.WriteFile(path, []byte(results[i].text), 0o644); err != nil {
				return errors.Wrapf(err, "writing lowered module of %q", arg)
			}
			continue
		}
		if err := printModule(out, arg, results[i].text, len(args) > 1); err != nil {
			return err
		}
	}
	return nil
}

func printModule(w io.Writer, name, text string, withHeader bool) error {
	if withHeader {
		if _, err := fmt.Fprintf(w, "// %s\n", name); err != nil {
			return errors.WithStack(err)
		}
	}
	_, err := io.WriteString(w, text)
	return errors.WithStack(err)
}

// lowerModel runs the pipeline on one model. The report rows are returned even if the
// conversion failed.
func lowerModel(ctx context.Context, p *pipeline.Pipeline, arg string) (lowered, error) {
	path, err := resolveModel(arg)
	if err != nil {
		return lowered{}, err
	}
	model, err := onnx.ReadFile(path)
	if err != nil {
		return lowered{}, err
	}
	defer func() { _ = model.Close() }()
	klog.V(1).Infof("lowering %s:\n%s", arg, model)

	result, err := p.Run(ctx, model)
	var l lowered
	if result.Report != nil {
		l.rows = report.Rows(arg, result.Report)
	}
	if err != nil {
		return l, err
	}
	l.text = result.Module.String()
	return l, nil
}

// resolveModel returns the local path of a model, downloading it if needed.
func resolveModel(arg string) (string, error) {
	if !strings.HasPrefix(arg, hfPrefix) {
		return arg, nil
	}
	parts := strings.SplitN(strings.TrimPrefix(arg, hfPrefix), "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", errors.Errorf("invalid HuggingFace model %q, expected %s<owner>/<repo>/<file>", arg, hfPrefix)
	}
	repo := hub.New(parts[0] + "/" + parts[1]).WithAuth(os.Getenv("HF_TOKEN"))
	path, err := repo.DownloadFile(parts[2])
	if err != nil {
		return "", errors.Wrapf(err, "downloading %q", arg)
	}
	klog.V(1).Infof("downloaded %s to %s", arg, path)
	return path, nil
}

// modelStem is the file name of a model without directory and extension.
func modelStem(arg string) string {
	base := filepath.Base(strings.TrimPrefix(arg, hfPrefix))
	return strings.TrimSuffix(base, filepath.Ext(base))
}
