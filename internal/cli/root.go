// Package cli implements the onnx-torch command line.
package cli

import (
	"flag"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	// ConfigPath is a YAML pipeline.Config file.
	ConfigPath string
}

// NewRootCommand creates the root command, with the klog flags (-v, -logtostderr, ...)
// as persistent flags.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	cmd := &cobra.Command{
		Use:   "onnx-torch",
		Short: "Lower ONNX models to the Torch dialect and to builtin backend types",
		Long: `onnx-torch imports ONNX models, converts their operators (including the
com.microsoft contrib operators) to the Torch dialect and legalizes the types of the
resulting functions for a backend.`,
		SilenceUsage: true,
	}

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML pipeline configuration file")

	cmd.AddCommand(NewLowerCommand(opts))
	cmd.AddCommand(NewOpsCommand(opts))
	cmd.AddCommand(NewSummaryCommand(opts))
	return cmd
}
