package cli

import (
	"fmt"
	"strings"

	"github.com/gomlx/onnx-torch/onnxtotorch"
	"github.com/spf13/cobra"
)

// NewOpsCommand creates the ops command, listing the registered conversion rules.
func NewOpsCommand(_ *RootOptions) *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List the ONNX operators with conversion rules and their opset versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry := onnxtotorch.DefaultRegistry()
			out := cmd.OutOrStdout()
			for _, name := range registry.Ops() {
				if filter != "" && !strings.Contains(name, filter) {
					continue
				}
				versions := registry.Versions(name)
				parts := make([]string, len(versions))
				for i, v := range versions {
					parts[i] = fmt.Sprintf("v%d", v)
				}
				if _, err := fmt.Fprintf(out, "%-32s %s\n", name, strings.Join(parts, ", ")); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "only list operators whose name contains this string")
	return cmd
}
