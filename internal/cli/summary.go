package cli

import (
	"fmt"
	"sort"

	"github.com/gomlx/onnx-torch/internal/report"
	"github.com/spf13/cobra"
)

// NewSummaryCommand creates the summary command, aggregating a report written by lower.
func NewSummaryCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <report.parquet>",
		Short: "Summarize a conversion report per ONNX operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := report.ReadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			models := make(map[string]bool)
			for _, row := range rows {
				models[row.Model] = true
			}
			fmt.Fprintf(out, "%d nodes in %d models\n", len(rows), len(models))
			for _, s := range report.Summarize(rows) {
				fmt.Fprintf(out, "%-32s replaced=%d unreplaced=%d\n", s.Op, s.Replaced, s.Unreplaced)
				reasons := make([]string, 0, len(s.Reasons))
				for reason := range s.Reasons {
					reasons = append(reasons, reason)
				}
				sort.Strings(reasons)
				for _, reason := range reasons {
					fmt.Fprintf(out, "\t%dx %s\n", s.Reasons[reason], reason)
				}
			}
			return nil
		},
	}
}
