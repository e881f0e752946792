// Package report stores the per-node outcomes of ONNX to Torch conversions as Parquet
// files, one row per converted (or skipped) ONNX node, so results over many models can be
// queried with the usual data tools.
package report

import (
	"io"
	"os"
	"sort"

	"github.com/gomlx/onnx-torch/onnxtotorch"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// Row is one ONNX node outcome.
//
// The parquet annotations are described in: https://pkg.go.dev/github.com/parquet-go/parquet-go#SchemaOf
type Row struct {
	Model    string `parquet:"model,dict,snappy"`
	Func     string `parquet:"func,dict,snappy"`
	Op       string `parquet:"op,dict,snappy"`
	Version  int32  `parquet:"version"`
	Rule     int32  `parquet:"rule"`
	Replaced bool   `parquet:"replaced"`
	Reason   string `parquet:"reason,snappy"`
}

// Rows converts a conversion report of the given model to rows.
func Rows(model string, r *onnxtotorch.Report) []Row {
	rows := make([]Row, len(r.Outcomes))
	for i, o := range r.Outcomes {
		rows[i] = Row{
			Model:    model,
			Func:     o.Func,
			Op:       o.Op,
			Version:  int32(o.Version),
			Rule:     int32(o.Rule),
			Replaced: o.Replaced,
			Reason:   o.Reason,
		}
	}
	return rows
}

// Write writes rows as a Parquet file to w.
func Write(w io.Writer, rows []Row) error {
	writer := parquet.NewGenericWriter[Row](w)
	if _, err := writer.Write(rows); err != nil {
		return errors.Wrap(err, "writing report rows")
	}
	return errors.Wrap(writer.Close(), "closing report writer")
}

// WriteFile creates (or truncates) path and writes rows to it.
func WriteFile(path string, rows []Row) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating report file %q", path)
	}
	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = errors.Wrapf(closeErr, "closing report file %q", path)
		}
	}()
	return Write(f, rows)
}

// ReadFile reads all rows of a report file.
func ReadFile(path string) ([]Row, error) {
	// parquet.OpenFile needs the size of the file.
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "report file %q", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening report file %q", path)
	}
	defer func() { _ = f.Close() }()
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, errors.Wrapf(err, "parsing report file %q", path)
	}
	reader := parquet.NewGenericReader[Row](pf, parquet.SchemaOf(&Row{}))
	defer func() { _ = reader.Close() }()
	rows := make([]Row, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "reading report file %q", path)
	}
	return rows[:n], nil
}

// OpSummary aggregates the outcomes of one ONNX operator.
type OpSummary struct {
	Op                   string
	Replaced, Unreplaced int
	// Reasons counts the failure reasons of unreplaced nodes.
	Reasons map[string]int
}

// Summarize aggregates rows per operator, sorted by decreasing number of unreplaced nodes
// and then by name.
func Summarize(rows []Row) []OpSummary {
	byOp := make(map[string]*OpSummary)
	for _, row := range rows {
		s, found := byOp[row.Op]
		if !found {
			s = &OpSummary{Op: row.Op, Reasons: make(map[string]int)}
			byOp[row.Op] = s
		}
		if row.Replaced {
			s.Replaced++
			continue
		}
		s.Unreplaced++
		s.Reasons[row.Reason]++
	}
	summaries := make([]OpSummary, 0, len(byOp))
	for _, s := range byOp {
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Unreplaced != summaries[j].Unreplaced {
			return summaries[i].Unreplaced > summaries[j].Unreplaced
		}
		return summaries[i].Op < summaries[j].Op
	})
	return summaries
}
