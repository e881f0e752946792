package rewrite

import (
	"github.com/gomlx/onnx-torch/ir"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Pattern rewrites operations.
type Pattern interface {
	// RootName is the name of the operations the pattern applies to, or "" for any.
	RootName() string

	// MatchAndRewrite returns nil if op was rewritten through rw, or the reason it was
	// not (usually from Rewriter.NotifyMatchFailure).
	MatchAndRewrite(op *ir.Operation, rw *Rewriter) error
}

// PatternFunc adapts a function to the Pattern interface.
type PatternFunc struct {
	Root string
	Fn   func(op *ir.Operation, rw *Rewriter) error
}

// RootName implements Pattern.
func (p PatternFunc) RootName() string { return p.Root }

// MatchAndRewrite implements Pattern.
func (p PatternFunc) MatchAndRewrite(op *ir.Operation, rw *Rewriter) error { return p.Fn(op, rw) }

// DefaultMaxIterations bounds the number of sweeps of the greedy driver.
const DefaultMaxIterations = 10

// ErrNotConverged is returned when the greedy driver is still making changes after
// the maximum number of sweeps.
var ErrNotConverged = errors.New("pattern application did not converge")

// patternsFor returns the patterns that may apply to op.
func patternsFor(patterns []Pattern, op *ir.Operation) []Pattern {
	var matching []Pattern
	for _, p := range patterns {
		if root := p.RootName(); root == "" || root == op.Name() {
			matching = append(matching, p)
		}
	}
	return matching
}

// tryPatterns runs the matching patterns on op until one succeeds. It returns whether
// op was rewritten and the last failure.
func tryPatterns(patterns []Pattern, op *ir.Operation) (bool, error) {
	var lastErr error
	for _, p := range patternsFor(patterns, op) {
		rw := NewRewriter(op)
		if err := p.MatchAndRewrite(op, rw); err != nil {
			rw.Rollback()
			lastErr = err
			continue
		}
		rw.Commit()
		return true, nil
	}
	return false, lastErr
}

// live reports whether op is still nested under root.
func live(root, op *ir.Operation) bool {
	return op != root && op.Block() != nil && root.IsAncestor(op)
}

// ApplyPatternsGreedily sweeps over all operations nested in root, applying the first
// successful pattern to each, until a sweep makes no change. It returns whether
// anything changed.
func ApplyPatternsGreedily(root *ir.Operation, patterns []Pattern, maxIterations int) (bool, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	changed := false
	for iteration := 0; iteration < maxIterations; iteration++ {
		progress := false
		for _, op := range root.Collect() {
			if !live(root, op) {
				continue
			}
			rewritten, _ := tryPatterns(patterns, op)
			progress = progress || rewritten
		}
		if !progress {
			klog.V(2).Infof("greedy rewrite of %q converged after %d sweeps", root.Name(), iteration+1)
			return changed, nil
		}
		changed = true
	}
	return changed, errors.Wrapf(ErrNotConverged, "after %d sweeps", maxIterations)
}
