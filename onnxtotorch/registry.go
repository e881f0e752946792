// Package onnxtotorch converts ONNX operators, imported as `torch.operator "onnx.<OpType>"`
// nodes, into Torch dialect operations.
//
// Conversions are registered per operator name and minimum opset version with
// Registry.OnOp. At conversion time the rule with the highest version not above the
// node's opset version is tried first.
package onnxtotorch

import (
	"sort"

	"github.com/gomlx/onnx-torch/rewrite"
)

// Handler converts one operator. It returns nil if the operator was replaced through rw,
// or a *rewrite.MatchFailure (usually from rw.NotifyMatchFailure) explaining why not.
// Handlers keep no state across invocations.
type Handler func(b *OpBinder, rw *rewrite.Rewriter) error

type handlerReg struct {
	sinceVersion int
	handler      Handler
}

// Registry maps operator names and opset versions to handlers.
type Registry struct {
	handlers map[string][]handlerReg
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]handlerReg)}
}

// DefaultRegistry returns a registry with all the conversions of this package.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	populateComMicrosoftDomain(r)
	populateDefaultDomain(r)
	return r
}

// OnOp registers handler for the operator name, for opset versions >= sinceVersion.
// Registering the same name and version twice replaces the previous handler.
func (r *Registry) OnOp(name string, sinceVersion int, handler Handler) {
	regs := r.handlers[name]
	for i, reg := range regs {
		if reg.sinceVersion == sinceVersion {
			regs[i].handler = handler
			return
		}
	}
	regs = append(regs, handlerReg{sinceVersion: sinceVersion, handler: handler})
	// Highest version first.
	sort.Slice(regs, func(i, j int) bool { return regs[i].sinceVersion > regs[j].sinceVersion })
	r.handlers[name] = regs
}

// Lookup returns the handler with the highest registered version <= version, and that
// version. It returns false if the operator is unknown or only registered for higher
// versions.
func (r *Registry) Lookup(name string, version int) (Handler, int, bool) {
	for _, reg := range r.handlers[name] {
		if reg.sinceVersion <= version {
			return reg.handler, reg.sinceVersion, true
		}
	}
	return nil, 0, false
}

// candidates returns the handlers applicable to version, highest version first.
func (r *Registry) candidates(name string, version int) []handlerReg {
	var regs []handlerReg
	for _, reg := range r.handlers[name] {
		if reg.sinceVersion <= version {
			regs = append(regs, reg)
		}
	}
	return regs
}

// Ops returns the registered operator names, sorted.
func (r *Registry) Ops() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Versions returns the registered versions of an operator, highest first.
func (r *Registry) Versions(name string) []int {
	regs := r.handlers[name]
	versions := make([]int, len(regs))
	for i, reg := range regs {
		versions[i] = reg.sinceVersion
	}
	return versions
}
