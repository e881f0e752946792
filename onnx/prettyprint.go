package onnx

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/sets"
)

// String summarizes the model: producer, opsets, graph interface and the operator types
// used, qualified by their domain when not in the default one.
func (m *Model) String() string {
	var sb strings.Builder
	p := m.Proto
	sb.WriteString("ONNX Model:\n")
	if p.DocString != "" {
		fmt.Fprintf(&sb, "%s\n", p.DocString)
	}
	if p.ModelVersion != 0 {
		fmt.Fprintf(&sb, "\tVersion:\t%d\n", p.ModelVersion)
	}
	if p.ProducerName != "" {
		fmt.Fprintf(&sb, "\tProducer:\t%s / %s\n", p.ProducerName, p.ProducerVersion)
	}
	fmt.Fprintf(&sb, "\tIR Version:\t%d\n", p.IRVersion)
	opsets := make([]string, len(p.OpsetImport))
	for i, opset := range p.OpsetImport {
		opsets[i] = fmt.Sprintf("v%d", opset.Version)
		if opset.Domain != "" {
			opsets[i] += " (" + opset.Domain + ")"
		}
	}
	fmt.Fprintf(&sb, "\tOperator Sets:\t[%s]\n", strings.Join(opsets, ", "))
	fmt.Fprintf(&sb, "\tInputs:\t%s\n", strings.Join(m.InputsNames, ", "))
	fmt.Fprintf(&sb, "\tOutputs:\t%s\n", strings.Join(m.OutputsNames, ", "))

	numExternal := 0
	for _, t := range p.Graph.Initializer {
		if t.DataLocation == DataLocationExternal {
			numExternal++
		}
	}
	fmt.Fprintf(&sb, "\t# initializers:\t%d", len(p.Graph.Initializer))
	if numExternal > 0 {
		fmt.Fprintf(&sb, " (%d external)", numExternal)
	}
	sb.WriteString("\n")

	opTypes := sets.Make[string]()
	perDomain := make(map[string]int)
	for _, n := range p.Graph.Node {
		domain := canonicalDomain(n.Domain)
		perDomain[domain]++
		if domain == DefaultDomain {
			opTypes.Insert(n.OpType)
		} else {
			opTypes.Insert(domain + "." + n.OpType)
		}
	}
	fmt.Fprintf(&sb, "\t# nodes:\t%d\n", len(p.Graph.Node))
	if len(perDomain) > 1 {
		for _, domain := range slices.Sorted(maps.Keys(perDomain)) {
			fmt.Fprintf(&sb, "\t\t%s:\t%d\n", domain, perDomain[domain])
		}
	}
	fmt.Fprintf(&sb, "\tOp types:\t%#v\n", slices.Sorted(maps.Keys(opTypes)))

	if p.NumFunctions > 0 {
		fmt.Fprintf(&sb, "\t# functions:\t%d\n", p.NumFunctions)
	}
	if len(p.MetadataProps) > 0 {
		props := make([]string, len(p.MetadataProps))
		for i, prop := range p.MetadataProps {
			props[i] = prop.Key + "=" + prop.Value
		}
		fmt.Fprintf(&sb, "\tMetadata: [%s]\n", strings.Join(props, ", "))
	}
	return sb.String()
}
