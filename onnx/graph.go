package onnx

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/pkg/errors"
)

// sortedNodes returns the nodes of the graph in an order where every node comes after
// the producers of its inputs. Nodes already in such an order keep it.
//
// Careful not to mix up node.Name and node.Output (there can be more than one output).
func (m *Model) sortedNodes() ([]*NodeProto, error) {
	graph := m.Proto.Graph
	done := sets.Make[string]()
	done.Insert("") // Omitted optional inputs.
	for _, input := range graph.Input {
		done.Insert(input.Name)
	}
	for _, t := range graph.Initializer {
		done.Insert(t.Name)
	}
	isReady := func(node *NodeProto) bool {
		for _, input := range node.Input {
			if !done.Has(input) {
				return false
			}
		}
		return true
	}

	sorted := make([]*NodeProto, 0, len(graph.Node))
	pending := slices.Clone(graph.Node)
	for len(pending) > 0 {
		var blocked []*NodeProto
		for _, node := range pending {
			if !isReady(node) {
				blocked = append(blocked, node)
				continue
			}
			sorted = append(sorted, node)
			for _, output := range node.Output {
				done.Insert(output)
			}
		}
		if len(blocked) == len(pending) {
			node := blocked[0]
			var missing []string
			for _, input := range node.Input {
				if !done.Has(input) {
					missing = append(missing, input)
				}
			}
			return nil, errors.Errorf("sorting operations graph failed: %d node(s) unreachable from the inputs, "+
				"first is %s (%q) waiting for %q", len(blocked), node.OpType, node.Name, missing)
		}
		pending = blocked
	}
	return sorted, nil
}
