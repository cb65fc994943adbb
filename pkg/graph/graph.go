// Package graph implements the topology, wiring, and lifecycle of a
// simulflow dataflow graph.
package graph

import (
	"fmt"

	"github.com/shipclojure/simulflow-go/pkg/processor"
)

// Endpoint names one (node, port) pair.
type Endpoint struct {
	Node string
	Port string
}

// Edge connects one producer endpoint to one consumer endpoint. The same
// producer endpoint may appear in several Edges (fan-out) and the same
// consumer endpoint may appear in several Edges (fan-in).
type Edge struct {
	From Endpoint
	To   Endpoint
}

// NodeSpec describes one graph node before instantiation: which processor
// implementation it runs and the arguments passed to its Init.
type NodeSpec struct {
	Processor processor.Processor
	Args      map[string]any
}

// Graph is the static topology: a node-id → spec map plus an ordered edge
// list. Graph values are immutable once built by NewGraph; Start produces
// an Engine that owns the live channels and goroutines.
type Graph struct {
	Nodes map[string]NodeSpec
	Edges []Edge
}

// NewGraph validates and returns a Graph. Validation checks:
//   - every edge references a node that exists,
//   - every edge references a port declared by that node's Describe(),
//   - no port is left entirely dangling is NOT checked here (a node may
//     legitimately leave an optional port unconnected); only existence and
//     direction are enforced.
func NewGraph(nodes map[string]NodeSpec, edges []Edge) (*Graph, error) {
	descs := make(map[string]processor.Description, len(nodes))
	for id, spec := range nodes {
		if spec.Processor == nil {
			return nil, fmt.Errorf("graph: node %q has a nil processor", id)
		}
		descs[id] = spec.Processor.Describe()
	}

	for i, e := range edges {
		fromDesc, ok := descs[e.From.Node]
		if !ok {
			return nil, fmt.Errorf("graph: edge %d: unknown source node %q", i, e.From.Node)
		}
		if !containsPort(fromDesc.Ports.Outs, e.From.Port) {
			return nil, fmt.Errorf("graph: edge %d: node %q has no out-port %q", i, e.From.Node, e.From.Port)
		}

		toDesc, ok := descs[e.To.Node]
		if !ok {
			return nil, fmt.Errorf("graph: edge %d: unknown destination node %q", i, e.To.Node)
		}
		if !containsPort(toDesc.Ports.Ins, e.To.Port) {
			return nil, fmt.Errorf("graph: edge %d: node %q has no in-port %q", i, e.To.Node, e.To.Port)
		}
	}

	return &Graph{Nodes: nodes, Edges: edges}, nil
}

func containsPort(ports []string, name string) bool {
	for _, p := range ports {
		if p == name {
			return true
		}
	}
	return false
}
