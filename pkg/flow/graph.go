package flow

import (
	"fmt"
	"strings"
)

// GraphNode describes one node of a flow graph.
type GraphNode struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// GraphEdge describes one labeled transition.
type GraphEdge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Action Action `json:"action"`
}

// Graph is a walkable description of a flow's nodes and labeled edges, fit
// for serialization by telemetry or visualization collaborators. It feeds
// nothing back into orchestration.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Describe walks the graph from the start node and returns its description.
// Nested flows appear as single nodes; they are not expanded.
func (f *Flow) Describe() *Graph {
	g := &Graph{}
	if f.start == nil {
		return g
	}
	seen := make(map[Node]bool)
	var walk func(n Node)
	walk = func(n Node) {
		if seen[n] {
			return
		}
		seen[n] = true
		g.Nodes = append(g.Nodes, GraphNode{Name: n.Name(), Kind: n.Kind()})
		for _, action := range n.Actions() {
			next, ok := n.Next(action)
			if !ok {
				continue
			}
			g.Edges = append(g.Edges, GraphEdge{From: n.Name(), To: next.Name(), Action: action})
			walk(next)
		}
	}
	walk(f.start)
	return g
}

// Mermaid renders the graph as a mermaid flowchart. Default edges carry no
// label; nodes with no edges are declared on their own so they stay
// visible.
func (g *Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD")

	connected := make(map[string]bool, len(g.Nodes))
	for _, e := range g.Edges {
		connected[e.From] = true
		connected[e.To] = true
	}
	for _, n := range g.Nodes {
		if !connected[n.Name] {
			fmt.Fprintf(&b, "\n    %s", n.Name)
		}
	}

	for _, e := range g.Edges {
		label := ""
		if e.Action != Default {
			label = fmt.Sprintf("|%s|", e.Action)
		}
		fmt.Fprintf(&b, "\n    %s -->%s %s", e.From, label, e.To)
	}
	return b.String()
}
