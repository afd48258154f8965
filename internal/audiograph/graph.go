// Package audiograph turns a reconstructed timeline plus an effect list into
// a processing graph for the external media engine. Building is a pure
// transform: no I/O, no engine interaction, identical input always yields an
// identical graph.
package audiograph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyTimeline reports that the builder was handed a timeline with no
// entries. An empty window is a caller bug, not a playable graph.
var ErrEmptyTimeline = errors.New("audiograph: empty timeline")

// Input declares one engine input stream in declaration order.
type Input struct {
	// Path is a file path, stream URL, or a lavfi source expression.
	Path string

	// Args are input-side engine arguments preceding the input declaration,
	// e.g. a format selector or a duration bound for generated silence.
	Args []string
}

// Node is one filter invocation. Inputs reference either a declared engine
// input ("<index>:a") or a previous node's output label.
type Node struct {
	Filter string
	Inputs []string
	Output string
}

// Graph is the full processing graph: ordered inputs, ordered nodes, and the
// single sink label the engine maps to its output.
type Graph struct {
	Inputs []Input
	Nodes  []Node
	Sink   string
}

// FilterComplex serializes the node list into the engine's filter graph
// syntax.
func (g *Graph) FilterComplex() string {
	var sb strings.Builder
	for i, n := range g.Nodes {
		if i > 0 {
			sb.WriteByte(';')
		}
		for _, in := range n.Inputs {
			fmt.Fprintf(&sb, "[%s]", in)
		}
		sb.WriteString(n.Filter)
		fmt.Fprintf(&sb, "[%s]", n.Output)
	}
	return sb.String()
}

// Args renders the complete engine argument list for this graph: every input
// declaration in order, the filter graph, and the sink mapping.
func (g *Graph) Args() []string {
	var args []string
	for _, in := range g.Inputs {
		args = append(args, in.Args...)
		args = append(args, "-i", in.Path)
	}
	if len(g.Nodes) > 0 {
		args = append(args, "-filter_complex", g.FilterComplex())
		args = append(args, "-map", "["+g.Sink+"]")
	} else {
		args = append(args, "-map", g.Sink)
	}
	return args
}
