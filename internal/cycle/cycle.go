// Package cycle implements the tri-color DFS cycle validator (spec §4.2).
// It runs once, before scheduling starts; its failure is fatal and no
// build work is performed.
package cycle

import (
	"strings"

	"github.com/ariamake/ariamake/internal/aerr"
	"github.com/ariamake/ariamake/internal/graph"
)

type color int

const (
	white color = iota
	gray
	black
)

// Validate walks g via a tri-color depth-first search. A back edge
// (a gray node reached again) is a cycle; a black successor is a
// cross/forward edge and is not a cycle — this is what makes diamond
// dependencies legal (spec §4.2). On failure it returns an
// *aerr.Error tagged aerr.Cycle whose Detail is the cycle path rendered
// as "a -> b -> c -> a".
func Validate(g *graph.Graph) error {
	colors := make([]color, g.NumNodes())
	var path []graph.NodeID

	var visit func(id graph.NodeID) error
	visit = func(id graph.NodeID) error {
		colors[id] = gray
		path = append(path, id)

		for _, depID := range g.Node(id).Dependencies() {
			switch colors[depID] {
			case white:
				if err := visit(depID); err != nil {
					return err
				}
			case gray:
				return cycleError(g, path, depID)
			case black:
				// cross/forward edge: fine, this is a diamond.
			}
		}

		path = path[:len(path)-1]
		colors[id] = black
		return nil
	}

	for _, n := range g.AllNodes() {
		if colors[n.ID] == white {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// cycleError reconstructs the offending path by slicing the path stack
// from the first occurrence of repeat to the top, then appending repeat
// again for readability (spec §4.2: "[name, name, …, first_name_repeated]").
func cycleError(g *graph.Graph, path []graph.NodeID, repeat graph.NodeID) error {
	start := 0
	for i, id := range path {
		if id == repeat {
			start = i
			break
		}
	}
	cycle := path[start:]

	names := make([]string, 0, len(cycle)+1)
	for _, id := range cycle {
		names = append(names, g.Node(id).Target.Name)
	}
	names = append(names, g.Node(repeat).Target.Name)

	return &aerr.Error{
		Tag:    aerr.Cycle,
		Detail: strings.Join(names, " -> "),
	}
}

// Path returns the cycle as a slice of target names when err was produced
// by Validate, or nil otherwise. Tests and diagnostics use this instead of
// parsing the rendered Detail string.
func Path(err error) []string {
	e, ok := err.(*aerr.Error)
	if !ok || e.Tag != aerr.Cycle || e.Detail == "" {
		return nil
	}
	return strings.Split(e.Detail, " -> ")
}
