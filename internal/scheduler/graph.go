package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Iron-Ham/autodev/internal/errors"
)

// graph is the adjacency derived from the registered units' DependsOn lists.
// ids are kept in registration order so traversal and levels are deterministic.
type graph struct {
	ids        []string
	dependents map[string][]string // unit -> units that depend on it
	deps       map[string][]string // unit -> its dependencies
}

func newGraph(order []string, units map[string]*Unit) *graph {
	g := &graph{
		ids:        order,
		dependents: make(map[string][]string, len(order)),
		deps:       make(map[string][]string, len(order)),
	}
	for _, id := range order {
		for _, dep := range units[id].DependsOn {
			g.dependents[dep] = append(g.dependents[dep], id)
			g.deps[id] = append(g.deps[id], dep)
		}
	}
	return g
}

// checkDependencies reports every dependency id that does not name a
// registered unit.
func (g *graph) checkDependencies(units map[string]*Unit) error {
	var gerr *errors.GraphError
	for _, id := range g.ids {
		for _, dep := range g.deps[id] {
			if _, ok := units[dep]; ok {
				continue
			}
			if gerr == nil {
				gerr = errors.NewGraphError("dependency references unknown unit", errors.ErrUnknownDependency)
			}
			gerr.WithMissing(id, dep)
		}
	}
	if gerr == nil {
		return nil
	}
	return gerr
}

// findCycle runs a depth-first traversal over the forward adjacency and
// returns the first cycle found as a closed path (first element repeated at
// the end), or nil when the graph is acyclic.
func (g *graph) findCycle() []string {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(g.ids))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = onStack
		stack = append(stack, id)

		for _, next := range g.dependents[id] {
			switch state[next] {
			case unvisited:
				if visit(next) {
					return true
				}
			case onStack:
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string(nil), stack[i:]...), next)
						break
					}
				}
				return true
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, id := range g.ids {
		if state[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}

// levels computes the Kahn layering: level k holds every unit whose
// dependencies all lie in levels < k. Units within a level keep registration
// order. A unit that cannot be placed is reported as ErrGraphInconsistent.
func (g *graph) levels() ([][]string, error) {
	position := make(map[string]int, len(g.ids))
	inDegree := make(map[string]int, len(g.ids))
	for i, id := range g.ids {
		position[id] = i
		inDegree[id] = len(g.deps[id])
	}

	var current []string
	for _, id := range g.ids {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	var levels [][]string
	placed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		placed += len(current)

		var next []string
		for _, id := range current {
			for _, dependent := range g.dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool { return position[next[i]] < position[next[j]] })
		current = next
	}

	if placed != len(g.ids) {
		var stuck []string
		for _, id := range g.ids {
			if inDegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		msg := fmt.Sprintf("units could not be placed in any level: %s", strings.Join(stuck, ", "))
		return nil, errors.NewGraphError(msg, errors.ErrGraphInconsistent)
	}
	return levels, nil
}

// plan validates the graph and returns its levels. It fails with a
// GraphError when a dependency is unknown or the graph has a cycle.
func (g *graph) plan(units map[string]*Unit) ([][]string, error) {
	if err := g.checkDependencies(units); err != nil {
		return nil, err
	}
	if cycle := g.findCycle(); cycle != nil {
		return nil, errors.NewGraphError("cycle detected", errors.ErrDependencyCycle).WithCycle(cycle)
	}
	return g.levels()
}
