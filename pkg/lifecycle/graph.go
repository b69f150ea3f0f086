package lifecycle

import (
	"fmt"
	"strings"
)

// Graph is a validated set of descriptors ordered by phase.
type Graph struct {
	phases     []Phase
	phaseIndex map[PhaseID]int
	byName     map[string]Descriptor
	members    map[PhaseID][]string
	order      []string
}

// NewGraph validates descriptors against phases. Every problem found is a
// *ConfigError; the first one is returned.
func NewGraph(phases []Phase, descriptors []Descriptor) (*Graph, error) {
	if len(phases) == 0 {
		return nil, &ConfigError{Detail: "no phases declared"}
	}

	g := &Graph{
		phases:     append([]Phase(nil), phases...),
		phaseIndex: make(map[PhaseID]int, len(phases)),
		byName:     make(map[string]Descriptor, len(descriptors)),
		members:    make(map[PhaseID][]string, len(phases)),
	}
	for i, p := range phases {
		if _, dup := g.phaseIndex[p.ID]; dup {
			return nil, &ConfigError{Detail: fmt.Sprintf("duplicate phase %q", p.Name)}
		}
		g.phaseIndex[p.ID] = i
	}

	for _, d := range descriptors {
		if strings.TrimSpace(d.Name) == "" {
			return nil, &ConfigError{Detail: "system with empty name"}
		}
		if _, dup := g.byName[d.Name]; dup {
			return nil, &ConfigError{System: d.Name, Detail: "duplicate system name"}
		}
		if _, ok := g.phaseIndex[d.Phase]; !ok {
			return nil, &ConfigError{System: d.Name, Detail: fmt.Sprintf("unknown phase %d", d.Phase)}
		}
		g.byName[d.Name] = d
		g.members[d.Phase] = append(g.members[d.Phase], d.Name)
	}

	for _, d := range descriptors {
		for _, dep := range d.DependsOn {
			if dep == d.Name {
				return nil, &ConfigError{System: d.Name, Detail: "depends on itself"}
			}
			if _, ok := g.byName[dep]; !ok {
				return nil, &ConfigError{System: d.Name, Detail: fmt.Sprintf("unknown dependency %q", dep)}
			}
		}
	}

	if cycle := g.findCycle(descriptors); cycle != nil {
		return nil, &ConfigError{System: cycle[0], Detail: "dependency cycle " + strings.Join(cycle, " -> ")}
	}

	for _, d := range descriptors {
		for _, dep := range d.DependsOn {
			if g.phaseIndex[g.byName[dep].Phase] >= g.phaseIndex[d.Phase] {
				return nil, &ConfigError{
					System: d.Name,
					Detail: fmt.Sprintf("dependency %q is not in an earlier phase", dep),
				}
			}
		}
	}

	for _, p := range g.phases {
		g.order = append(g.order, g.members[p.ID]...)
	}
	return g, nil
}

// findCycle returns the first dependency cycle as a closed path
// (a, b, a), or nil.
func (g *Graph) findCycle(descriptors []Descriptor) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	color := make(map[string]int, len(descriptors))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = visiting
		stack = append(stack, name)
		for _, dep := range g.byName[name].DependsOn {
			switch color[dep] {
			case visiting:
				for i, n := range stack {
					if n == dep {
						cycle := append([]string(nil), stack[i:]...)
						return append(cycle, dep)
					}
				}
			case unvisited:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = done
		return nil
	}

	for _, d := range descriptors {
		if color[d.Name] == unvisited {
			if c := visit(d.Name); c != nil {
				return c
			}
		}
	}
	return nil
}

// Phases returns the phases in initialization order.
func (g *Graph) Phases() []Phase {
	return append([]Phase(nil), g.phases...)
}

// Members returns the systems of a phase in declaration order.
func (g *Graph) Members(id PhaseID) []string {
	return append([]string(nil), g.members[id]...)
}

// Descriptor returns the descriptor for name.
func (g *Graph) Descriptor(name string) (Descriptor, bool) {
	d, ok := g.byName[name]
	return d, ok
}

// Order returns every system in initialization order.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Dependents returns the systems that depend directly on name.
func (g *Graph) Dependents(name string) []string {
	var out []string
	for _, n := range g.order {
		for _, dep := range g.byName[n].DependsOn {
			if dep == name {
				out = append(out, n)
				break
			}
		}
	}
	return out
}
