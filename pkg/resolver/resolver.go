// Package resolver implements the fixed-point dependency resolver
// (C4) of §4.3: single-pass promotion/demotion requests, iterated to a
// fixed point, plus the offline graph queries (cycle detection,
// topological layering, reverse dependencies, impact analysis, graph
// export) the control surface exposes.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/initd/pkg/log"
	"github.com/cuemby/initd/pkg/registry"
	"github.com/cuemby/initd/pkg/types"
)

// ActionKind is what a Pass asks the caller to do with a component.
type ActionKind int

const (
	// Promote requests INACTIVE -> STARTING.
	Promote ActionKind = iota
	// Demote requests a live state -> INACTIVE (a required capability
	// was withdrawn).
	Demote
)

// Action is one requested transition from a single Pass.
type Action struct {
	Index CompIndex
	Kind  ActionKind
}

type CompIndex = registry.CompIndex

// Resolver drives the fixed-point pass over a Registry. It never
// mutates Registry state itself — pkg/supervisor applies each Action
// and is responsible for updating component State and capability
// Active bits; Resolver only reads.
type Resolver struct {
	reg *registry.Registry
}

// New creates a Resolver bound to reg.
func New(reg *registry.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// Pass performs one single pass over every live component: components
// in INACTIVE whose requires are all satisfied are requested for
// promotion; components in a live state with an unsatisfied require
// are requested for demotion. Order is unspecified, per §4.3
// "Tie-breaks".
func (rs *Resolver) Pass() []Action {
	var actions []Action
	for idx, c := range rs.reg.Components() {
		switch {
		case c.State == types.StateInactive && rs.reg.RequiresSatisfied(idx):
			actions = append(actions, Action{Index: idx, Kind: Promote})
		case c.State.Live() && !rs.reg.RequiresSatisfied(idx):
			actions = append(actions, Action{Index: idx, Kind: Demote})
		}
	}
	return actions
}

// ErrNonConvergent is returned by Resolve when the number of passes
// exceeds the component count plus one without reaching a fixed point — per
// §4.3, "this is a design-time bug, not a runtime condition."
type ErrNonConvergent struct {
	Passes int
}

func (e *ErrNonConvergent) Error() string {
	return fmt.Sprintf("resolver did not converge after %d passes", e.Passes)
}

// Resolve repeatedly runs Pass, applying every Action via apply, until
// a pass reports zero changes. apply is expected to synchronously
// perform the state-machine transition (including any registry
// mutation) before Resolve runs the next Pass.
func (rs *Resolver) Resolve(apply func(Action)) (passes int, err error) {
	n := len(rs.reg.Components())
	logger := log.WithComponent("resolver")

	for {
		actions := rs.Pass()
		passes++
		if len(actions) == 0 {
			return passes, nil
		}
		if passes > n+1 {
			logger.Error().Int("passes", passes).Msg("resolver failed to converge")
			return passes, &ErrNonConvergent{Passes: passes}
		}
		for _, a := range actions {
			apply(a)
		}
	}
}

// Pending reports, for every INACTIVE component with an unmet
// requirement, the specific capabilities it is still waiting on — the
// control surface's "pending" operation.
func (rs *Resolver) Pending() map[string][]string {
	out := make(map[string][]string)
	for _, c := range rs.reg.Components() {
		if c.State != types.StateInactive {
			continue
		}
		idx, _ := rs.reg.Component(c.Name)
		if missing := rs.reg.UnsatisfiedRequires(idx); len(missing) > 0 {
			out[c.Name] = missing
		}
	}
	return out
}

// color is the three-color DFS marker of §4.3 "Cycle detection".
type color int

const (
	white color = iota
	gray
	black
)

// CycleReport describes one detected cycle for the control surface's
// detailed-report requirement.
type CycleReport struct {
	Components []string
	Edges      []string // "componentA --cap-x--> componentB" style edges
}

// DetectCycles runs a three-color depth-first traversal of the static
// component -> requires -> capability -> declared-provider graph.
// Every component participating in a cycle of length >= 2, or that
// requires a capability it itself provides, is returned in the
// cycleMembers set. reports gives one CycleReport per distinct cycle
// found.
func (rs *Resolver) DetectCycles() (cycleMembers map[CompIndex]bool, reports []CycleReport) {
	comps := rs.reg.Components()
	colors := make(map[CompIndex]color, len(comps))
	stack := make([]CompIndex, 0, len(comps))
	cycleMembers = make(map[CompIndex]bool)

	var indices []CompIndex
	for idx := range comps {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	var visit func(idx CompIndex)
	visit = func(idx CompIndex) {
		colors[idx] = gray
		stack = append(stack, idx)

		for _, capIdx := range rs.reg.Requires(idx) {
			provider, ok := rs.reg.DeclaredProvider(capIdx)
			if !ok {
				continue
			}

			if provider == idx {
				// A component requiring a capability it itself provides.
				cycleMembers[idx] = true
				reports = append(reports, CycleReport{
					Components: []string{comps[idx].Name},
					Edges:      []string{fmt.Sprintf("%s --%s--> %s", comps[idx].Name, rs.reg.CapabilityAt(capIdx).Name, comps[idx].Name)},
				})
				continue
			}

			switch colors[provider] {
			case white:
				visit(provider)
			case gray:
				// Back edge: a cycle through the stack from provider..idx.
				start := indexOf(stack, provider)
				cycle := append([]CompIndex{}, stack[start:]...)
				for _, m := range cycle {
					cycleMembers[m] = true
				}
				reports = append(reports, buildReport(rs.reg, cycle, capIdx))
			case black:
				// already fully explored, no cycle through here
			}
		}

		stack = stack[:len(stack)-1]
		colors[idx] = black
	}

	for _, idx := range indices {
		if colors[idx] == white {
			visit(idx)
		}
	}

	return cycleMembers, reports
}

func indexOf(stack []CompIndex, target CompIndex) int {
	for i, v := range stack {
		if v == target {
			return i
		}
	}
	return 0
}

func buildReport(reg *registry.Registry, cycle []CompIndex, closingCap CapIndex) CycleReport {
	names := make([]string, len(cycle))
	for i, idx := range cycle {
		names[i] = reg.ComponentAt(idx).Name
	}
	var edges []string
	for i := 0; i < len(cycle); i++ {
		from := cycle[i]
		to := cycle[(i+1)%len(cycle)]
		capName := ""
		for _, capIdx := range reg.Requires(from) {
			if provider, ok := reg.DeclaredProvider(capIdx); ok && provider == to {
				capName = reg.CapabilityAt(capIdx).Name
				break
			}
		}
		if i == len(cycle)-1 {
			capName = reg.CapabilityAt(closingCap).Name
		}
		edges = append(edges, fmt.Sprintf("%s --%s--> %s", reg.ComponentAt(from).Name, capName, reg.ComponentAt(to).Name))
	}
	return CycleReport{Components: names, Edges: edges}
}

type CapIndex = registry.CapIndex

// TopologicalLayers computes a Kahn's-algorithm layering of the
// component dependency graph: layer 0 has no (live, acyclic)
// dependencies, layer N depends only on layers < N. Returns an error
// if the graph contains a cycle — layering is undefined for a cyclic
// graph per §4.3.
func (rs *Resolver) TopologicalLayers() ([][]string, error) {
	comps := rs.reg.Components()

	// in-degree: number of distinct dependency edges pointing at idx
	// (idx requires a capability provided by some other component).
	indegree := make(map[CompIndex]int, len(comps))
	dependents := make(map[CompIndex][]CompIndex) // provider -> dependents
	for idx := range comps {
		indegree[idx] = 0
	}
	for idx := range comps {
		for _, capIdx := range rs.reg.Requires(idx) {
			provider, ok := rs.reg.DeclaredProvider(capIdx)
			if !ok || provider == idx {
				continue
			}
			indegree[idx]++
			dependents[provider] = append(dependents[provider], idx)
		}
	}

	var layers [][]string
	remaining := len(comps)
	frontier := make([]CompIndex, 0)
	for idx, d := range indegree {
		if d == 0 {
			frontier = append(frontier, idx)
		}
	}

	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool { return frontier[i] < frontier[j] })
		layerNames := make([]string, 0, len(frontier))
		var next []CompIndex
		for _, idx := range frontier {
			layerNames = append(layerNames, comps[idx].Name)
			remaining--
			for _, dep := range dependents[idx] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		layers = append(layers, layerNames)
		frontier = next
	}

	if remaining > 0 {
		return nil, fmt.Errorf("graph is cyclic: topological layering is undefined")
	}
	return layers, nil
}

// Impact returns the transitive closure of components that would lose
// a live requirement if target were withdrawn — the control surface's
// "simulate-remove" operation.
func (rs *Resolver) Impact(target CompIndex) []string {
	affected := make(map[CompIndex]bool)
	queue := []CompIndex{target}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for idx, c := range rs.reg.Components() {
			if affected[idx] || idx == cur {
				continue
			}
			if !c.State.Live() {
				continue
			}
			for _, capIdx := range rs.reg.Requires(idx) {
				if provider, ok := rs.reg.DeclaredProvider(capIdx); ok && provider == cur {
					affected[idx] = true
					queue = append(queue, idx)
					break
				}
			}
		}
	}

	names := make([]string, 0, len(affected))
	for idx := range affected {
		names = append(names, rs.reg.ComponentAt(idx).Name)
	}
	sort.Strings(names)
	return names
}

// ExportGraph renders the component/capability graph as Graphviz DOT,
// "a layout suitable for a visual renderer" per §4.3.
func (rs *Resolver) ExportGraph() string {
	var b strings.Builder
	b.WriteString("digraph initd {\n")
	b.WriteString("  rankdir=LR;\n")
	for idx, c := range rs.reg.Components() {
		shape := "box"
		if c.State == types.StateCycle {
			shape = "doublecircle"
		}
		fmt.Fprintf(&b, "  %q [shape=%s, label=%q];\n", c.Name, shape, fmt.Sprintf("%s\\n%s", c.Name, c.State))
		for _, capIdx := range rs.reg.Requires(idx) {
			if provider, ok := rs.reg.DeclaredProvider(capIdx); ok {
				fmt.Fprintf(&b, "  %q -> %q [label=%q];\n", c.Name, rs.reg.ComponentAt(provider).Name, rs.reg.CapabilityAt(capIdx).Name)
			}
		}
	}
	b.WriteString("}\n")
	return b.String()
}
