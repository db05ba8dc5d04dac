// Package registry holds the two append-only indexed tables described
// in §3: the capability registry (C2) and the component table (C3).
//
// Per §9 "Linked identifiers vs. indices", both tables are addressed
// by stable integer index rather than pointer or name lookup once a
// component or capability has been registered — indices never shift
// and are never recycled while any timer or in-flight event might
// still carry an old one. Removal (manifest reload dropping a
// component) tombstones the slot instead of compacting the slice.
//
// Registry is not safe for concurrent use. Per §5, it is mutated only
// from the single reactor goroutine; there is no lock to acquire
// because there is no second writer.
package registry

import (
	"fmt"

	"github.com/cuemby/initd/pkg/types"
)

// CapIndex addresses a row of the capability table.
type CapIndex int

// CompIndex addresses a row of the component table.
type CompIndex int

// NoProvider is the sentinel provider value for a capability nobody
// has claimed yet, or one intrinsic to the kernel rather than any
// managed component (§3 "sentinel for kernel-intrinsic capabilities").
const NoProvider CompIndex = -1

// Capability is one row of the capability table, §3 "Capability".
type Capability struct {
	Name     string
	Active   bool
	Degraded bool
	Provider CompIndex
}

// Registry is the combined capability registry and component table.
type Registry struct {
	caps      []Capability
	capByName map[string]CapIndex
	capTomb   []bool

	comps      []*types.Component
	compByName map[string]CompIndex
	compTomb   []bool

	// requires/provides are parallel to comps: requires[i] is the set
	// of capability indices component i requires, provides[i] the set
	// it provides.
	requires [][]CapIndex
	provides [][]CapIndex

	// declaredProvider is the static (manifest-declared) provider of
	// each capability, independent of runtime Active state. Cycle
	// detection (§4.3) walks this graph, not the dynamic Provider
	// field, because cycles are a property of the declared topology.
	declaredProvider map[CapIndex]CompIndex
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		capByName:        make(map[string]CapIndex),
		compByName:       make(map[string]CompIndex),
		declaredProvider: make(map[CapIndex]CompIndex),
	}
}

// DeclaredProvider returns the component that declares it provides
// capability idx, regardless of current runtime activation state.
func (r *Registry) DeclaredProvider(idx CapIndex) (CompIndex, bool) {
	c, ok := r.declaredProvider[idx]
	return c, ok
}

// capability returns the index of name, creating a new (inactive) row
// on first mention, per §3 "created on first mention".
func (r *Registry) capability(name string) CapIndex {
	if idx, ok := r.capByName[name]; ok {
		return idx
	}
	idx := CapIndex(len(r.caps))
	r.caps = append(r.caps, Capability{Name: name, Provider: NoProvider})
	r.capTomb = append(r.capTomb, false)
	r.capByName[name] = idx
	return idx
}

// Capability looks up a capability by name without creating it.
func (r *Registry) Capability(name string) (CapIndex, bool) {
	idx, ok := r.capByName[name]
	if !ok || r.capTomb[idx] {
		return 0, false
	}
	return idx, true
}

// CapabilityAt returns a copy of the capability row at idx.
func (r *Registry) CapabilityAt(idx CapIndex) Capability {
	return r.caps[idx]
}

// Capabilities returns every live capability row with its index.
func (r *Registry) Capabilities() map[CapIndex]Capability {
	out := make(map[CapIndex]Capability, len(r.caps))
	for i, c := range r.caps {
		if !r.capTomb[i] {
			out[CapIndex(i)] = c
		}
	}
	return out
}

// Component looks up a component by name.
func (r *Registry) Component(name string) (CompIndex, bool) {
	idx, ok := r.compByName[name]
	if !ok || r.compTomb[idx] {
		return 0, false
	}
	return idx, true
}

// ComponentAt returns the component record at idx.
func (r *Registry) ComponentAt(idx CompIndex) *types.Component {
	return r.comps[idx]
}

// Components returns every live component with its index.
func (r *Registry) Components() map[CompIndex]*types.Component {
	out := make(map[CompIndex]*types.Component, len(r.comps))
	for i, c := range r.comps {
		if !r.compTomb[i] {
			out[CompIndex(i)] = c
		}
	}
	return out
}

// Requires returns the capability indices component idx requires.
func (r *Registry) Requires(idx CompIndex) []CapIndex { return r.requires[idx] }

// Provides returns the capability indices component idx provides.
func (r *Registry) Provides(idx CompIndex) []CapIndex { return r.provides[idx] }

// AddComponent registers a new component and wires its requires/provides
// sets to capability rows, creating capability rows on first mention.
// Returns an error if a component with the same name is already live.
func (r *Registry) AddComponent(c *types.Component) (CompIndex, error) {
	if existing, ok := r.compByName[c.Name]; ok && !r.compTomb[existing] {
		return 0, fmt.Errorf("component %q already registered", c.Name)
	}

	idx := CompIndex(len(r.comps))
	r.comps = append(r.comps, c)
	r.compTomb = append(r.compTomb, false)
	r.compByName[c.Name] = idx

	reqIdx := make([]CapIndex, 0, len(c.Requires))
	for _, name := range c.Requires {
		reqIdx = append(reqIdx, r.capability(name))
	}
	r.requires = append(r.requires, reqIdx)

	provIdx := make([]CapIndex, 0, len(c.Provides))
	for _, name := range c.Provides {
		capIdx := r.capability(name)
		provIdx = append(provIdx, capIdx)
		if _, declared := r.declaredProvider[capIdx]; !declared {
			r.declaredProvider[capIdx] = idx
		}
	}
	r.provides = append(r.provides, provIdx)

	return idx, nil
}

// RemoveComponent tombstones a component's slot (manifest removal,
// §4.1 "destroyed on manifest removal after the process ... has been
// reaped"). The caller is responsible for having already reaped any
// process and withdrawn the component's provided capabilities.
func (r *Registry) RemoveComponent(idx CompIndex) {
	r.compTomb[idx] = true
	delete(r.compByName, r.comps[idx].Name)
}

// RequiresSatisfied reports whether every capability component idx
// requires is currently Active (§4.2 transition "all requires
// satisfied"). A degraded provider still counts as satisfying, per
// §4.6 and §9's resolution on the open question.
func (r *Registry) RequiresSatisfied(idx CompIndex) bool {
	for _, cap := range r.requires[idx] {
		if !r.caps[cap].Active {
			return false
		}
	}
	return true
}

// UnsatisfiedRequires returns the names of capabilities component idx
// requires but that are not currently active, for the control
// surface's "pending" operation.
func (r *Registry) UnsatisfiedRequires(idx CompIndex) []string {
	var missing []string
	for _, cap := range r.requires[idx] {
		if !r.caps[cap].Active {
			missing = append(missing, r.caps[cap].Name)
		}
	}
	return missing
}

// ActivateCapability marks a capability active under the given
// provider, atomically (from the caller's point of view — there is no
// intervening yield point) with the provider's promotion, per the
// global invariant of §3: "active implies provider refers to a
// component whose supervision state is ACTIVE or DEGRADED."
func (r *Registry) ActivateCapability(idx CapIndex, provider CompIndex) {
	r.caps[idx].Active = true
	r.caps[idx].Provider = provider
	r.caps[idx].Degraded = false
}

// DeactivateCapability marks a capability inactive, clearing its
// provider. Called when a component leaves a live state.
func (r *Registry) DeactivateCapability(idx CapIndex) {
	r.caps[idx].Active = false
	r.caps[idx].Provider = NoProvider
	r.caps[idx].Degraded = false
}

// SetDegraded sets the degraded flag on a capability without
// affecting its active bit, per §4.6: "In DEGRADED, provided
// capabilities remain active ... but the capability row's degraded
// flag is set."
func (r *Registry) SetDegraded(idx CapIndex, degraded bool) {
	r.caps[idx].Degraded = degraded
}

// WithdrawProvided deactivates every capability component idx
// provides, e.g. on exit, failure, or withdrawal.
func (r *Registry) WithdrawProvided(idx CompIndex) {
	for _, cap := range r.provides[idx] {
		if r.caps[cap].Provider == idx {
			r.DeactivateCapability(cap)
		}
	}
}

// ActivateProvided activates every capability component idx provides,
// pointing each at idx as provider.
func (r *Registry) ActivateProvided(idx CompIndex) {
	for _, cap := range r.provides[idx] {
		r.ActivateCapability(cap, idx)
	}
}

// ReverseDependencies returns the components that require capability
// name, for the control surface's "reverse-dependencies" operation.
func (r *Registry) ReverseDependencies(name string) []string {
	capIdx, ok := r.Capability(name)
	if !ok {
		return nil
	}
	var out []string
	for i, c := range r.comps {
		if r.compTomb[i] {
			continue
		}
		for _, req := range r.requires[i] {
			if req == capIdx {
				out = append(out, c.Name)
				break
			}
		}
	}
	return out
}
