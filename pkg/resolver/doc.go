/*
Package resolver implements the fixed-point dependency resolver of
§4.3. Pass answers "which transitions are enabled right now"; Resolve
iterates Pass to a fixed point, guarding against non-convergence with
a pass-count ceiling tied to the component count — crossing it means
the static graph has a bug (a resolver oscillation), not that the
system is merely slow to settle.

The remaining exported queries (DetectCycles, TopologicalLayers,
Impact, ExportGraph) are read-only graph analyses over the same
Registry, used directly by pkg/control to answer diagnostic commands
like `tree`, `simulate-remove`, and `export-graph`.
*/
package resolver
