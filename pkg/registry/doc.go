/*
Package registry implements the capability registry (C2) and
component table (C3) of §3: two append-only tables addressed by
stable integer index, plus the edges between them (a component's
requires/provides sets expressed as capability indices rather than
names, so the resolver never does a string lookup on its hot path).

Registry owns the authoritative Active/Degraded/Provider bits for
every capability. It does not decide when those bits should change —
that is pkg/resolver's and pkg/supervisor's job — it only enforces
that the change is atomic from any observer's point of view and that
indices are stable for the process lifetime.
*/
package registry
