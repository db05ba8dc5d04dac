/*
Package types defines the data model shared across initd: the manifest
schema loaded from disk, the in-memory Component record the supervisor
mutates, and the small supporting types (readiness/health policy,
isolation profile, restart window) referenced by pkg/manifest,
pkg/registry, pkg/supervisor, pkg/readiness, pkg/health, and
pkg/isolation.

A Manifest is what pkg/manifest parses from YAML. A Component is what
the rest of the system operates on after defaults have been
materialized — the two are intentionally distinct types so that the
zero-value ambiguity of YAML ("was this field omitted or explicitly
empty?") never leaks past the loader.
*/
package types
