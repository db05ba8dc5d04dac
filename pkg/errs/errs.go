// Package errs implements the six-kind error taxonomy of §7:
// configuration, transient resource, policy, external-tool,
// kernel-API, and unrecoverable reactor errors. Every kind wraps its
// underlying cause the same way the rest of this module does
// (fmt.Errorf("...: %w", err)), but also carries a Kind so callers at
// the supervisor and control layers can branch on failure category
// without string-matching error text.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of §7's six error categories.
type Kind string

const (
	// Configuration covers a malformed manifest or an unknown
	// capability reference; surfaced via log, never fatal.
	Configuration Kind = "configuration"
	// Transient is a resource failure expected to clear on its own,
	// e.g. a fork failure under memory pressure; retried under the
	// restart rate limiter.
	Transient Kind = "transient-resource"
	// Policy is a self-inflicted refusal: a rate limit hit, or a
	// component that is a declared cycle participant.
	Policy Kind = "policy"
	// ExternalTool is a failure of a collaborator invoked via exec,
	// e.g. the checkpoint tool; forces a fallback through the
	// upgrade ladder rather than failing the operation outright.
	ExternalTool Kind = "external-tool"
	// KernelAPI is a failed syscall: descriptor passing, namespace
	// setup, cgroup writes. Aborts the specific operation.
	KernelAPI Kind = "kernel-api"
	// UnrecoverableReactor is the one kind that ends normal
	// operation: the reactor's own wait primitive failed. There is
	// no fallback below this; pkg/reactor's Failsafe takes over.
	UnrecoverableReactor Kind = "unrecoverable-reactor"
)

// Error pairs a Kind with the operation that failed and the
// underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// New wraps err as a Kind-tagged Error attributed to op. A nil err
// still produces a valid Error (e.g. a policy refusal with no
// underlying cause, like a bare rate-limit hit).
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is (or wraps) an *Error tagged with kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Of returns the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise — for callers that want to branch on
// every kind at once rather than probing with Is per kind.
func Of(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
