// Package resolver implements the promise resolver (spec.md §4.3): it
// rewrites an Instruction's Input by substituting resolved task outputs,
// trying in turn an in-memory link map, the local receipt store, and a
// peer lookup (the order is the caller's choice — Resolve only takes a
// single composed lookup closure).
package resolver

import "errors"

var (
	// ErrLookupFailure wraps any error the caller's lookup closure returns;
	// it is fatal to the surrounding Resolve call (not the same as "not
	// found yet", which is reported via the lookup's ok=false return).
	ErrLookupFailure = errors.New("resolver: lookup failed")

	// ErrRecursionBudget is returned when an IPLD tree nests deeper than
	// the configured stack-growth budget.
	ErrRecursionBudget = errors.New("resolver: recursion budget exceeded")
)
