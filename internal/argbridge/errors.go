// Package argbridge projects IPLD values onto the closed set of Wasm
// component types (bool, integers, floats, char, string, list, tuple,
// record, union, option, result) and back, per the contract table in
// spec.md §4.2. This is the hardest correctness surface in the system: a
// round trip from_wasm(to_wasm(v, T)) must reproduce v for every v whose
// shape T can express.
package argbridge

import (
	"errors"
	"fmt"
)

var (
	ErrIntegerOverflow     = errors.New("argbridge: integer overflow for target type")
	ErrFloatPrecision      = errors.New("argbridge: float precision loss converting to target type")
	ErrNoDiscriminantMatch = errors.New("argbridge: no union arm matched the value")
	ErrTagsEmpty           = errors.New("argbridge: tags stack is empty")
)

// TypeMismatch reports that an IPLD value's shape could not be projected
// onto (or reconstructed from) the expected Wasm type.
type TypeMismatch struct {
	Expected Kind
	Given    string
}

func (e *TypeMismatch) Error() string {
	return fmt.Sprintf("argbridge: type mismatch: expected %s, given %s", e.Expected, e.Given)
}

func mismatch(expected Kind, given string) error {
	return &TypeMismatch{Expected: expected, Given: given}
}
