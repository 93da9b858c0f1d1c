package argbridge

import (
	"context"
	"fmt"

	"github.com/fluxdag/fluxdag/internal/ipld"
)

// RawInvoker calls into an already-loaded Wasm component function using its
// native component-model argument and result shapes. A real implementation
// wraps a Wasm engine; Adapter exists so the worker never has to know the
// component type signatures itself.
type RawInvoker interface {
	InvokeRaw(ctx context.Context, module []byte, ability string, arg Arg) (Arg, error)
}

// Signature is the component-model input/output type pair registered for
// one ability (Wasm export name).
type Signature struct {
	In  Type
	Out Type
}

// Adapter bridges IPLD values to and from a RawInvoker's component-typed
// Args, using Signatures to know each ability's shape.
type Adapter struct {
	Raw        RawInvoker
	Signatures map[string]Signature
}

// NewAdapter builds an Adapter over raw, with signatures keyed by ability.
func NewAdapter(raw RawInvoker, signatures map[string]Signature) *Adapter {
	return &Adapter{Raw: raw, Signatures: signatures}
}

// Invoke converts input to the ability's registered Arg shape, calls Raw,
// and converts the result back to IPLD. Each call gets its own Tags stack,
// since a single invocation's tagged unions never span calls.
func (a *Adapter) Invoke(ctx context.Context, module []byte, ability string, input ipld.Value) (ipld.Value, error) {
	sig, ok := a.Signatures[ability]
	if !ok {
		return ipld.Value{}, fmt.Errorf("argbridge: no signature registered for ability %q", ability)
	}
	inTags := NewTags()
	arg, err := ToWasm(input, sig.In, inTags)
	if err != nil {
		return ipld.Value{}, fmt.Errorf("argbridge: convert input for %q: %w", ability, err)
	}
	result, err := a.Raw.InvokeRaw(ctx, module, ability, arg)
	if err != nil {
		return ipld.Value{}, err
	}
	outTags := NewTags()
	out, err := FromWasm(result, sig.Out, outTags)
	if err != nil {
		return ipld.Value{}, fmt.Errorf("argbridge: convert output for %q: %w", ability, err)
	}
	return out, nil
}
