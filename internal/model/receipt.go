package model

import (
	"fmt"

	"github.com/fluxdag/fluxdag/internal/ipld"
)

// Receipt is the content-addressed record of one instruction's execution
// outcome: a pointer to the instruction, an ok/err task result, free-form
// metadata (with result.op recording the invoked Wasm function), and an
// optional issuer/proof for authenticated receipts.
type Receipt struct {
	Instruction ipld.CID
	Ok          bool
	Result      ipld.Value
	Meta        map[string]ipld.Value
	Issuer      string
	Proof       ipld.CID
}

// NewOkReceipt builds a successful receipt, recording op in its meta map.
func NewOkReceipt(instruction ipld.CID, op string, result ipld.Value) Receipt {
	return Receipt{
		Instruction: instruction,
		Ok:          true,
		Result:      result,
		Meta:        map[string]ipld.Value{"op": ipld.String(op)},
	}
}

// NewErrReceipt builds a failed receipt carrying an error message as its
// result.
func NewErrReceipt(instruction ipld.CID, op string, message string) Receipt {
	return Receipt{
		Instruction: instruction,
		Ok:          false,
		Result:      ipld.String(message),
		Meta:        map[string]ipld.Value{"op": ipld.String(op)},
	}
}

// Op returns the recorded result.op meta field, if present.
func (r Receipt) Op() string {
	if v, ok := r.Meta["op"]; ok {
		return v.AsString()
	}
	return ""
}

func (r Receipt) ToIPLD() (ipld.Value, error) {
	out := map[string]ipld.Value{"ins": ipld.Link(r.Instruction)}
	if r.Ok {
		out["out"] = ipld.Wrap("ok", r.Result)
	} else {
		out["out"] = ipld.Wrap("err", r.Result)
	}
	if len(r.Meta) > 0 {
		out["meta"] = ipld.Map(r.Meta)
	}
	if r.Issuer != "" {
		out["iss"] = ipld.String(r.Issuer)
	}
	if !r.Proof.IsZero() {
		out["prf"] = ipld.Link(r.Proof)
	}
	return ipld.Map(out), nil
}

func ReceiptFromIPLD(v ipld.Value) (Receipt, error) {
	insV, ok := v.MapGet("ins")
	if !ok || insV.Kind() != ipld.KindLink {
		return Receipt{}, fmt.Errorf("%w: receipt missing instruction link", ErrMissingField)
	}
	outV, ok := v.MapGet("out")
	if !ok {
		return Receipt{}, fmt.Errorf("%w: receipt missing out", ErrMissingField)
	}
	tag, inner, ok := outV.IsCapsule()
	if !ok {
		return Receipt{}, fmt.Errorf("%w: receipt out is not a capsule", ErrUnknownVariant)
	}
	r := Receipt{Instruction: insV.AsLink(), Result: inner}
	switch tag {
	case "ok":
		r.Ok = true
	case "err":
		r.Ok = false
	default:
		return Receipt{}, fmt.Errorf("%w: receipt out tag %q", ErrUnknownVariant, tag)
	}
	r.Meta = map[string]ipld.Value{}
	if metaV, ok := v.MapGet("meta"); ok {
		for i, k := range metaV.MapKeys() {
			r.Meta[k] = metaV.MapValues()[i]
		}
	}
	if issV, ok := v.MapGet("iss"); ok {
		r.Issuer = issV.AsString()
	}
	if prfV, ok := v.MapGet("prf"); ok {
		r.Proof = prfV.AsLink()
	}
	return r, nil
}

// CID computes the receipt's content identity.
func (r Receipt) CID() (ipld.CID, error) {
	v, err := r.ToIPLD()
	if err != nil {
		return ipld.CID{}, err
	}
	c, _, err := ipld.CIDOf(v, ipld.HashBlake2b256, ipld.CIDV1)
	return c, err
}

// Capsule wraps the receipt in its wire/DHT framing tag.
func (r Receipt) Capsule() (ipld.Value, error) {
	v, err := r.ToIPLD()
	if err != nil {
		return ipld.Value{}, err
	}
	return ipld.Wrap(ipld.TagReceipt, v), nil
}

// ReceiptFromCapsule unwraps and decodes a receipt capsule.
func ReceiptFromCapsule(v ipld.Value) (Receipt, error) {
	_, inner, err := ipld.Unwrap(v, ipld.TagReceipt)
	if err != nil {
		return Receipt{}, err
	}
	return ReceiptFromIPLD(inner)
}
