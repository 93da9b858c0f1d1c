// Package model implements the content-addressed workflow data types:
// Resource, Instruction, Await, Task, Invocation, Receipt, WorkflowInfo,
// IndexedResources, and ExecutionGraph.
package model

import (
	"fmt"
	"strings"

	"github.com/fluxdag/fluxdag/internal/ipld"
)

// ResourceKind distinguishes a URL-addressed resource from a bare CID.
type ResourceKind int

const (
	ResourceURL ResourceKind = iota
	ResourceCIDKind
)

// allowed URL schemes per the Resource invariant in spec.md §3.
var allowedSchemes = map[string]bool{"ipfs": true, "http": true, "https": true, "data": true}

// Resource identifies something an Instruction acts on: a URL (scheme in
// ipfs/http(s)/data) or a raw CID. Two resources are equal iff their
// normalized text form is equal.
type Resource struct {
	kind ResourceKind
	url  string
	cid  ipld.CID
}

// ParseResourceURL validates and wraps a scheme-qualified resource URL.
func ParseResourceURL(raw string) (Resource, error) {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		// data: URLs have no "//" after the scheme.
		idx = strings.Index(raw, ":")
	}
	if idx < 0 {
		return Resource{}, fmt.Errorf("model: resource %q has no scheme", raw)
	}
	scheme := raw[:idx]
	if !allowedSchemes[scheme] {
		return Resource{}, fmt.Errorf("model: unsupported resource scheme %q", scheme)
	}
	return Resource{kind: ResourceURL, url: raw}, nil
}

// ResourceFromCID wraps a raw CID as a resource (e.g. an inline Wasm blob
// already present in a local blockstore).
func ResourceFromCID(c ipld.CID) Resource {
	return Resource{kind: ResourceCIDKind, cid: c}
}

func (r Resource) Kind() ResourceKind { return r.kind }
func (r Resource) URL() string        { return r.url }
func (r Resource) CID() ipld.CID      { return r.cid }

// Normalized returns the canonical text form used for equality and as a map
// key: the URL verbatim, or "cid:<text>" for CID resources.
func (r Resource) Normalized() string {
	if r.kind == ResourceCIDKind {
		return "cid:" + r.cid.String()
	}
	return r.url
}

func (r Resource) Equal(o Resource) bool {
	return r.Normalized() == o.Normalized()
}

// ToIPLD encodes a Resource as the capsule-free IPLD shape stored inside an
// Instruction: a single-entry map distinguishing url vs. link form.
func (r Resource) ToIPLD() ipld.Value {
	if r.kind == ResourceCIDKind {
		return ipld.Map(map[string]ipld.Value{"rsc": ipld.Link(r.cid)})
	}
	return ipld.Map(map[string]ipld.Value{"rsc": ipld.String(r.url)})
}

// ResourceFromIPLD decodes the shape produced by ToIPLD.
func ResourceFromIPLD(v ipld.Value) (Resource, error) {
	inner, ok := v.MapGet("rsc")
	if !ok {
		return Resource{}, fmt.Errorf("model: resource value missing %q", "rsc")
	}
	switch inner.Kind() {
	case ipld.KindLink:
		return ResourceFromCID(inner.AsLink()), nil
	case ipld.KindString:
		return ParseResourceURL(inner.AsString())
	default:
		return Resource{}, fmt.Errorf("model: resource value has unsupported kind")
	}
}
