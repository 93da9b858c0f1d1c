package ipld

import "errors"

// Codec and CID identity errors, per the model/codec error group.
var (
	ErrCanonicalization = errors.New("ipld: value cannot be canonically encoded")
	ErrUnsupportedTag    = errors.New("ipld: unsupported capsule tag")
	ErrHashMismatch      = errors.New("ipld: stored bytes do not match their CID")
	ErrCidParse          = errors.New("ipld: malformed CID")
	ErrCapsuleDecode     = errors.New("ipld: value is not a single-entry capsule map")
	ErrTruncated         = errors.New("ipld: truncated DAG-CBOR input")
	ErrNonCanonical      = errors.New("ipld: DAG-CBOR input is not in canonical form")
)
