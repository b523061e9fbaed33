// Package crypto holds small, dependency-light primitives used by the
// signed-request verifier (pkg/signing), the runtime tool invoker
// (pkg/invoker), and the weight submission service (pkg/weights):
// canonical JSON marshaling and content hashing.
//
// Grounded on github.com/Mindburn-Labs/helm/core/pkg/crypto
// (canonical.go, hasher.go); CanonicalMarshal is kept nearly as-is since it
// already implements the sorted-key canonicalization pkg/invoker needs for
// request fingerprints. JCSMarshal layers github.com/gowebpki/jcs on top for
// the one payload (the published weight receipt, pkg/weights) that needs
// strict RFC 8785 canonical JSON rather than this package's simpler
// encoding, since that payload's bytes are what downstream auditors hash
// against the chain's own commitment.
package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalMarshal marshals v into canonical JSON:
//  1. map keys sorted lexicographically (Go's default)
//  2. no HTML escaping
//  3. compact, no trailing newline
func CanonicalMarshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "")

	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}

	ret := buf.Bytes()
	if len(ret) > 0 && ret[len(ret)-1] == '\n' {
		ret = ret[:len(ret)-1]
	}
	return ret, nil
}

// JCSMarshal marshals v to JSON, then transforms it to strict RFC 8785
// JSON Canonicalization Scheme form via github.com/gowebpki/jcs. Used
// where the canonical bytes themselves (not just their hash) need to be
// reproducible byte-for-byte across implementations, e.g. a weight
// submission receipt an external auditor re-derives independently.
func JCSMarshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs encoding failed: %w", err)
	}
	transformed, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs transform failed: %w", err)
	}
	return transformed, nil
}
