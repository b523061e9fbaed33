package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hasher produces a deterministic content hash for an arbitrary value.
type Hasher interface {
	Hash(v interface{}) (string, error)
}

// CanonicalHasher hashes the CanonicalMarshal encoding of v with SHA-256.
// Used by pkg/invoker for each receipt's request_fingerprint (spec §3),
// so the fingerprint is stable regardless of map key ordering.
type CanonicalHasher struct{}

func NewCanonicalHasher() *CanonicalHasher {
	return &CanonicalHasher{}
}

func (h *CanonicalHasher) Hash(v interface{}) (string, error) {
	b, err := CanonicalMarshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical serialization failed: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes SHA-256-hashes raw bytes without going through
// CanonicalMarshal. Used by pkg/signing for the signed-request body hash
// (spec §6: "METHOD \n PATH_QS \n SHA-256(body)") and by JCSHasher below.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// JCSHasher hashes the JCSMarshal (RFC 8785) encoding of v with SHA-256.
// Used for the weight submission receipt (pkg/weights), the one payload
// spec §4.11 treats as an externally-verifiable artifact rather than
// purely internal bookkeeping.
type JCSHasher struct{}

func NewJCSHasher() *JCSHasher {
	return &JCSHasher{}
}

func (h *JCSHasher) Hash(v interface{}) (string, error) {
	b, err := JCSMarshal(v)
	if err != nil {
		return "", fmt.Errorf("jcs serialization failed: %w", err)
	}
	return HashBytes(b), nil
}
