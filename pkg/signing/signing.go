// Package signing verifies Bittensor-style signed requests at the
// control plane boundary: canonicalization, Authorization header
// parsing, sr25519 signature verification, and an owner-hotkey ACL
// backed by the chain client (spec §4.7, §6).
//
// Grounded on _examples/original_source's
// validator/src/caster_validator/infrastructure/auth/header.py for the
// canonicalization string and header grammar, and on the teacher's
// github.com/Mindburn-Labs/helm/core/pkg/crypto for the
// "canonicalize-then-hash" shape reused here for the request fingerprint.
// Signature verification uses github.com/vedhavyas/go-subkey/v2 (sr25519 +
// ss58), an out-of-pack ecosystem dependency named in SPEC_FULL.md since
// no example repo touches Substrate-family signatures.
package signing

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vedhavyas/go-subkey/v2"
	"github.com/vedhavyas/go-subkey/v2/sr25519"

	"github.com/caster-hub/validator-core/pkg/chain"
	"github.com/caster-hub/validator-core/pkg/crypto"
	"github.com/caster-hub/validator-core/pkg/runtime"
)

// Canonicalize builds the exact byte sequence that gets signed:
// "METHOD \n PATH_QS \n SHA256(body)" (spec §6). The body hash goes
// through pkg/crypto.HashBytes rather than a locally inlined
// crypto/sha256 call, so every SHA-256 content hash in this service
// (request bodies here, receipts and fingerprints elsewhere) is computed
// the same way.
func Canonicalize(method, pathAndQuery string, body []byte) []byte {
	s := fmt.Sprintf("%s\n%s\n%s", strings.ToUpper(method), pathAndQuery, crypto.HashBytes(body))
	return []byte(s)
}

// ParsedAuth is the decoded form of an `Authorization: Bittensor
// ss58="...",sig="..."` header (SPEC_FULL supplement #8: header parsing
// is independent of verification).
type ParsedAuth struct {
	SS58 string
	SigHex string
}

// ParseAuthorizationHeader parses the Bittensor scheme. Returns
// ErrMalformedRequest (kind "malformed_header") on any deviation.
func ParseAuthorizationHeader(header string) (ParsedAuth, error) {
	const prefix = "Bittensor "
	if !strings.HasPrefix(header, prefix) {
		return ParsedAuth{}, runtime.New(runtime.ErrMalformedRequest, "malformed_header: missing Bittensor scheme")
	}
	rest := strings.TrimPrefix(header, prefix)

	fields := map[string]string{}
	for _, part := range strings.Split(rest, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			return ParsedAuth{}, runtime.New(runtime.ErrMalformedRequest, "malformed_header: bad field %q", part)
		}
		key := kv[0]
		val := strings.Trim(kv[1], `"`)
		fields[key] = val
	}

	ss58, ok := fields["ss58"]
	if !ok || ss58 == "" {
		return ParsedAuth{}, runtime.New(runtime.ErrMalformedRequest, "malformed_header: missing ss58")
	}
	sig, ok := fields["sig"]
	if !ok || sig == "" {
		return ParsedAuth{}, runtime.New(runtime.ErrMalformedRequest, "malformed_header: missing sig")
	}
	return ParsedAuth{SS58: ss58, SigHex: strings.ToLower(sig)}, nil
}

// VerifySignature checks sig (hex) against message under the sr25519
// public key encoded in ss58. Returns ErrMalformedRequest (kind
// "bad_signature") on any decode or verification failure.
func VerifySignature(ss58Address string, message []byte, sigHex string) error {
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return runtime.New(runtime.ErrMalformedRequest, "bad_signature: sig is not valid hex")
	}
	pubKeyBytes, _, err := subkey.SS58Decode(ss58Address)
	if err != nil {
		return runtime.New(runtime.ErrMalformedRequest, "bad_signature: invalid ss58 address")
	}
	scheme := sr25519.Scheme{}
	verifier, err := scheme.FromPublicKey(pubKeyBytes)
	if err != nil {
		return runtime.New(runtime.ErrMalformedRequest, "bad_signature: invalid sr25519 public key")
	}
	if !verifier.Verify(message, sigBytes) {
		return runtime.New(runtime.ErrMalformedRequest, "bad_signature: signature does not verify")
	}
	return nil
}

// aclCacheEntry is one resolved (hotkey -> coldkey) lookup with its
// fetch time, for the TTL cache (spec §4.7: default 300s, capacity 1024).
type aclCacheEntry struct {
	coldkey  string
	ok       bool
	fetchedAt time.Time
}

// ACL resolves whether a ss58 hotkey is owned by the configured coldkey,
// backed by the chain client and a bounded TTL cache.
type ACL struct {
	client        chain.Client
	ownerColdkey  string
	ttl           time.Duration
	capacity      int

	mu    sync.Mutex
	cache map[string]aclCacheEntry
	order []string // fifo eviction order
}

// NewACL constructs an ACL requiring the resolved coldkey to equal
// ownerColdkey (the platform's subnet-owner coldkey, spec §6).
func NewACL(client chain.Client, ownerColdkey string, ttl time.Duration, capacity int) *ACL {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	if capacity <= 0 {
		capacity = 1024
	}
	return &ACL{
		client:       client,
		ownerColdkey: ownerColdkey,
		ttl:          ttl,
		capacity:     capacity,
		cache:        make(map[string]aclCacheEntry),
	}
}

// CheckOwner resolves hotkeySS58's coldkey (via cache or chain client)
// and verifies it matches the configured owner. Failures are
// ErrUnauthorized with kind "unknown_hotkey" or "not_owner".
func (a *ACL) CheckOwner(ctx context.Context, hotkeySS58 string) error {
	a.mu.Lock()
	entry, ok := a.cache[hotkeySS58]
	fresh := ok && time.Since(entry.fetchedAt) < a.ttl
	a.mu.Unlock()

	if !fresh {
		coldkey, found, err := a.client.ColdkeyOf(ctx, hotkeySS58)
		if err != nil {
			return runtime.Wrap(runtime.ErrUnauthorized, err, "unknown_hotkey: chain lookup failed for %s", hotkeySS58)
		}
		entry = aclCacheEntry{coldkey: coldkey, ok: found, fetchedAt: time.Now()}
		a.store(hotkeySS58, entry)
	}

	if !entry.ok {
		return runtime.New(runtime.ErrUnauthorized, "unknown_hotkey: %s is not a registered hotkey", hotkeySS58)
	}
	if entry.coldkey != a.ownerColdkey {
		return runtime.New(runtime.ErrUnauthorized, "not_owner: hotkey %s is owned by %s, not %s", hotkeySS58, entry.coldkey, a.ownerColdkey)
	}
	return nil
}

func (a *ACL) store(key string, entry aclCacheEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.cache[key]; !exists {
		if len(a.order) >= a.capacity {
			oldest := a.order[0]
			a.order = a.order[1:]
			delete(a.cache, oldest)
		}
		a.order = append(a.order, key)
	}
	a.cache[key] = entry
}

// Verify performs the full signed-request check: parse header,
// canonicalize, verify signature, then apply the owner ACL.
func Verify(ctx context.Context, acl *ACL, method, pathAndQuery string, body []byte, authHeader string) (ss58 string, err error) {
	parsed, err := ParseAuthorizationHeader(authHeader)
	if err != nil {
		return "", err
	}
	msg := Canonicalize(method, pathAndQuery, body)
	if err := VerifySignature(parsed.SS58, msg, parsed.SigHex); err != nil {
		return "", err
	}
	if err := acl.CheckOwner(ctx, parsed.SS58); err != nil {
		return "", err
	}
	return parsed.SS58, nil
}
