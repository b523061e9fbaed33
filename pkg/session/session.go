// Package session tracks evaluation sessions and the bearer tokens that
// authenticate a sandboxed candidate's calls back into the runtime tool
// invoker (spec §3, §4.4).
//
// Grounded on github.com/Mindburn-Labs/helm/core/pkg/identity (keyset.go)
// for the pattern of minting a short-lived JWT bearer via
// github.com/golang-jwt/jwt/v5, and on
// github.com/Mindburn-Labs/helm/core/pkg/runtime/sandbox (broker.go) for
// the shape of a scoped, short-lived credential issued per sandbox
// deployment. Token storage uses golang.org/x/crypto/blake2b per spec §3
// ("TokenRecord... BLAKE2b-256 hex of the raw bearer token") rather than
// the teacher's SHA-256, since the spec pins the hash algorithm.
package session

import (
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/caster-hub/validator-core/pkg/runtime"
)

// Status is a session's lifecycle state (spec §3). Terminal states are
// absorbing; only the evaluation worker transitions a session.
type Status string

const (
	StatusIssued    Status = "ISSUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Session is one sandbox run against one claim for one candidate uid.
type Session struct {
	SessionID string
	UID       int
	ClaimID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Status    Status
}

// Registry is a thread-safe session store. The evaluation worker is the
// sole mutator of Status (spec §3).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create mints a new session in ISSUED status.
func (r *Registry) Create(uid int, claimID string, ttl time.Duration) *Session {
	now := time.Now()
	s := &Session{
		SessionID: uuid.NewString(),
		UID:       uid,
		ClaimID:   claimID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		Status:    StatusIssued,
	}
	r.mu.Lock()
	r.sessions[s.SessionID] = s
	r.mu.Unlock()
	return s
}

// Get loads a session, failing with ErrSessionInvalid when unknown or
// expired (spec §4.4).
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, runtime.New(runtime.ErrSessionInvalid, "unknown session %s", sessionID)
	}
	if time.Now().After(s.ExpiresAt) {
		return nil, runtime.New(runtime.ErrSessionInvalid, "session %s expired", sessionID)
	}
	return s, nil
}

// Transition moves a session to a new status. Transitions out of a
// terminal state are rejected (spec §3: "Terminal states are absorbing").
func (r *Registry) Transition(sessionID string, next Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return runtime.New(runtime.ErrSessionInvalid, "unknown session %s", sessionID)
	}
	if s.Status.Terminal() {
		return runtime.New(runtime.ErrFatalInvariant, "session %s already terminal (%s)", sessionID, s.Status)
	}
	s.Status = next
	return nil
}

// Revoke removes a session from the registry (called alongside token
// revocation once a session reaches a terminal state).
func (r *Registry) Revoke(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// TokenRegistry maps session_id -> BLAKE2b-256(raw_token); raw tokens are
// never stored (spec §3, §8 "Token hashing" property).
type TokenRegistry struct {
	mu     sync.RWMutex
	hashes map[string][32]byte
}

func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{hashes: make(map[string][32]byte)}
}

func hashToken(raw string) [32]byte {
	return blake2b.Sum256([]byte(raw))
}

// Register stores hash(rawToken) for sessionID; the caller keeps the raw
// token to hand to the sandbox.
func (t *TokenRegistry) Register(sessionID, rawToken string) {
	h := hashToken(rawToken)
	t.mu.Lock()
	t.hashes[sessionID] = h
	t.mu.Unlock()
}

// Verify hashes presented and compares in constant time against the
// stored hash for sessionID.
func (t *TokenRegistry) Verify(sessionID, presented string) bool {
	t.mu.RLock()
	want, ok := t.hashes[sessionID]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	got := hashToken(presented)
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

// Revoke removes a session's token hash.
func (t *TokenRegistry) Revoke(sessionID string) {
	t.mu.Lock()
	delete(t.hashes, sessionID)
	t.mu.Unlock()
}

// HashHex returns the hex-encoded BLAKE2b-256 hash of raw, for logging
// and audit without ever persisting the raw value.
func HashHex(raw string) string {
	h := hashToken(raw)
	return hex.EncodeToString(h[:])
}

// claims is the JWT payload minted for a session's bearer token.
type claims struct {
	SessionID string `json:"sid"`
	UID       int    `json:"uid"`
	jwt.RegisteredClaims
}

// Minter issues signed bearer tokens for sessions. The signing key is
// process-local: the token only needs to be verified by this validator's
// own token registry, which re-derives the hash rather than re-verifying
// the JWT signature on every call — the JWT format buys a
// self-describing, inspectable token without adding a second trust
// boundary (spec §4.4 treats the bearer token as an opaque raw string
// hashed at registration).
type Minter struct {
	signingKey []byte
}

func NewMinter(signingKey []byte) *Minter {
	return &Minter{signingKey: signingKey}
}

// Mint produces a signed bearer token for sessionID, valid until expiresAt.
func (m *Minter) Mint(sessionID string, uid int, expiresAt time.Time) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		SessionID: sessionID,
		UID:       uid,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.NewString(),
		},
	})
	signed, err := tok.SignedString(m.signingKey)
	if err != nil {
		return "", runtime.Wrap(runtime.ErrFatalInvariant, err, "signing session bearer token")
	}
	return signed, nil
}
