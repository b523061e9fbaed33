package signing_test

import (
	"context"
	"testing"
	"time"

	"github.com/caster-hub/validator-core/pkg/chain"
	"github.com/caster-hub/validator-core/pkg/runtime"
	"github.com/caster-hub/validator-core/pkg/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeFormatsThreeLines(t *testing.T) {
	msg := signing.Canonicalize("post", "/batch?x=1", []byte(`{"a":1}`))
	s := string(msg)
	assert.Contains(t, s, "POST\n/batch?x=1\n")
	// body hash is a 64-char hex sha256
	lines := len(s) - len("POST\n/batch?x=1\n")
	assert.Equal(t, 64, lines)
}

func TestCanonicalizeChangesOnByteFlip(t *testing.T) {
	a := signing.Canonicalize("POST", "/batch", []byte("body"))
	b := signing.Canonicalize("POST", "/batch", []byte("bodx"))
	assert.NotEqual(t, a, b)
}

func TestParseAuthorizationHeaderHappyPath(t *testing.T) {
	parsed, err := signing.ParseAuthorizationHeader(`Bittensor ss58="5Grwva...",sig="deadbeef"`)
	require.NoError(t, err)
	assert.Equal(t, "5Grwva...", parsed.SS58)
	assert.Equal(t, "deadbeef", parsed.SigHex)
}

func TestParseAuthorizationHeaderMissingScheme(t *testing.T) {
	_, err := signing.ParseAuthorizationHeader(`Basic foo`)
	require.Error(t, err)
	assert.Equal(t, runtime.ErrMalformedRequest, runtime.KindOf(err))
}

func TestParseAuthorizationHeaderMissingFields(t *testing.T) {
	_, err := signing.ParseAuthorizationHeader(`Bittensor ss58="5Grwva..."`)
	require.Error(t, err)
}

func TestVerifySignatureRejectsBadSS58(t *testing.T) {
	err := signing.VerifySignature("not-a-valid-address", []byte("msg"), "00")
	require.Error(t, err)
	assert.Equal(t, runtime.ErrMalformedRequest, runtime.KindOf(err))
}

func TestVerifySignatureRejectsBadHex(t *testing.T) {
	err := signing.VerifySignature("5Grwva...", []byte("msg"), "not-hex")
	require.Error(t, err)
}

func TestACLUnknownHotkey(t *testing.T) {
	fake := chain.NewFake()
	acl := signing.NewACL(fake, "owner-coldkey", time.Minute, 10)
	err := acl.CheckOwner(context.Background(), "unregistered-hotkey")
	require.Error(t, err)
	assert.Equal(t, runtime.ErrUnauthorized, runtime.KindOf(err))
}

func TestACLNotOwner(t *testing.T) {
	fake := chain.NewFake()
	fake.SetOwner("some-hotkey", "someone-elses-coldkey")
	acl := signing.NewACL(fake, "owner-coldkey", time.Minute, 10)
	err := acl.CheckOwner(context.Background(), "some-hotkey")
	require.Error(t, err)
	assert.Equal(t, runtime.ErrUnauthorized, runtime.KindOf(err))
}

func TestACLOwnerPasses(t *testing.T) {
	fake := chain.NewFake()
	fake.SetOwner("platform-hotkey", "owner-coldkey")
	acl := signing.NewACL(fake, "owner-coldkey", time.Minute, 10)
	err := acl.CheckOwner(context.Background(), "platform-hotkey")
	assert.NoError(t, err)
}

func TestACLCachesWithinTTL(t *testing.T) {
	fake := chain.NewFake()
	fake.SetOwner("platform-hotkey", "owner-coldkey")
	acl := signing.NewACL(fake, "owner-coldkey", time.Minute, 10)

	require.NoError(t, acl.CheckOwner(context.Background(), "platform-hotkey"))
	// Mutate ownership on the chain; a fresh cache entry should still
	// reflect the first lookup until the TTL elapses.
	fake.SetOwner("platform-hotkey", "someone-elses-coldkey")
	assert.NoError(t, acl.CheckOwner(context.Background(), "platform-hotkey"))
}
