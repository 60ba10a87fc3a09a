package attest

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttest_SignAndVerify(t *testing.T) {
	keys, err := NewMemoryKeyProvider()
	require.NoError(t, err)

	signer := NewSigner("reviewer-1", keys)
	a, err := signer.Attest("manually reviewed, no identifiable subject", time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, a.Signature)

	verifier := NewVerifier(map[string]ed25519.PublicKey{"reviewer-1": keys.PublicKey()})
	assert.NoError(t, verifier.Verify(a))
}

func TestVerify_RejectsTamperedFields(t *testing.T) {
	keys, err := NewMemoryKeyProvider()
	require.NoError(t, err)

	signer := NewSigner("reviewer-1", keys)
	a, err := signer.Attest("original reason", time.Now())
	require.NoError(t, err)

	verifier := NewVerifier(map[string]ed25519.PublicKey{"reviewer-1": keys.PublicKey()})

	tampered := *a
	tampered.Reason = "different reason"
	assert.ErrorIs(t, verifier.Verify(&tampered), ErrBadSignature)

	shifted := *a
	shifted.Timestamp = a.Timestamp.Add(time.Hour)
	assert.ErrorIs(t, verifier.Verify(&shifted), ErrBadSignature)
}

func TestVerify_UnknownSigner(t *testing.T) {
	keys, err := NewMemoryKeyProvider()
	require.NoError(t, err)

	signer := NewSigner("reviewer-2", keys)
	a, err := signer.Attest("reason", time.Now())
	require.NoError(t, err)

	verifier := NewVerifier(nil)
	assert.ErrorIs(t, verifier.Verify(a), ErrUnknownSigner)
}

func TestVerify_WrongKey(t *testing.T) {
	signingKeys, err := NewMemoryKeyProvider()
	require.NoError(t, err)
	otherKeys, err := NewMemoryKeyProvider()
	require.NoError(t, err)

	signer := NewSigner("reviewer-1", signingKeys)
	a, err := signer.Attest("reason", time.Now())
	require.NoError(t, err)

	verifier := NewVerifier(map[string]ed25519.PublicKey{"reviewer-1": otherKeys.PublicKey()})
	assert.ErrorIs(t, verifier.Verify(a), ErrBadSignature)
}
