package vault

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsafe/phigate/pkg/attest"
	"github.com/clinsafe/phigate/pkg/kms"
	"github.com/clinsafe/phigate/pkg/ledger"
)

type fixture struct {
	vault  *Vault
	signer *attest.Signer
	store  *ledger.MemoryStore
}

func newFixture(t *testing.T, clock func() time.Time) *fixture {
	t.Helper()

	keys, err := kms.NewMemoryKMS()
	require.NoError(t, err)

	reviewerKeys, err := attest.NewMemoryKeyProvider()
	require.NoError(t, err)

	verifier := attest.NewVerifier(map[string]ed25519.PublicKey{
		"reviewer-1": reviewerKeys.PublicKey(),
	})

	store := ledger.NewMemoryStore()
	v, err := New(Options{
		Keys:     keys,
		Verifier: verifier,
		Ledger:   store,
		Clock:    clock,
	})
	require.NoError(t, err)

	return &fixture{
		vault:  v,
		signer: attest.NewSigner("reviewer-1", reviewerKeys),
		store:  store,
	}
}

func (f *fixture) attestation(t *testing.T) *attest.Attestation {
	t.Helper()
	a, err := f.signer.Attest("reviewed and approved for release", time.Now())
	require.NoError(t, err)
	return a
}

func TestQuarantineAndRelease_RoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item, err := f.vault.Quarantine(ctx, QuarantineRequest{Content: "secret", Reason: "critical-phi"})
	require.NoError(t, err)
	require.NotEmpty(t, item.ReleaseToken)
	assert.NotContains(t, string(item.Ciphertext), "secret")

	// Wrong token first.
	_, err = f.vault.Release(ctx, ReleaseRequest{
		ID: item.ID, Token: "deadbeef", Attestation: f.attestation(t),
	})
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Correct token and valid attestation.
	plaintext, err := f.vault.Release(ctx, ReleaseRequest{
		ID: item.ID, Token: item.ReleaseToken, Attestation: f.attestation(t),
	})
	require.NoError(t, err)
	assert.Equal(t, "secret", plaintext)

	// A second attempt with the same correct token fails without
	// re-deriving the plaintext.
	_, err = f.vault.Release(ctx, ReleaseRequest{
		ID: item.ID, Token: item.ReleaseToken, Attestation: f.attestation(t),
	})
	assert.ErrorIs(t, err, ErrAlreadyReleased)
}

func TestRelease_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.vault.Release(context.Background(), ReleaseRequest{
		ID: "missing", Token: "x", Attestation: f.attestation(t),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRelease_Expired(t *testing.T) {
	now := time.Date(2031, 6, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, func() time.Time { return now })
	ctx := context.Background()

	item, err := f.vault.Quarantine(ctx, QuarantineRequest{
		Content: "secret", Reason: "critical-phi", ExpiryHours: 1,
	})
	require.NoError(t, err)

	// Advance past expiry; the otherwise-correct release must fail.
	now = now.Add(2 * time.Hour)
	_, err = f.vault.Release(ctx, ReleaseRequest{
		ID: item.ID, Token: item.ReleaseToken, Attestation: f.attestation(t),
	})
	assert.ErrorIs(t, err, ErrExpired)
}

func TestRelease_InvalidAttestation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item, err := f.vault.Quarantine(ctx, QuarantineRequest{Content: "secret", Reason: "critical-phi"})
	require.NoError(t, err)

	// Attestation signed by an untrusted key.
	strangerKeys, err := attest.NewMemoryKeyProvider()
	require.NoError(t, err)
	stranger, err := attest.NewSigner("reviewer-9", strangerKeys).Attest("reason", time.Now())
	require.NoError(t, err)

	_, err = f.vault.Release(ctx, ReleaseRequest{
		ID: item.ID, Token: item.ReleaseToken, Attestation: stranger,
	})
	assert.ErrorIs(t, err, ErrInvalidAttestation)

	// Tampered attestation.
	good := f.attestation(t)
	good.Reason = "edited after signing"
	_, err = f.vault.Release(ctx, ReleaseRequest{
		ID: item.ID, Token: item.ReleaseToken, Attestation: good,
	})
	assert.ErrorIs(t, err, ErrInvalidAttestation)
}

func TestRelease_ExactlyOnceUnderContention(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item, err := f.vault.Quarantine(ctx, QuarantineRequest{Content: "secret", Reason: "critical-phi"})
	require.NoError(t, err)

	a := f.attestation(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.vault.Release(ctx, ReleaseRequest{
				ID: item.ID, Token: item.ReleaseToken, Attestation: a,
			}); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "release must succeed exactly once")
}

func TestList_ExposesNoSecrets(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item, err := f.vault.Quarantine(ctx, QuarantineRequest{Content: "secret", Reason: "critical-phi"})
	require.NoError(t, err)

	infos := f.vault.List()
	require.Len(t, infos, 1)
	assert.Equal(t, item.ID, infos[0].ID)
	assert.Equal(t, "critical-phi", infos[0].Reason)
	assert.False(t, infos[0].Released)
}

func TestPurge_InvalidatesExpiredTokens(t *testing.T) {
	now := time.Date(2031, 6, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, func() time.Time { return now })
	ctx := context.Background()

	expiring, err := f.vault.Quarantine(ctx, QuarantineRequest{
		Content: "a", Reason: "r", ExpiryHours: 1,
	})
	require.NoError(t, err)
	_, err = f.vault.Quarantine(ctx, QuarantineRequest{Content: "b", Reason: "r"})
	require.NoError(t, err)

	purged := f.vault.Purge(now.Add(2 * time.Hour))
	assert.Equal(t, 1, purged)

	// After purge, even the original token cannot release the item.
	now = now.Add(2 * time.Hour)
	_, err = f.vault.Release(ctx, ReleaseRequest{
		ID: expiring.ID, Token: expiring.ReleaseToken, Attestation: f.attestation(t),
	})
	assert.Error(t, err)
}

func TestVault_AuditMirrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item, err := f.vault.Quarantine(ctx, QuarantineRequest{Content: "secret", Reason: "critical-phi"})
	require.NoError(t, err)
	_, err = f.vault.Release(ctx, ReleaseRequest{
		ID: item.ID, Token: item.ReleaseToken, Attestation: f.attestation(t),
	})
	require.NoError(t, err)

	entries, err := f.store.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.ActionQuarantineCreated, entries[0].Action)
	assert.Equal(t, ledger.ActionQuarantineReleased, entries[1].Action)
}
