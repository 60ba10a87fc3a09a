// Package vault implements the encrypted quarantine store for content
// the final scan flags critical. Items are sealed with AES-256-GCM
// under a key derived from the injected key-management capability;
// release requires the item's single-use token plus a verified human
// attestation, and succeeds at most once. Ciphertext is retained
// permanently for audit, even after release.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinsafe/phigate/pkg/attest"
	"github.com/clinsafe/phigate/pkg/kms"
	"github.com/clinsafe/phigate/pkg/ledger"
)

// keyPurpose binds the vault's derived key to this use.
const keyPurpose = "phigate/vault"

var (
	ErrNotFound           = errors.New("vault: item not found")
	ErrAlreadyReleased    = errors.New("vault: item already released")
	ErrInvalidToken       = errors.New("vault: release token mismatch")
	ErrExpired            = errors.New("vault: item expired")
	ErrInvalidAttestation = errors.New("vault: attestation rejected")
)

// Item is a quarantined record. Ciphertext carries the GCM auth tag;
// Nonce is the per-item random IV. The release token is not exported
// in listings; it travels out-of-band to the authorized reviewer.
type Item struct {
	ID            string     `json:"id"`
	Ciphertext    []byte     `json:"ciphertext"`
	Nonce         []byte     `json:"nonce"`
	Reason        string     `json:"reason"`
	QuarantinedAt time.Time  `json:"quarantined_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ReleaseToken  string     `json:"-"`
	Released      bool       `json:"released"`
}

// ItemInfo is the listing view: metadata only, no token, no ciphertext.
type ItemInfo struct {
	ID            string     `json:"id"`
	Reason        string     `json:"reason"`
	QuarantinedAt time.Time  `json:"quarantined_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Released      bool       `json:"released"`
}

// QuarantineRequest describes content to seal.
type QuarantineRequest struct {
	Content     string
	Reason      string
	ExpiryHours int // 0 means no expiry
}

// ReleaseRequest describes a gated release attempt.
type ReleaseRequest struct {
	ID          string
	Token       string
	Attestation *attest.Attestation
}

// AttestationVerifier checks a reviewer's signed release statement.
// *attest.Verifier satisfies this.
type AttestationVerifier interface {
	Verify(a *attest.Attestation) error
}

// Vault seals and releases quarantined content. All item state is
// guarded by one mutex; the released flag transitions exactly once.
type Vault struct {
	mu       sync.Mutex
	aead     cipher.AEAD
	items    map[string]*Item
	verifier AttestationVerifier
	ledger   ledger.Ledger
	clock    func() time.Time
}

// Options configures a Vault.
type Options struct {
	Keys     kms.KeyManager
	Verifier AttestationVerifier
	// Ledger, when set, mirrors quarantine and release events into the
	// audit chain (best-effort).
	Ledger ledger.Ledger
	Clock  func() time.Time
}

// New derives the vault key from the key-management capability and
// prepares the cipher. There is no static key material in this package.
func New(opts Options) (*Vault, error) {
	if opts.Keys == nil {
		return nil, fmt.Errorf("vault: key manager is required")
	}
	if opts.Verifier == nil {
		return nil, fmt.Errorf("vault: attestation verifier is required")
	}

	key, err := opts.Keys.DeriveKey(keyPurpose)
	if err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Vault{
		aead:     aead,
		items:    make(map[string]*Item),
		verifier: opts.Verifier,
		ledger:   opts.Ledger,
		clock:    clock,
	}, nil
}

// Quarantine seals content and returns the stored item, including its
// single-use release token for out-of-band delivery.
func (v *Vault) Quarantine(ctx context.Context, req QuarantineRequest) (*Item, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}

	token := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, token); err != nil {
		return nil, fmt.Errorf("vault: token: %w", err)
	}

	now := v.clock().UTC()
	item := &Item{
		ID:            uuid.New().String(),
		Ciphertext:    v.aead.Seal(nil, nonce, []byte(req.Content), nil),
		Nonce:         nonce,
		Reason:        req.Reason,
		QuarantinedAt: now,
		ReleaseToken:  hex.EncodeToString(token),
	}
	if req.ExpiryHours > 0 {
		expires := now.Add(time.Duration(req.ExpiryHours) * time.Hour)
		item.ExpiresAt = &expires
	}

	v.mu.Lock()
	v.items[item.ID] = item
	v.mu.Unlock()

	v.record(ctx, ledger.ActionQuarantineCreated, item.ID, map[string]any{
		"reason":       req.Reason,
		"expiry_hours": req.ExpiryHours,
	})
	return item, nil
}

// QuarantineContent is the convenience form used by the final scan
// engine; it returns the new item's id.
func (v *Vault) QuarantineContent(ctx context.Context, content, reason string) (string, error) {
	item, err := v.Quarantine(ctx, QuarantineRequest{Content: content, Reason: reason})
	if err != nil {
		return "", err
	}
	return item.ID, nil
}

// Release performs the gated release. Checks run in order: existence,
// released flag, token, expiry, attestation. Any failure returns a
// typed error without decrypting or mutating state. Success decrypts,
// marks the item released exactly once, and returns the plaintext; the
// ciphertext stays in the vault.
func (v *Vault) Release(ctx context.Context, req ReleaseRequest) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	item, ok := v.items[req.ID]
	if !ok {
		return "", ErrNotFound
	}
	if item.Released {
		return "", ErrAlreadyReleased
	}
	if subtle.ConstantTimeCompare([]byte(item.ReleaseToken), []byte(req.Token)) != 1 {
		return "", ErrInvalidToken
	}
	if item.ExpiresAt != nil && v.clock().UTC().After(*item.ExpiresAt) {
		return "", ErrExpired
	}
	if err := v.verifier.Verify(req.Attestation); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAttestation, err)
	}

	plaintext, err := v.aead.Open(nil, item.Nonce, item.Ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("vault: decrypt: %w", err)
	}
	item.Released = true

	v.record(ctx, ledger.ActionQuarantineReleased, item.ID, map[string]any{
		"reason":      item.Reason,
		"released_by": req.Attestation.UserID,
	})
	return string(plaintext), nil
}

// List returns metadata for every item, newest last. Neither tokens nor
// content are exposed.
func (v *Vault) List() []ItemInfo {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]ItemInfo, 0, len(v.items))
	for _, item := range v.items {
		out = append(out, ItemInfo{
			ID:            item.ID,
			Reason:        item.Reason,
			QuarantinedAt: item.QuarantinedAt,
			ExpiresAt:     item.ExpiresAt,
			Released:      item.Released,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].QuarantinedAt.Equal(out[j].QuarantinedAt) {
			return out[i].QuarantinedAt.Before(out[j].QuarantinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Purge invalidates the release tokens of expired unreleased items.
// Ciphertext is retained for audit.
func (v *Vault) Purge(now time.Time) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	purged := 0
	for _, item := range v.items {
		if item.Released || item.ExpiresAt == nil {
			continue
		}
		if now.UTC().After(*item.ExpiresAt) && item.ReleaseToken != "" {
			item.ReleaseToken = ""
			purged++
		}
	}
	return purged
}

// record mirrors a vault event into the audit chain, best-effort.
func (v *Vault) record(ctx context.Context, action ledger.Action, subjectID string, details map[string]any) {
	if v.ledger == nil {
		return
	}
	_, _ = v.ledger.Append(ctx, action, subjectID, details)
}
