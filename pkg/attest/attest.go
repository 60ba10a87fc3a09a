// Package attest implements signed release attestations: a human
// reviewer's statement accepting responsibility for releasing a
// quarantined item. Signatures are Ed25519 over the canonical JSON form
// of the signed fields, so an attestation is independently verifiable
// from its own content plus the signer's public key.
package attest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

var (
	// ErrUnknownSigner means no trusted public key is registered for
	// the attestation's user.
	ErrUnknownSigner = errors.New("attest: unknown signer")

	// ErrBadSignature means the signature does not verify against the
	// attestation's own fields.
	ErrBadSignature = errors.New("attest: signature verification failed")
)

// Attestation is a signed statement by a human reviewer. Signature
// covers (UserID, Timestamp, Reason) and nothing else.
type Attestation struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Signature string    `json:"signature"`
}

// KeyProvider abstracts the signing backend, allowing an HSM or cloud
// KMS to replace the in-memory key.
type KeyProvider interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
}

// MemoryKeyProvider is an in-memory KeyProvider for development and tests.
type MemoryKeyProvider struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewMemoryKeyProvider generates a fresh Ed25519 keypair.
func NewMemoryKeyProvider() (*MemoryKeyProvider, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &MemoryKeyProvider{pub: pub, priv: priv}, nil
}

func (m *MemoryKeyProvider) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(m.priv, msg), nil
}

func (m *MemoryKeyProvider) PublicKey() ed25519.PublicKey {
	return m.pub
}

// Signer produces attestations for one reviewer identity.
type Signer struct {
	userID string
	keys   KeyProvider
}

// NewSigner binds a reviewer identity to a key provider.
func NewSigner(userID string, keys KeyProvider) *Signer {
	return &Signer{userID: userID, keys: keys}
}

// Attest signs a release statement at the given time.
func (s *Signer) Attest(reason string, ts time.Time) (*Attestation, error) {
	a := &Attestation{
		UserID:    s.userID,
		Timestamp: ts.UTC(),
		Reason:    reason,
	}

	msg, err := signingBytes(a)
	if err != nil {
		return nil, err
	}
	sig, err := s.keys.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("attest: sign: %w", err)
	}
	a.Signature = base64.StdEncoding.EncodeToString(sig)
	return a, nil
}

// Verifier checks attestations against a set of trusted reviewer keys.
type Verifier struct {
	trustedKeys map[string]ed25519.PublicKey
}

// NewVerifier creates a verifier with the given trusted keys, keyed by
// reviewer user id.
func NewVerifier(keys map[string]ed25519.PublicKey) *Verifier {
	return &Verifier{trustedKeys: keys}
}

// Trust registers a reviewer's public key.
func (v *Verifier) Trust(userID string, key ed25519.PublicKey) {
	if v.trustedKeys == nil {
		v.trustedKeys = make(map[string]ed25519.PublicKey)
	}
	v.trustedKeys[userID] = key
}

// Verify checks the attestation's signature against its own fields.
func (v *Verifier) Verify(a *Attestation) error {
	if a == nil {
		return fmt.Errorf("%w: nil attestation", ErrBadSignature)
	}

	pub, ok := v.trustedKeys[a.UserID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSigner, a.UserID)
	}

	sig, err := base64.StdEncoding.DecodeString(a.Signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature encoding", ErrBadSignature)
	}

	msg, err := signingBytes(a)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, msg, sig) {
		return ErrBadSignature
	}
	return nil
}

// signingBytes returns the canonical JSON of the signed fields.
// Signature itself is excluded.
func signingBytes(a *Attestation) ([]byte, error) {
	raw, err := json.Marshal(struct {
		UserID    string `json:"user_id"`
		Timestamp string `json:"timestamp"`
		Reason    string `json:"reason"`
	}{a.UserID, a.Timestamp.UTC().Format(time.RFC3339Nano), a.Reason})
	if err != nil {
		return nil, fmt.Errorf("attest: marshal signing payload: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("attest: canonicalize signing payload: %w", err)
	}
	return canonical, nil
}
