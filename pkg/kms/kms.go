// Package kms provides the key-management capability consumed by the
// quarantine vault. Keys are never embedded in source: the local
// implementation persists randomly generated root keys in a 0600
// keystore file, and consumers receive purpose-bound subkeys derived
// via HKDF so the root key never touches a cipher directly.
package kms

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the root and derived key length in bytes (AES-256).
const KeySize = 32

// KeyManager is the capability contract. Implementations may be backed
// by a file, an HSM, or a cloud KMS; the vault does not care.
type KeyManager interface {
	// DeriveKey returns a purpose-bound symmetric key. The same purpose
	// always yields the same key for a given root.
	DeriveKey(purpose string) ([]byte, error)

	// Rotate generates a new active root key. Old roots remain so
	// previously derived keys can be re-derived via DeriveKeyVersion.
	Rotate() (version int, err error)

	// ActiveVersion returns the current active root key version.
	ActiveVersion() int
}

// keystore is the on-disk JSON format for persisted root keys.
type keystore struct {
	ActiveVersion int               `json:"active_version"`
	Keys          map[string]string `json:"keys"` // version -> base64-encoded 32-byte key
}

// LocalKMS is a file-backed KeyManager with versioned root keys.
type LocalKMS struct {
	mu    sync.RWMutex
	store keystore
	path  string
	keys  map[int][]byte
}

// NewLocalKMS loads or creates a local keystore at the given path.
// If the file does not exist, a new root key (version 1) is generated.
func NewLocalKMS(keystorePath string) (*LocalKMS, error) {
	k := &LocalKMS{
		path: keystorePath,
		keys: make(map[int][]byte),
	}

	if _, err := os.Stat(keystorePath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(keystorePath), 0700); err != nil {
			return nil, fmt.Errorf("kms: create dir: %w", err)
		}

		root := make([]byte, KeySize)
		if _, err := io.ReadFull(rand.Reader, root); err != nil {
			return nil, fmt.Errorf("kms: generate key: %w", err)
		}

		k.store = keystore{
			ActiveVersion: 1,
			Keys:          map[string]string{"1": base64.StdEncoding.EncodeToString(root)},
		}
		k.keys[1] = root

		if err := k.persist(); err != nil {
			return nil, err
		}
		return k, nil
	}

	data, err := os.ReadFile(keystorePath)
	if err != nil {
		return nil, fmt.Errorf("kms: read keystore: %w", err)
	}
	if err := json.Unmarshal(data, &k.store); err != nil {
		return nil, fmt.Errorf("kms: parse keystore: %w", err)
	}

	for vStr, encoded := range k.store.Keys {
		v, err := strconv.Atoi(vStr)
		if err != nil {
			return nil, fmt.Errorf("kms: invalid version %q: %w", vStr, err)
		}
		root, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("kms: decode key v%d: %w", v, err)
		}
		if len(root) != KeySize {
			return nil, fmt.Errorf("kms: key v%d invalid length %d (need %d)", v, len(root), KeySize)
		}
		k.keys[v] = root
	}

	if _, ok := k.keys[k.store.ActiveVersion]; !ok {
		return nil, fmt.Errorf("kms: active version %d not in keystore", k.store.ActiveVersion)
	}
	return k, nil
}

// DeriveKey derives a purpose-bound subkey from the active root.
func (k *LocalKMS) DeriveKey(purpose string) ([]byte, error) {
	k.mu.RLock()
	root := k.keys[k.store.ActiveVersion]
	k.mu.RUnlock()
	return deriveHKDF(root, purpose)
}

// DeriveKeyVersion derives a purpose-bound subkey from a specific root
// version, for decrypting data sealed before a rotation.
func (k *LocalKMS) DeriveKeyVersion(purpose string, version int) ([]byte, error) {
	k.mu.RLock()
	root, ok := k.keys[version]
	k.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("kms: unknown key version %d", version)
	}
	return deriveHKDF(root, purpose)
}

// Rotate generates a new root key version and persists the keystore.
func (k *LocalKMS) Rotate() (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	newVersion := k.store.ActiveVersion + 1

	root := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, root); err != nil {
		return 0, fmt.Errorf("kms: generate key: %w", err)
	}

	k.store.Keys[strconv.Itoa(newVersion)] = base64.StdEncoding.EncodeToString(root)
	k.store.ActiveVersion = newVersion
	k.keys[newVersion] = root

	if err := k.persist(); err != nil {
		return 0, err
	}
	return newVersion, nil
}

// ActiveVersion returns the current active root key version.
func (k *LocalKMS) ActiveVersion() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.store.ActiveVersion
}

// persist writes the keystore to disk with restricted permissions.
func (k *LocalKMS) persist() error {
	data, err := json.MarshalIndent(k.store, "", "  ")
	if err != nil {
		return fmt.Errorf("kms: marshal keystore: %w", err)
	}
	if err := os.WriteFile(k.path, data, 0600); err != nil {
		return fmt.Errorf("kms: write keystore: %w", err)
	}
	return nil
}

func deriveHKDF(root []byte, purpose string) ([]byte, error) {
	if len(root) != KeySize {
		return nil, errors.New("kms: no active root key")
	}

	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, root, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("kms: derive key: %w", err)
	}
	return key, nil
}

var _ KeyManager = (*LocalKMS)(nil)
