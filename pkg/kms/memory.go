package kms

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
)

// MemoryKMS holds root keys in memory only. For tests and ephemeral
// deployments; nothing survives process exit.
type MemoryKMS struct {
	mu      sync.RWMutex
	keys    map[int][]byte
	version int
}

// NewMemoryKMS generates a fresh random root key.
func NewMemoryKMS() (*MemoryKMS, error) {
	root := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, root); err != nil {
		return nil, fmt.Errorf("kms: generate key: %w", err)
	}
	return &MemoryKMS{
		keys:    map[int][]byte{1: root},
		version: 1,
	}, nil
}

func (m *MemoryKMS) DeriveKey(purpose string) ([]byte, error) {
	m.mu.RLock()
	root := m.keys[m.version]
	m.mu.RUnlock()
	return deriveHKDF(root, purpose)
}

func (m *MemoryKMS) Rotate() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	root := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, root); err != nil {
		return 0, fmt.Errorf("kms: generate key: %w", err)
	}
	m.version++
	m.keys[m.version] = root
	return m.version, nil
}

func (m *MemoryKMS) ActiveVersion() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

var _ KeyManager = (*MemoryKMS)(nil)
