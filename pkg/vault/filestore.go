package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// persistedItem is the on-disk form of an Item. Unlike the listing
// view, it carries the release token, so the file must be protected
// like the keystore.
type persistedItem struct {
	ID            string     `json:"id"`
	Ciphertext    []byte     `json:"ciphertext"`
	Nonce         []byte     `json:"nonce"`
	Reason        string     `json:"reason"`
	QuarantinedAt time.Time  `json:"quarantined_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ReleaseToken  string     `json:"release_token"`
	Released      bool       `json:"released"`
}

// SaveFile writes the vault's items to path with 0600 permissions,
// allowing a vault to survive process restarts.
func (v *Vault) SaveFile(path string) error {
	v.mu.Lock()
	records := make([]persistedItem, 0, len(v.items))
	for _, item := range v.items {
		records = append(records, persistedItem{
			ID:            item.ID,
			Ciphertext:    item.Ciphertext,
			Nonce:         item.Nonce,
			Reason:        item.Reason,
			QuarantinedAt: item.QuarantinedAt,
			ExpiresAt:     item.ExpiresAt,
			ReleaseToken:  item.ReleaseToken,
			Released:      item.Released,
		})
	}
	v.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: marshal items: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("vault: write %s: %w", path, err)
	}
	return nil
}

// LoadFile merges items persisted at path into the vault. A missing
// file is not an error; it means an empty vault.
func (v *Vault) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("vault: read %s: %w", path, err)
	}

	var records []persistedItem
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("vault: parse %s: %w", path, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range records {
		r := records[i]
		v.items[r.ID] = &Item{
			ID:            r.ID,
			Ciphertext:    r.Ciphertext,
			Nonce:         r.Nonce,
			Reason:        r.Reason,
			QuarantinedAt: r.QuarantinedAt,
			ExpiresAt:     r.ExpiresAt,
			ReleaseToken:  r.ReleaseToken,
			Released:      r.Released,
		}
	}
	return nil
}
