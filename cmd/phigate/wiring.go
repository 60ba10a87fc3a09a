package main

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver (cgo-free)

	"github.com/clinsafe/phigate/pkg/attest"
	"github.com/clinsafe/phigate/pkg/config"
	"github.com/clinsafe/phigate/pkg/kms"
	"github.com/clinsafe/phigate/pkg/ledger"
	"github.com/clinsafe/phigate/pkg/vault"
)

// openLedger connects the SQL-backed audit store. Postgres URLs go to
// lib/pq; everything else is treated as a local sqlite DSN.
func openLedger(ctx context.Context, cfg *config.Config) (*sql.DB, *ledger.SQLStore, error) {
	driver := "sqlite"
	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		driver = "postgres"
	}

	db, err := sql.Open(driver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", driver, err)
	}

	store := ledger.NewSQLStore(db)
	if err := store.Init(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init audit store: %w", err)
	}
	return db, store, nil
}

// auditLedger wraps the SQL store and, when PHIGATE_AUDIT_PATH is set,
// tees every appended entry into a line-oriented sink file.
func auditLedger(ctx context.Context, cfg *config.Config) (ledger.Ledger, func(), error) {
	db, store, err := openLedger(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	if cfg.AuditPath == "" {
		return store, func() { db.Close() }, nil
	}

	f, err := os.OpenFile(cfg.AuditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open audit sink: %w", err)
	}

	tee := &teeLedger{primary: store, sink: ledger.NewSinkWithWriter(f)}
	cleanup := func() {
		f.Close()
		db.Close()
	}
	return tee, cleanup, nil
}

// teeLedger appends to the primary store and mirrors successful entries
// into a sink.
type teeLedger struct {
	primary ledger.Ledger
	sink    *ledger.Sink
}

func (t *teeLedger) Append(ctx context.Context, action ledger.Action, subjectID string, details map[string]any) (*ledger.Entry, error) {
	entry, err := t.primary.Append(ctx, action, subjectID, details)
	if err != nil {
		return nil, err
	}
	t.sink.Handle(entry)
	return entry, nil
}

func (t *teeLedger) Entries(ctx context.Context) ([]*ledger.Entry, error) {
	return t.primary.Entries(ctx)
}

func (t *teeLedger) Head(ctx context.Context) (string, error) {
	return t.primary.Head(ctx)
}

// openVault assembles the quarantine vault from the local keystore, the
// trusted reviewer keys, and the persisted item file.
func openVault(cfg *config.Config, auditor ledger.Ledger) (*vault.Vault, error) {
	keys, err := kms.NewLocalKMS(cfg.KeystorePath)
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}

	trusted, err := loadTrust(cfg.TrustPath)
	if err != nil {
		return nil, err
	}

	v, err := vault.New(vault.Options{
		Keys:     keys,
		Verifier: attest.NewVerifier(trusted),
		Ledger:   auditor,
	})
	if err != nil {
		return nil, err
	}
	if err := v.LoadFile(cfg.VaultPath); err != nil {
		return nil, err
	}
	return v, nil
}

// loadTrust reads the reviewer trust file: a JSON map of user id to
// hex-encoded Ed25519 public key. Missing file means nothing trusted.
func loadTrust(path string) (map[string]ed25519.PublicKey, error) {
	trusted := make(map[string]ed25519.PublicKey)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return trusted, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trust file: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse trust file %s: %w", path, err)
	}
	for user, hexKey := range raw {
		key, err := hex.DecodeString(hexKey)
		if err != nil || len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("trust file %s: bad key for %q", path, user)
		}
		trusted[user] = ed25519.PublicKey(key)
	}
	return trusted, nil
}

// saveTrust writes the trust map back with restrictive permissions.
func saveTrust(path string, trusted map[string]ed25519.PublicKey) error {
	raw := make(map[string]string, len(trusted))
	for user, key := range trusted {
		raw[user] = hex.EncodeToString(key)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create trust dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// createPrivate creates a file readable only by the owner.
func createPrivate(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
}

// seedKeyProvider signs with an Ed25519 key loaded from a hex seed
// file, the portable counterpart of attest.MemoryKeyProvider.
type seedKeyProvider struct {
	priv ed25519.PrivateKey
}

func loadSeedKey(path string) (*seedKeyProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key %s: expected %d hex-encoded seed bytes", path, ed25519.SeedSize)
	}
	return &seedKeyProvider{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

func (p *seedKeyProvider) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(p.priv, msg), nil
}

func (p *seedKeyProvider) PublicKey() ed25519.PublicKey {
	return p.priv.Public().(ed25519.PublicKey)
}
