// Package ledger implements the append-only, hash-linked audit trail
// for gate decisions. Every entry carries two hashes: CurrentHash is
// computed from the entry's details alone, so identical scanned content
// is content-addressable regardless of subject or timestamp; EntryHash
// additionally binds PreviousHash, so retroactive edits break the chain.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gowebpki/jcs"
)

// GenesisHash seeds the chain before any entry exists.
const GenesisHash = "genesis"

var (
	// ErrChainBroken is returned by Verify when a link or hash does not
	// recompute.
	ErrChainBroken = errors.New("ledger: hash chain is broken")

	// ErrEntryNotFound is returned when an entry lookup misses.
	ErrEntryNotFound = errors.New("ledger: entry not found")
)

// Action categorizes the decision an entry records.
type Action string

const (
	ActionScanPassed         Action = "PHI_SCAN_PASSED"
	ActionScanBlocked        Action = "PHI_SCAN_BLOCKED"
	ActionScanFailed         Action = "PHI_SCAN_FAILED"
	ActionRedaction          Action = "PHI_REDACTION"
	ActionFinalScanPassed    Action = "FINAL_SCAN_PASSED"
	ActionFinalScanBlocked   Action = "FINAL_SCAN_BLOCKED"
	ActionQuarantineCreated  Action = "QUARANTINE_CREATED"
	ActionQuarantineReleased Action = "QUARANTINE_RELEASED"
)

// Entry is a single immutable record in the audit chain. Details never
// contain raw identifier values, only positions, type tags, and counts.
type Entry struct {
	ID           string         `json:"id"`
	Sequence     uint64         `json:"sequence"`
	SubjectID    string         `json:"subject_id"`
	Action       Action         `json:"action"`
	Timestamp    time.Time      `json:"timestamp"`
	Details      map[string]any `json:"details,omitempty"`
	PreviousHash string         `json:"previous_hash"`
	CurrentHash  string         `json:"current_hash"`
	EntryHash    string         `json:"entry_hash"`
}

// Ledger is the durable interface for the audit chain. Appends to the
// same chain are serialized by the implementation.
type Ledger interface {
	// Append records a decision and links it to the chain tail.
	Append(ctx context.Context, action Action, subjectID string, details map[string]any) (*Entry, error)

	// Entries returns the full chain in append order.
	Entries(ctx context.Context) ([]*Entry, error)

	// Head returns the current chain tail hash (GenesisHash when empty).
	Head(ctx context.Context) (string, error)
}

// ContentHash computes the deterministic content hash of details: the
// SHA-256 hex digest of the RFC 8785 canonical JSON form. Identical
// details always hash identically, independent of subject and time.
func ContentHash(details map[string]any) (string, error) {
	if details == nil {
		details = map[string]any{}
	}

	raw, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("ledger: marshal details: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("ledger: canonicalize details: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// entryHash binds the content hash to the chain position. It covers
// every immutable field of the entry, so editing a sequence number or
// a timestamp after the fact breaks verification the same way editing
// details does.
func entryHash(e *Entry) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatUint(e.Sequence, 10)))
	h.Write([]byte{0})
	h.Write([]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(e.SubjectID))
	h.Write([]byte{0})
	h.Write([]byte(e.Action))
	h.Write([]byte{0})
	h.Write([]byte(e.CurrentHash))
	h.Write([]byte{0})
	h.Write([]byte(e.PreviousHash))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes every link in entries. It fails if any entry's
// CurrentHash does not match a fresh recomputation from its own
// details, if any PreviousHash does not match the predecessor's
// EntryHash, or if any EntryHash does not recompute.
func Verify(entries []*Entry) error {
	prev := GenesisHash
	for i, e := range entries {
		contentHash, err := ContentHash(e.Details)
		if err != nil {
			return err
		}
		if contentHash != e.CurrentHash {
			return fmt.Errorf("%w: entry %d content hash mismatch", ErrChainBroken, i)
		}
		if e.PreviousHash != prev {
			return fmt.Errorf("%w: entry %d does not link to predecessor", ErrChainBroken, i)
		}
		if entryHash(e) != e.EntryHash {
			return fmt.Errorf("%w: entry %d entry hash mismatch", ErrChainBroken, i)
		}
		prev = e.EntryHash
	}
	return nil
}

// Export writes the chain as JSON lines after verifying it, for
// offline forensics.
func Export(ctx context.Context, l Ledger, write func([]byte) error) error {
	entries, err := l.Entries(ctx)
	if err != nil {
		return err
	}
	if err := Verify(entries); err != nil {
		return err
	}

	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("ledger: marshal entry %s: %w", e.ID, err)
		}
		if err := write(append(line, '\n')); err != nil {
			return fmt.Errorf("ledger: export: %w", err)
		}
	}
	return nil
}
