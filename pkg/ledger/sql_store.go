package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLStore implements Ledger over database/sql. It works with both
// SQLite and Postgres via standard drivers; the caller imports the
// driver and opens the connection.
type SQLStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLStore wraps an open connection. Call Init before first use.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, clock: time.Now}
}

// seq is UNIQUE: it is the compare-and-swap on the chain tail. Two
// concurrent appends that both read the same tail both try to claim
// seq+1, and the second insert fails instead of forking the chain.
const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id TEXT PRIMARY KEY,
	seq BIGINT NOT NULL UNIQUE,
	subject_id TEXT NOT NULL,
	action TEXT NOT NULL,
	ts TEXT NOT NULL,
	details TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	current_hash TEXT NOT NULL,
	entry_hash TEXT NOT NULL UNIQUE
);
`

// Init creates the schema if needed.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("ledger: init schema: %w", err)
	}
	return nil
}

// appendRetries bounds how often an append re-reads the tail after
// losing the sequence race to a concurrent writer.
const appendRetries = 5

// Append records a decision. The transaction re-reads the chain tail
// and the UNIQUE constraint on seq acts as the compare-and-swap: a
// writer that linked against a stale tail fails to insert and retries
// against the new tail instead of forking the chain.
func (s *SQLStore) Append(ctx context.Context, action Action, subjectID string, details map[string]any) (*Entry, error) {
	contentHash, err := ContentHash(details)
	if err != nil {
		return nil, err
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal details: %w", err)
	}

	for attempt := 0; attempt < appendRetries; attempt++ {
		e, err := s.tryAppend(ctx, action, subjectID, details, contentHash, string(detailsJSON))
		if err == nil {
			return e, nil
		}
		if !isSequenceConflict(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("ledger: append: lost the tail race %d times", appendRetries)
}

func (s *SQLStore) tryAppend(ctx context.Context, action Action, subjectID string, details map[string]any, contentHash, detailsJSON string) (*Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq uint64
	prev := GenesisHash
	row := tx.QueryRowContext(ctx, `SELECT seq, entry_hash FROM audit_entries ORDER BY seq DESC LIMIT 1`)
	if err := row.Scan(&seq, &prev); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger: read tail: %w", err)
	}

	e := &Entry{
		ID:           uuid.New().String(),
		Sequence:     seq + 1,
		SubjectID:    subjectID,
		Action:       action,
		Timestamp:    s.clock().UTC(),
		Details:      details,
		PreviousHash: prev,
		CurrentHash:  contentHash,
	}
	e.EntryHash = entryHash(e)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_entries (id, seq, subject_id, action, ts, details, previous_hash, current_hash, entry_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Sequence, e.SubjectID, string(e.Action),
		e.Timestamp.Format(time.RFC3339Nano), detailsJSON,
		e.PreviousHash, e.CurrentHash, e.EntryHash,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ledger: commit append: %w", err)
	}
	return e, nil
}

// isSequenceConflict reports whether err is the unique-constraint
// violation from a concurrent append claiming the same seq. Matched
// textually because sqlite ("UNIQUE constraint failed") and postgres
// ("duplicate key value violates unique constraint") raise different
// driver error types.
func isSequenceConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

// Entries returns the full chain in append order.
func (s *SQLStore) Entries(ctx context.Context) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, subject_id, action, ts, details, previous_hash, current_hash, entry_hash
		FROM audit_entries ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var (
			e           Entry
			action      string
			ts          string
			detailsJSON string
		)
		if err := rows.Scan(&e.ID, &e.Sequence, &e.SubjectID, &action, &ts,
			&detailsJSON, &e.PreviousHash, &e.CurrentHash, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		e.Action = Action(action)
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("ledger: parse timestamp for %s: %w", e.ID, err)
		}
		if detailsJSON != "" && detailsJSON != "null" {
			if err := json.Unmarshal([]byte(detailsJSON), &e.Details); err != nil {
				return nil, fmt.Errorf("ledger: decode details for %s: %w", e.ID, err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Head returns the current chain tail hash.
func (s *SQLStore) Head(ctx context.Context) (string, error) {
	var head string
	row := s.db.QueryRowContext(ctx, `SELECT entry_hash FROM audit_entries ORDER BY seq DESC LIMIT 1`)
	if err := row.Scan(&head); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GenesisHash, nil
		}
		return "", fmt.Errorf("ledger: read head: %w", err)
	}
	return head, nil
}

var _ Ledger = (*SQLStore)(nil)
