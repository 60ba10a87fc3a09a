package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EntryHandler is called after each successful append, outside the lock.
// Handlers are best-effort mirrors (e.g. a JSON sink); their failures
// never affect the append.
type EntryHandler func(entry *Entry)

// MemoryStore is the in-process Ledger. Appends are serialized under a
// single mutex so two concurrent appends can never both link against
// the same stale tail.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []*Entry
	byID     map[string]*Entry
	sequence uint64
	head     string
	clock    func() time.Time
	handlers []EntryHandler
}

// NewMemoryStore creates an empty chain.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*Entry),
		head:  GenesisHash,
		clock: time.Now,
	}
}

// WithClock overrides the clock for testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

// OnAppend registers a handler invoked for every appended entry.
func (s *MemoryStore) OnAppend(h EntryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Append records a decision and links it to the chain tail.
func (s *MemoryStore) Append(ctx context.Context, action Action, subjectID string, details map[string]any) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contentHash, err := ContentHash(details)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sequence++
	e := &Entry{
		ID:           uuid.New().String(),
		Sequence:     s.sequence,
		SubjectID:    subjectID,
		Action:       action,
		Timestamp:    s.clock().UTC(),
		Details:      details,
		PreviousHash: s.head,
		CurrentHash:  contentHash,
	}
	e.EntryHash = entryHash(e)
	s.head = e.EntryHash

	s.entries = append(s.entries, e)
	s.byID[e.ID] = e
	handlers := s.handlers
	s.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
	return e, nil
}

// Entries returns a copy of the chain in append order.
func (s *MemoryStore) Entries(ctx context.Context) ([]*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// Head returns the current chain tail hash.
func (s *MemoryStore) Head(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, nil
}

// Get retrieves an entry by id.
func (s *MemoryStore) Get(id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e, nil
}

var _ Ledger = (*MemoryStore)(nil)
