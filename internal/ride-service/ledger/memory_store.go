package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Compile-time check: MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

type memoryEntry struct {
	value   decimal.Decimal
	version uint64
}

// MemoryStore is an in-process Store with the same optimistic semantics as
// the Redis one: Swap reads without holding the lock and commits only if the
// observed versions are unchanged.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	markers    map[string]uint64
	interleave func(key string)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		markers: make(map[string]uint64),
	}
}

// SetInterleave installs fn to run between the read and the commit of every
// Swap, which lets tests force conflicts deterministically.
func (s *MemoryStore) SetInterleave(fn func(key string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interleave = fn
}

func (s *MemoryStore) Get(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e.value, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: value, version: s.entries[key].version + 1}
	return nil
}

func (s *MemoryStore) SetIfAbsent(ctx context.Context, key string, value decimal.Decimal) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{value: value, version: 1}
	return true, nil
}

func (s *MemoryStore) Swap(ctx context.Context, key, marker string, fn Mutation) (decimal.Decimal, bool, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, false, err
	}

	s.mu.Lock()
	entry, exists := s.entries[key]
	markerVersion, credited := s.markers[marker]
	credited = credited && marker != ""
	interleave := s.interleave
	s.mu.Unlock()

	next, write := fn(State{Balance: entry.value, Exists: exists, Credited: credited})
	if interleave != nil {
		interleave(key)
	}

	if !write {
		return entry.value, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[key].version != entry.version || s.markers[marker] != markerVersion {
		return decimal.Zero, false, ErrConflict
	}

	s.entries[key] = memoryEntry{value: next, version: entry.version + 1}
	if marker != "" {
		s.markers[marker] = markerVersion + 1
	}
	return next, true, nil
}

// Credited reports whether marker has been committed.
func (s *MemoryStore) Credited(marker string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.markers[marker]
	return ok
}
