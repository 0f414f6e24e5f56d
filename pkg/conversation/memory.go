package conversation

import (
	"context"
	"fmt"
	"sync"
)

type memoryEntry struct {
	slot    chan struct{}
	history []Turn
	refs    int
}

// MemoryStore keeps conversations in process memory. A crash loses unfinalized
// conversations.
type MemoryStore struct {
	entries map[string]*memoryEntry
	mu      sync.Mutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

// Acquire implements Store. mu only guards the entry map; it is never held while a
// caller waits for or holds an identity.
func (m *MemoryStore) Acquire(ctx context.Context, identity string) (*Session, error) {
	m.mu.Lock()
	e, ok := m.entries[identity]
	if !ok {
		e = &memoryEntry{slot: make(chan struct{}, 1)}
		m.entries[identity] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		m.unref(identity, e)
		return nil, fmt.Errorf("acquire conversation %s: %w", identity, ctx.Err())
	}

	history := append([]Turn(nil), e.history...)
	return newSession(identity, history, func(s *Session, commit bool) error {
		if commit {
			e.history = s.History()
		}
		m.unref(identity, e)
		<-e.slot
		return nil
	}), nil
}

// unref drops a reference and forgets idle, empty identities.
func (m *MemoryStore) unref(identity string, e *memoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 && len(e.history) == 0 && m.entries[identity] == e {
		delete(m.entries, identity)
	}
}

// Len returns the number of identities with live history or waiters.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
