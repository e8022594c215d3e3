package detection

import (
	"sync"
	"time"
)

// Snapshot is a consistent read of the store
type Snapshot struct {
	State     State
	Revision  uint64
	UpdatedAt time.Time // zero until the first update
}

// Store holds the single current detection state. Each update replaces the
// previous state entirely; nothing is retained.
type Store struct {
	mu        sync.RWMutex
	state     State
	revision  uint64
	updatedAt time.Time
	now       func() time.Time
}

// NewStore creates a store in the default (no detection) state
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Apply replaces the current state. It returns false when the new state is
// identical to the current one, in which case nothing changes.
func (s *Store) Apply(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.revision > 0 && next == s.state {
		return false
	}

	s.state = next
	s.revision++
	s.updatedAt = s.now().UTC()
	return true
}

// Reset returns the store to the default state
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == (State{}) {
		return
	}
	s.state = State{}
	s.revision++
	s.updatedAt = s.now().UTC()
}

// Current returns the current state
func (s *Store) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns the state with its revision metadata
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		State:     s.state,
		Revision:  s.revision,
		UpdatedAt: s.updatedAt,
	}
}
