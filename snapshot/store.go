package snapshot

import (
	"errors"
	"slices"
	"sync"
)

// DefaultMaxSnapshots bounds a Store created with a non-positive size.
const DefaultMaxSnapshots = 16

var ErrNotFound = errors.New("snapshot not found")

// Store is an ordered, bounded collection of snapshots with at most one active.
type Store struct {
	mu        sync.RWMutex
	max       int
	snapshots []*Snapshot
	active    string
}

// NewStore creates a new Store holding at most max snapshots.
func NewStore(max int) *Store {
	if max <= 0 {
		max = DefaultMaxSnapshots
	}
	return &Store{max: max}
}

// Add appends s. When the store is full the oldest inactive snapshot is
// evicted and its id returned. Adding an id that is already stored replaces it
// in place.
func (st *Store) Add(s *Snapshot) (evicted string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if i := st.index(s.ID); i >= 0 {
		st.snapshots[i] = s
		return ""
	}
	if len(st.snapshots) >= st.max {
		for i, old := range st.snapshots {
			if old.ID != st.active {
				evicted = old.ID
				st.snapshots = slices.Delete(st.snapshots, i, i+1)
				break
			}
		}
	}
	st.snapshots = append(st.snapshots, s)
	return evicted
}

// List returns summaries in insertion order.
func (st *Store) List() []Summary {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]Summary, 0, len(st.snapshots))
	for _, s := range st.snapshots {
		out = append(out, s.summary(s.ID == st.active))
	}
	return out
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.snapshots)
}

func (st *Store) Get(id string) (*Snapshot, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if i := st.index(id); i >= 0 {
		return st.snapshots[i], true
	}
	return nil, false
}

// Delete removes a snapshot, deactivating it first if it is active.
func (st *Store) Delete(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	i := st.index(id)
	if i < 0 {
		return ErrNotFound
	}
	if st.active == id {
		st.active = ""
	}
	st.snapshots = slices.Delete(st.snapshots, i, i+1)
	return nil
}

// DeleteAll removes every snapshot and clears the active one.
func (st *Store) DeleteAll() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.snapshots = nil
	st.active = ""
}

// Activate marks id as the active snapshot, replacing any previous one.
func (st *Store) Activate(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.index(id) < 0 {
		return ErrNotFound
	}
	st.active = id
	return nil
}

// Deactivate clears the active snapshot.
func (st *Store) Deactivate() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.active = ""
}

// Active returns the active snapshot, if any.
func (st *Store) Active() (*Snapshot, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.active == "" {
		return nil, false
	}
	if i := st.index(st.active); i >= 0 {
		return st.snapshots[i], true
	}
	return nil, false
}

func (st *Store) index(id string) int {
	return slices.IndexFunc(st.snapshots, func(s *Snapshot) bool { return s.ID == id })
}
