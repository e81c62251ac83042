package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns the lifetime of all session states, keyed by opaque ids.
//
// Lock serializes turns for one session: the router holds the returned
// unlock for the duration of a fetch-mutate-save cycle so that two
// in-flight turns for the same id cannot race. Turns for different
// sessions never contend.
type Store interface {
	// Create inserts state under a fresh id, or overwrites the entry at
	// reuseID when given (create-or-replace: this is how a session moves
	// from ASK_SCENARIO to MANIFEST keeping its external id). Never fails.
	Create(state *State, reuseID string) string
	Get(id string) *State
	Save(id string, state *State)
	// End removes the session; removing a missing id is a no-op.
	End(id string)
	ListIDs() []string
	Clear()
	Lock(id string) func()
}

// lockTable hands out one mutex per session id.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

func (t *lockTable) Lock(id string) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (t *lockTable) drop(id string) {
	t.mu.Lock()
	delete(t.locks, id)
	t.mu.Unlock()
}

func (t *lockTable) dropAll() {
	t.mu.Lock()
	t.locks = make(map[string]*sync.Mutex)
	t.mu.Unlock()
}

// MemoryStore is the default single-process, non-durable backend.
type MemoryStore struct {
	mu    sync.RWMutex
	mem   map[string]*State
	turns *lockTable
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mem:   make(map[string]*State),
		turns: newLockTable(),
	}
}

func (s *MemoryStore) Create(state *State, reuseID string) string {
	state.UpdatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	id := reuseID
	if id == "" {
		id = uuid.NewString()
	}
	s.mem[id] = state
	return id
}

func (s *MemoryStore) Get(id string) *State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mem[id]
}

func (s *MemoryStore) Save(id string, state *State) {
	state.UpdatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem[id] = state
}

func (s *MemoryStore) End(id string) {
	s.mu.Lock()
	delete(s.mem, id)
	s.mu.Unlock()

	s.turns.drop(id)
}

func (s *MemoryStore) ListIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.mem))
	for id := range s.mem {
		ids = append(ids, id)
	}
	return ids
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.mem = make(map[string]*State)
	s.mu.Unlock()

	s.turns.dropAll()
}

func (s *MemoryStore) Lock(id string) func() {
	return s.turns.Lock(id)
}
