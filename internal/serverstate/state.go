package serverstate

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Server status values.
const (
	StatusNotReady = "not_ready"
	StatusReady    = "ready"
	StatusDraining = "draining"
)

// ErrDraining is returned for work refused because the server is shutting down.
var ErrDraining = errors.New("server draining")

// State holds the coordinator status. All fields are updated together so
// callers always observe a consistent snapshot.
type State struct {
	Status        string    `json:"status"`
	Draining      bool      `json:"draining"`
	ActiveClients int       `json:"active_clients"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store defines how the server state is persisted. Implementations may keep
// it in memory or in an external service such as Redis.
type Store interface {
	Load() State
	Store(State)
}

// memoryStore implements Store using an atomic.Value.
type memoryStore struct {
	v atomic.Value
}

// NewMemoryStore returns a memory-backed Store initialized to "not_ready".
func NewMemoryStore() *memoryStore {
	ms := &memoryStore{}
	ms.v.Store(State{Status: StatusNotReady})
	return ms
}

func (m *memoryStore) Load() State {
	if st, ok := m.v.Load().(State); ok {
		return st
	}
	return State{Status: "unknown"}
}

func (m *memoryStore) Store(s State) {
	m.v.Store(s)
}

// Tracker derives the server status from the active client count and the
// drain flag and writes it to a Store.
type Tracker struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// NewTracker wraps s. A nil Store selects the memory store.
func NewTracker(s Store) *Tracker {
	if s == nil {
		s = NewMemoryStore()
	}
	return &Tracker{store: s, now: time.Now}
}

// Observe records the current number of active clients. The server is ready
// while at least one client is active, unless it is draining.
func (t *Tracker) Observe(active int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.store.Load()
	next := st
	next.ActiveClients = active
	next.Status = statusFor(next)
	if next.Status == st.Status && next.ActiveClients == st.ActiveClients {
		return
	}
	next.UpdatedAt = t.now()
	t.store.Store(next)
}

func statusFor(st State) string {
	switch {
	case st.Draining:
		return StatusDraining
	case st.ActiveClients > 0:
		return StatusReady
	default:
		return StatusNotReady
	}
}

// StartDrain marks the server as draining.
func (t *Tracker) StartDrain() {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.store.Load()
	st.Draining = true
	st.Status = StatusDraining
	st.UpdatedAt = t.now()
	t.store.Store(st)
}

// IsDraining reports whether the server is draining.
func (t *Tracker) IsDraining() bool {
	return t.store.Load().Draining
}

// Status returns the current server status.
func (t *Tracker) Status() string {
	return t.store.Load().Status
}

// State returns the full stored state.
func (t *Tracker) State() State {
	return t.store.Load()
}
