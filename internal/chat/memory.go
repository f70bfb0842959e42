package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kabir325/fogpool/internal/logx"
)

// MemoryStore keeps sessions in process memory. An optional persist hook runs
// under the lock after every mutation.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
	persist  func(map[string]*Session) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session), now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context, title string) (Session, error) {
	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		Title:     normalizeTitle(title),
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if err := m.save(); err != nil {
		delete(m.sessions, s.ID)
		return Session{}, err
	}
	logx.Log.Info().Str("session_id", s.ID).Str("title", s.Title).Msg("chat session created")
	return cloneSession(*s), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return cloneSession(*s), nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]Summary, error) {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, summarize(*s))
	}
	m.mu.RUnlock()
	return sortSummaries(out, limit), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(m.sessions, id)
	if err := m.save(); err != nil {
		m.sessions[id] = s
		return err
	}
	logx.Log.Info().Str("session_id", id).Msg("chat session deleted")
	return nil
}

func (m *MemoryStore) Rename(_ context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	prev := *s
	s.Title = normalizeTitle(title)
	s.UpdatedAt = m.now()
	if err := m.save(); err != nil {
		*s = prev
		return err
	}
	return nil
}

func (m *MemoryStore) AddMessage(_ context.Context, id, role, content string) (Message, error) {
	if err := validRole(role); err != nil {
		return Message{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	now := m.now()
	msg := Message{ID: uuid.NewString(), SessionID: id, Role: role, Content: content, Timestamp: now}
	prev := cloneSession(*s)
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = now
	if err := m.save(); err != nil {
		*s = prev
		return Message{}, err
	}
	return msg, nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{TotalSessions: len(m.sessions)}
	for _, s := range m.sessions {
		st.TotalMessages += len(s.Messages)
	}
	return st, nil
}

func (m *MemoryStore) save() error {
	if m.persist == nil {
		return nil
	}
	return m.persist(m.sessions)
}
