package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

// MemoryStore keeps sessions in process memory. Expired entries are treated
// as absent on read and removed by Sweep.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	opts     options
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		opts:     buildOptions(opts),
	}
}

func (m *MemoryStore) Acquire(_ context.Context, phone string, id Identity) (*Session, error) {
	phone = store.NormalizePhone(phone)
	now := m.opts.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var prev *Session
	if s, ok := m.sessions[phone]; ok && !s.Expired(now) {
		prev = s.clone()
	}
	m.sessions[phone] = newSession(phone, id, prev, now, m.opts.ttl)
	return prev, nil
}

func (m *MemoryStore) Get(_ context.Context, phone string) (*Session, bool) {
	phone = store.NormalizePhone(phone)

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[phone]
	if !ok || s.Expired(m.opts.now()) {
		return nil, false
	}
	return s.clone(), true
}

func (m *MemoryStore) SetContext(_ context.Context, phone, key, value string) error {
	phone = store.NormalizePhone(phone)
	now := m.opts.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[phone]
	if !ok || s.Expired(now) {
		s = newContextSession(phone, now, m.opts.ttl)
		m.sessions[phone] = s
	}
	if s.Context == nil {
		s.Context = map[string]string{}
	}
	s.Context[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, phone string) error {
	m.mu.Lock()
	delete(m.sessions, store.NormalizePhone(phone))
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for phone, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, phone)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
