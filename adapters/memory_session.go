package adapters

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
)

// MemorySessionRepository keeps sessions in process memory. Sessions are
// lost on restart.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*entities.Session
}

// NewMemorySessionRepository creates an empty in-memory session repository
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*entities.Session),
	}
}

var _ repositories.SessionRepository = (*MemorySessionRepository)(nil)

// Create implements SessionRepository interface
func (m *MemorySessionRepository) Create(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return errors.New("session with this ID already exists")
	}
	m.sessions[session.ID] = session.Clone()
	return nil
}

// GetByID implements SessionRepository interface
func (m *MemorySessionRepository) GetByID(ctx context.Context, id string) (*entities.Session, error) {
	if id == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, repositories.ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Update implements SessionRepository interface
func (m *MemorySessionRepository) Update(ctx context.Context, session *entities.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; !exists {
		return repositories.ErrSessionNotFound
	}
	m.sessions[session.ID] = session.Clone()
	return nil
}

// List returns the most recently started sessions first
func (m *MemorySessionRepository) List(ctx context.Context, limit int) ([]*entities.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*entities.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		result = append(result, session.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Delete implements SessionRepository interface
func (m *MemorySessionRepository) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; !exists {
		return repositories.ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}
