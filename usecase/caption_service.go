package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
)

const persistTimeout = 5 * time.Second

// CaptionBroadcaster delivers caption lines to an audience
type CaptionBroadcaster interface {
	BroadcastCaption(sessionID string, entry entities.CaptionEntry)
}

var _ repositories.CaptionSink = (*CaptionService)(nil)

// CaptionService receives captions from the pipeline, applies them to the
// attached session and relays them to broadcasters. Final captions are
// persisted as they arrive.
type CaptionService struct {
	sessions     repositories.SessionRepository
	broadcasters []CaptionBroadcaster
	logger       *zap.Logger

	mu        sync.Mutex
	session   *entities.Session
	persisted bool
}

// NewCaptionService creates a new caption service
func NewCaptionService(
	sessions repositories.SessionRepository,
	logger *zap.Logger,
	broadcasters ...CaptionBroadcaster,
) *CaptionService {
	return &CaptionService{
		sessions:     sessions,
		broadcasters: broadcasters,
		logger:       logger,
	}
}

// Attach makes session the target of incoming captions. persisted tells
// whether the session already exists in the repository.
func (s *CaptionService) Attach(session *entities.Session, persisted bool) {
	s.mu.Lock()
	s.session = session
	s.persisted = persisted
	s.mu.Unlock()
}

// MarkPersisted enables per-final persistence for the attached session
func (s *CaptionService) MarkPersisted() {
	s.mu.Lock()
	s.persisted = true
	s.mu.Unlock()
}

// Detach stops applying captions and returns the session that was attached
func (s *CaptionService) Detach() *entities.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.session
	s.session = nil
	s.persisted = false
	return session
}

// Snapshot returns a copy of the attached session, or nil
func (s *CaptionService) Snapshot() *entities.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	return s.session.Clone()
}

// Update runs fn on the attached session under the caption lock and returns
// a copy of the result. It returns nil when no session is attached.
func (s *CaptionService) Update(fn func(session *entities.Session)) *entities.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	fn(s.session)
	return s.session.Clone()
}

// Amend runs fn on the attached session when its id matches sessionID and
// writes the result through when the session is already stored. It reports
// whether the attached session was the one amended.
func (s *CaptionService) Amend(ctx context.Context, sessionID string, fn func(session *entities.Session)) (bool, error) {
	s.mu.Lock()
	if s.session == nil || s.session.ID != sessionID {
		s.mu.Unlock()
		return false, nil
	}
	fn(s.session)
	var snapshot *entities.Session
	if s.persisted {
		snapshot = s.session.Clone()
	}
	s.mu.Unlock()

	if snapshot == nil {
		return true, nil
	}
	return true, s.sessions.Update(ctx, snapshot)
}

// EmitCaption implements repositories.CaptionSink
func (s *CaptionService) EmitCaption(source string, status entities.CaptionStatus, text string, at time.Time) {
	entry := entities.CaptionEntry{
		Time:   at,
		Source: source,
		Status: status,
		Text:   strings.TrimSpace(text),
	}
	if err := entry.Validate(); err != nil {
		s.logger.Debug("Ignoring caption", zap.Error(err))
		return
	}

	var sessionID string
	var snapshot *entities.Session
	s.mu.Lock()
	if s.session != nil {
		sessionID = s.session.ID
		s.session.ApplyCaption(entry)
		if entry.Status == entities.CaptionStatusFinal && s.persisted {
			snapshot = s.session.Clone()
		}
	}
	s.mu.Unlock()

	for _, b := range s.broadcasters {
		b.BroadcastCaption(sessionID, entry)
	}

	if snapshot != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.sessions.Update(ctx, snapshot); err != nil {
			s.logger.Warn("Failed to persist caption",
				zap.String("sessionID", sessionID),
				zap.Error(err))
		}
	}
}
