package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
)

const (
	cleanupInterval     = 30 * time.Minute
	cleanupInitialDelay = 1 * time.Minute
	defaultStaleAfter   = 30 * time.Minute
)

// ActiveSessionReporter tells which session is being recorded right now
type ActiveSessionReporter interface {
	Session() *entities.Session
}

// SessionCleanupService finishes sessions that were left recording or
// paused by a process that went away, so they show up with a title and
// duration like any other. With a retention set, it also deletes finished
// sessions once they are older than that.
type SessionCleanupService struct {
	sessionRepo repositories.SessionRepository
	active      ActiveSessionReporter
	staleAfter  time.Duration
	retention   time.Duration
	logger      *zap.Logger
	stopChan    chan struct{}
	now         func() time.Time
}

// NewSessionCleanupService creates a new session cleanup service. active may
// be nil. A zero retention keeps finished sessions forever.
func NewSessionCleanupService(sessionRepo repositories.SessionRepository, active ActiveSessionReporter, retention time.Duration, logger *zap.Logger) *SessionCleanupService {
	return &SessionCleanupService{
		sessionRepo: sessionRepo,
		active:      active,
		staleAfter:  defaultStaleAfter,
		retention:   retention,
		logger:      logger,
		stopChan:    make(chan struct{}),
		now:         time.Now,
	}
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started")
}

// Stop gracefully stops the cleanup service
func (s *SessionCleanupService) Stop() {
	close(s.stopChan)
	s.logger.Info("Session cleanup service stopped")
}

func (s *SessionCleanupService) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	initialTimer := time.NewTimer(cleanupInitialDelay)
	defer initialTimer.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-initialTimer.C:
			s.runCleanup()
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

func (s *SessionCleanupService) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	s.logger.Info("Starting session cleanup")

	closed, err := s.FinishAbandoned(ctx)
	if err != nil {
		s.logger.Error("Failed to finish abandoned sessions", zap.Error(err))
		return
	}

	deleted, err := s.DeleteExpired(ctx)
	if err != nil {
		s.logger.Error("Failed to delete expired sessions", zap.Error(err))
		return
	}

	s.logger.Info("Session cleanup completed successfully",
		zap.Int("finished", closed),
		zap.Int("deleted", deleted))
}

// FinishAbandoned finishes every open session other than the active one whose
// last caption is older than the stale window. The end time is the last
// caption time. It returns how many sessions were finished.
func (s *SessionCleanupService) FinishAbandoned(ctx context.Context) (int, error) {
	sessions, err := s.sessionRepo.List(ctx, 0)
	if err != nil {
		return 0, err
	}

	activeID := s.activeID()
	closed := 0
	cutoff := s.now().Add(-s.staleAfter)
	for _, session := range sessions {
		if session.Status == entities.SessionStatusFinished || session.ID == activeID {
			continue
		}
		lastActivity := lastActivity(session)
		if lastActivity.After(cutoff) {
			continue
		}

		session.Finish(lastActivity, "", "")
		if err := s.sessionRepo.Update(ctx, session); err != nil {
			s.logger.Warn("Failed to finish abandoned session",
				zap.String("sessionID", session.ID),
				zap.Error(err))
			continue
		}
		s.logger.Info("Finished abandoned session",
			zap.String("sessionID", session.ID),
			zap.String("duration", session.Duration))
		closed++
	}
	return closed, nil
}

// DeleteExpired deletes finished sessions that ended before the retention
// window. It returns how many were deleted and does nothing without a
// retention.
func (s *SessionCleanupService) DeleteExpired(ctx context.Context) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	sessions, err := s.sessionRepo.List(ctx, 0)
	if err != nil {
		return 0, err
	}

	activeID := s.activeID()
	deleted := 0
	cutoff := s.now().Add(-s.retention)
	for _, session := range sessions {
		if session.Status != entities.SessionStatusFinished || session.ID == activeID {
			continue
		}
		ended := session.StartedAt
		if session.EndedAt != nil {
			ended = *session.EndedAt
		}
		if ended.After(cutoff) {
			continue
		}

		if err := s.sessionRepo.Delete(ctx, session.ID); err != nil {
			s.logger.Warn("Failed to delete expired session",
				zap.String("sessionID", session.ID),
				zap.Error(err))
			continue
		}
		s.logger.Info("Deleted expired session",
			zap.String("sessionID", session.ID),
			zap.Time("endedAt", ended))
		deleted++
	}
	return deleted, nil
}

func (s *SessionCleanupService) activeID() string {
	if s.active == nil {
		return ""
	}
	if session := s.active.Session(); session != nil {
		return session.ID
	}
	return ""
}

func lastActivity(session *entities.Session) time.Time {
	last := session.StartedAt
	for _, c := range session.Captions {
		if c.Time.After(last) {
			last = c.Time
		}
	}
	return last
}
