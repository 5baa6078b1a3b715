package repositories

import (
	"context"
	"errors"

	"github.com/satriahrh/livecaption/domain/entities"
)

// ErrSessionNotFound is returned when a session id is unknown
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository defines data access methods for recording sessions
type SessionRepository interface {
	Create(ctx context.Context, session *entities.Session) error
	GetByID(ctx context.Context, id string) (*entities.Session, error)
	Update(ctx context.Context, session *entities.Session) error
	List(ctx context.Context, limit int) ([]*entities.Session, error)
	Delete(ctx context.Context, id string) error
}
