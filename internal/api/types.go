package api

import (
	"time"

	"github.com/satriahrh/livecaption/domain/entities"
)

// TokenRequest represents the request payload for a viewer token
type TokenRequest struct {
	ViewerID string `json:"viewer_id"`
	Passcode string `json:"passcode"`
}

// TokenResponse represents the response payload for a viewer token
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ViewerID  string    `json:"viewer_id"`
}

// SessionSummary is a session without its captions, for listings
type SessionSummary struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title"`
	Summary      string                 `json:"summary"`
	StartedAt    time.Time              `json:"started_at"`
	EndedAt      *time.Time             `json:"ended_at,omitempty"`
	Duration     string                 `json:"duration"`
	Participants int                    `json:"participants"`
	Status       entities.SessionStatus `json:"status"`
	CaptionCount int                    `json:"caption_count"`
}

// SessionListResponse wraps a page of sessions
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// DeviceListResponse lists capture devices
type DeviceListResponse struct {
	Devices []entities.CaptureDevice `json:"devices"`
}

// AssistRequest asks the assistant about a session. Action is one of
// recap, assist, question or action; anything else is a free-form query.
type AssistRequest struct {
	Query  string `json:"query"`
	Action string `json:"action"`
}

// AssistResponse carries the assistant reply
type AssistResponse struct {
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Time      time.Time `json:"time"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func summarize(s *entities.Session) SessionSummary {
	return SessionSummary{
		ID:           s.ID,
		Title:        s.Title,
		Summary:      s.Summary,
		StartedAt:    s.StartedAt,
		EndedAt:      s.EndedAt,
		Duration:     s.Duration,
		Participants: s.Participants,
		Status:       s.Status,
		CaptionCount: len(s.FinalCaptions()),
	}
}
