package entities

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// SessionStatus represents the status of a recording session
type SessionStatus string

const (
	SessionStatusRecording SessionStatus = "recording"
	SessionStatusPaused    SessionStatus = "paused"
	SessionStatusFinished  SessionStatus = "finished"
)

const (
	maxTitleRunes   = 42
	untitledSession = "Untitled session"
	// FallbackSummary is stored when no summary could be generated
	FallbackSummary = "Summary unavailable."
)

// Session is one recording: its captions plus the metadata computed when it ends
type Session struct {
	ID           string         `json:"id" bson:"_id"`
	Title        string         `json:"title" bson:"title"`
	Summary      string         `json:"summary" bson:"summary"`
	StartedAt    time.Time      `json:"started_at" bson:"started_at"`
	EndedAt      *time.Time     `json:"ended_at" bson:"ended_at"`
	Duration     string         `json:"duration" bson:"duration"`
	Participants int            `json:"participants" bson:"participants"`
	Status       SessionStatus  `json:"status" bson:"status"`
	Captions     []CaptionEntry `json:"captions" bson:"captions"`
	AILogs       []AILogEntry   `json:"ai_logs" bson:"ai_logs"`
	AIAssists    int            `json:"ai_assists" bson:"ai_assists"`
}

// AIRoleAssistant marks a log entry written by the language model
const AIRoleAssistant = "assistant"

// AILogEntry is one assistant answer given during a session
type AILogEntry struct {
	Time time.Time `json:"time" bson:"time"`
	Type string    `json:"type" bson:"type"`
	Role string    `json:"role" bson:"role"`
	Text string    `json:"text" bson:"text"`
}

// NewSession creates a new recording session
func NewSession(id string) *Session {
	return &Session{
		ID:        id,
		StartedAt: time.Now(),
		Status:    SessionStatusRecording,
		Captions:  make([]CaptionEntry, 0),
		AILogs:    make([]AILogEntry, 0),
	}
}

// ApplyCaption adds a caption. A trailing interim entry is superseded by
// whatever comes next, final or interim; otherwise the entry is appended.
// It reports whether the list grew.
func (s *Session) ApplyCaption(entry CaptionEntry) bool {
	n := len(s.Captions)
	if n > 0 && s.Captions[n-1].Status == CaptionStatusInterim {
		s.Captions[n-1] = entry
		return false
	}
	s.Captions = append(s.Captions, entry)
	return true
}

// Clone returns a deep copy of the session
func (s *Session) Clone() *Session {
	c := *s
	c.Captions = append([]CaptionEntry(nil), s.Captions...)
	c.AILogs = append([]AILogEntry(nil), s.AILogs...)
	if s.EndedAt != nil {
		ended := *s.EndedAt
		c.EndedAt = &ended
	}
	return &c
}

// RecordAssist appends an assistant answer and counts it
func (s *Session) RecordAssist(entry AILogEntry) {
	if entry.Role == "" {
		entry.Role = AIRoleAssistant
	}
	s.AILogs = append(s.AILogs, entry)
	s.AIAssists++
}

// RecentCaptions returns at most n of the latest captions, oldest first
func (s *Session) RecentCaptions(n int) []CaptionEntry {
	if n <= 0 || len(s.Captions) <= n {
		return s.Captions
	}
	return s.Captions[len(s.Captions)-n:]
}

// FinalCaptions returns only the confirmed entries
func (s *Session) FinalCaptions() []CaptionEntry {
	finals := make([]CaptionEntry, 0, len(s.Captions))
	for _, c := range s.Captions {
		if c.Status == CaptionStatusFinal {
			finals = append(finals, c)
		}
	}
	return finals
}

// Transcript renders final captions as "SOURCE: text" lines
func (s *Session) Transcript() string {
	var b strings.Builder
	for _, c := range s.FinalCaptions() {
		b.WriteString(c.Source)
		b.WriteString(": ")
		b.WriteString(c.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// CountParticipants returns the number of distinct caption sources
func (s *Session) CountParticipants() int {
	seen := make(map[string]struct{})
	for _, c := range s.Captions {
		if c.Source == "" {
			continue
		}
		seen[c.Source] = struct{}{}
	}
	return len(seen)
}

// Pause marks the session as paused
func (s *Session) Pause() {
	s.Status = SessionStatusPaused
}

// Resume marks the session as recording again
func (s *Session) Resume() {
	s.Status = SessionStatusRecording
}

// Finish closes the session and fills in computed metadata. Empty title or
// summary fall back to the first caption and a fixed text.
func (s *Session) Finish(endedAt time.Time, title, summary string) {
	s.EndedAt = &endedAt
	s.Duration = FormatDuration(endedAt.Sub(s.StartedAt))
	s.Participants = s.CountParticipants()
	s.Status = SessionStatusFinished

	title = strings.TrimSpace(title)
	if title == "" {
		title = s.FallbackTitle()
	}
	s.Title = ClampRunes(title, maxTitleRunes)

	summary = strings.TrimSpace(summary)
	if summary == "" {
		summary = FallbackSummary
	}
	s.Summary = summary
}

// FallbackTitle derives a title from the first caption
func (s *Session) FallbackTitle() string {
	for _, c := range s.Captions {
		if text := strings.TrimSpace(c.Text); text != "" {
			return ClampRunes(text, maxTitleRunes)
		}
	}
	return untitledSession
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}

	if s.Status != SessionStatusRecording && s.Status != SessionStatusPaused && s.Status != SessionStatusFinished {
		return errors.New("invalid session status")
	}

	return nil
}

// FormatDuration renders M:SS below one hour and H:MM:SS otherwise
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, sec := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

// ClampRunes truncates s to at most n runes
func ClampRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}
