package entities

import (
	"errors"
	"time"
)

// CaptionStatus is the finality of a recognized span of speech
type CaptionStatus string

const (
	CaptionStatusInterim CaptionStatus = "interim"
	CaptionStatusFinal   CaptionStatus = "final"
)

// Source labels for captured audio
const (
	SourceMic = "MIC"
	SourceSys = "SYS"
)

// TranscriptEvent is a normalized result emitted by a transcription backend
type TranscriptEvent struct {
	Text   string        `json:"text"`
	Status CaptionStatus `json:"status"`
	Source string        `json:"source"`
	// Cursor is the backend's audio position at the end of this result.
	// Only meaningful when HasCursor is set.
	Cursor    time.Duration `json:"-"`
	HasCursor bool          `json:"-"`
}

// IsFinal reports whether the event closes its span of speech
func (e TranscriptEvent) IsFinal() bool {
	return e.Status == CaptionStatusFinal
}

// CaptionEntry is one line of a session transcript
type CaptionEntry struct {
	Time   time.Time     `json:"time" bson:"time" db:"time"`
	Source string        `json:"source" bson:"source" db:"source"`
	Status CaptionStatus `json:"status" bson:"status" db:"status"`
	Text   string        `json:"text" bson:"text" db:"text"`
}

// Validate validates the caption entry
func (c *CaptionEntry) Validate() error {
	if c.Text == "" {
		return errors.New("text is required")
	}
	if c.Status != CaptionStatusInterim && c.Status != CaptionStatusFinal {
		return errors.New("invalid caption status")
	}
	return nil
}
