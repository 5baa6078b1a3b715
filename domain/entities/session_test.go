package entities

import (
	"testing"
	"time"
)

func TestSessionCreation(t *testing.T) {
	session := NewSession("session-123")

	if session.ID != "session-123" {
		t.Errorf("Expected ID %s, got %s", "session-123", session.ID)
	}

	if session.Status != SessionStatusRecording {
		t.Errorf("Expected status %s, got %s", SessionStatusRecording, session.Status)
	}

	if len(session.Captions) != 0 {
		t.Errorf("Expected empty captions, got %d captions", len(session.Captions))
	}
}

func TestApplyCaptionInterimReplacesTrailingInterim(t *testing.T) {
	session := NewSession("s")

	session.ApplyCaption(CaptionEntry{Source: SourceMic, Status: CaptionStatusInterim, Text: "hel"})
	grew := session.ApplyCaption(CaptionEntry{Source: SourceMic, Status: CaptionStatusInterim, Text: "hello"})

	if grew {
		t.Error("Expected interim after interim not to grow the list")
	}
	if len(session.Captions) != 1 {
		t.Fatalf("Expected 1 caption, got %d", len(session.Captions))
	}
	if session.Captions[0].Text != "hello" {
		t.Errorf("Expected text hello, got %s", session.Captions[0].Text)
	}
}

func TestApplyCaptionFinalSupersedesTrailingInterim(t *testing.T) {
	session := NewSession("s")

	session.ApplyCaption(CaptionEntry{Source: SourceMic, Status: CaptionStatusInterim, Text: "hello wor"})
	grew := session.ApplyCaption(CaptionEntry{Source: SourceMic, Status: CaptionStatusFinal, Text: "hello world"})

	if grew {
		t.Error("Expected final after interim not to grow the list")
	}
	if len(session.Captions) != 1 {
		t.Fatalf("Expected stale interim to be superseded, got %d entries", len(session.Captions))
	}
	if c := session.Captions[0]; c.Status != CaptionStatusFinal || c.Text != "hello world" {
		t.Errorf("Expected final hello world, got %s %q", c.Status, c.Text)
	}
}

func TestApplyCaptionFinalAppendsAfterFinal(t *testing.T) {
	session := NewSession("s")

	session.ApplyCaption(CaptionEntry{Source: SourceMic, Status: CaptionStatusFinal, Text: "hello there"})
	if grew := session.ApplyCaption(CaptionEntry{Source: SourceSys, Status: CaptionStatusFinal, Text: "hi"}); !grew {
		t.Error("Expected final after final to grow the list")
	}
	if len(session.Captions) != 2 {
		t.Fatalf("Expected 2 captions, got %d", len(session.Captions))
	}

	// interim after a final starts a new trailing entry
	session.ApplyCaption(CaptionEntry{Source: SourceSys, Status: CaptionStatusInterim, Text: "an"})
	if len(session.Captions) != 3 {
		t.Errorf("Expected 3 captions, got %d", len(session.Captions))
	}
	if got := len(session.FinalCaptions()); got != 2 {
		t.Errorf("Expected 2 final captions, got %d", got)
	}
	if title := session.FallbackTitle(); title != "hello there" {
		t.Errorf("Expected fallback title from first final, got %q", title)
	}
}

func TestFinishComputesMetadata(t *testing.T) {
	session := NewSession("s")
	session.StartedAt = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	session.ApplyCaption(CaptionEntry{Source: SourceMic, Status: CaptionStatusFinal, Text: "Let's review the quarterly roadmap and the hiring plan today"})
	session.ApplyCaption(CaptionEntry{Source: SourceSys, Status: CaptionStatusFinal, Text: "Sounds good"})

	session.Finish(session.StartedAt.Add(65*time.Second), "", "")

	if session.Status != SessionStatusFinished {
		t.Errorf("Expected status %s, got %s", SessionStatusFinished, session.Status)
	}
	if session.Duration != "1:05" {
		t.Errorf("Expected duration 1:05, got %s", session.Duration)
	}
	if session.Participants != 2 {
		t.Errorf("Expected 2 participants, got %d", session.Participants)
	}
	if session.Title != "Let's review the quarterly roadmap and the" {
		t.Errorf("Unexpected fallback title %q", session.Title)
	}
	if session.Summary != FallbackSummary {
		t.Errorf("Expected fallback summary, got %q", session.Summary)
	}
}

func TestFinishWithoutCaptions(t *testing.T) {
	session := NewSession("s")
	session.Finish(time.Now(), "  ", "Short meeting.")

	if session.Title != "Untitled session" {
		t.Errorf("Expected Untitled session, got %q", session.Title)
	}
	if session.Summary != "Short meeting." {
		t.Errorf("Expected provided summary, got %q", session.Summary)
	}
	if session.Participants != 0 {
		t.Errorf("Expected 0 participants, got %d", session.Participants)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{59 * time.Second, "0:59"},
		{10*time.Minute + 3*time.Second, "10:03"},
		{time.Hour + 2*time.Minute + 9*time.Second, "1:02:09"},
		{-5 * time.Second, "0:00"},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.in); got != tc.want {
			t.Errorf("FormatDuration(%v): expected %s, got %s", tc.in, tc.want, got)
		}
	}
}

func TestSessionValidation(t *testing.T) {
	session := NewSession("s")
	if err := session.Validate(); err != nil {
		t.Errorf("Valid session should not have validation errors, got: %v", err)
	}

	session.ID = ""
	if err := session.Validate(); err == nil {
		t.Error("Session with empty ID should have validation error")
	}

	session.ID = "s"
	session.Status = SessionStatus("invalid")
	if err := session.Validate(); err == nil {
		t.Error("Session with invalid status should have validation error")
	}
}

func TestTranscript(t *testing.T) {
	session := NewSession("s")
	session.ApplyCaption(CaptionEntry{Source: SourceMic, Status: CaptionStatusFinal, Text: "hi"})
	session.ApplyCaption(CaptionEntry{Source: SourceSys, Status: CaptionStatusInterim, Text: "he"})

	if got := session.Transcript(); got != "MIC: hi\n" {
		t.Errorf("Expected transcript %q, got %q", "MIC: hi\n", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewSession("s1")
	s.ApplyCaption(CaptionEntry{Source: "MIC", Status: CaptionStatusFinal, Text: "one"})
	s.Finish(s.StartedAt.Add(time.Minute), "t", "")

	c := s.Clone()
	c.Captions[0].Text = "changed"
	*c.EndedAt = c.EndedAt.Add(time.Hour)

	if s.Captions[0].Text != "one" {
		t.Errorf("Expected original caption to be untouched, got %q", s.Captions[0].Text)
	}
	if s.EndedAt.Equal(*c.EndedAt) {
		t.Error("Expected EndedAt to be copied")
	}
}

func TestRecordAssist(t *testing.T) {
	session := NewSession("s")
	session.RecordAssist(AILogEntry{Type: "recap", Text: "We agreed on Friday."})

	if session.AIAssists != 1 || len(session.AILogs) != 1 {
		t.Fatalf("Expected one assist, got %d / %d", session.AIAssists, len(session.AILogs))
	}
	if session.AILogs[0].Role != "assistant" {
		t.Errorf("Expected default role assistant, got %q", session.AILogs[0].Role)
	}

	clone := session.Clone()
	clone.AILogs[0].Text = "changed"
	if session.AILogs[0].Text != "We agreed on Friday." {
		t.Error("Expected clone not to share the assist log")
	}
}

func TestRecentCaptions(t *testing.T) {
	session := NewSession("s")
	for i := 0; i < 5; i++ {
		session.ApplyCaption(CaptionEntry{Source: SourceMic, Status: CaptionStatusFinal, Text: string(rune('a' + i))})
	}

	recent := session.RecentCaptions(2)
	if len(recent) != 2 || recent[0].Text != "d" || recent[1].Text != "e" {
		t.Errorf("Expected the last two captions, got %+v", recent)
	}
	if got := session.RecentCaptions(10); len(got) != 5 {
		t.Errorf("Expected all captions, got %d", len(got))
	}
}
