package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/satriahrh/livecaption/domain/entities"
	"github.com/satriahrh/livecaption/domain/repositories"
)

// MockSummarizer is a placeholder summarizer for tests and offline runs
type MockSummarizer struct {
	// Err, if set, is returned instead of a summary
	Err error
}

// NewMockSummarizer creates a new mock summarizer
func NewMockSummarizer() *MockSummarizer {
	return &MockSummarizer{}
}

var (
	_ repositories.Summarizer = (*MockSummarizer)(nil)
	_ repositories.Assistant  = (*MockSummarizer)(nil)
)

// Summarize titles the session with its first line and counts the rest
func (m *MockSummarizer) Summarize(ctx context.Context, transcript string) (string, string, error) {
	if m.Err != nil {
		return "", "", m.Err
	}
	lines := strings.Split(strings.TrimSpace(transcript), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return "", "", errors.New("transcript is empty")
	}

	first := lines[0]
	if _, text, ok := strings.Cut(first, ": "); ok {
		first = text
	}
	title := entities.ClampRunes(first, maxSummaryTitle)
	summary := fmt.Sprintf("Conversation of %d lines.", len(lines))
	return title, summary, nil
}

// Reply echoes the last line of the prompt
func (m *MockSummarizer) Reply(ctx context.Context, instructions, prompt string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	return "Noted: " + lines[len(lines)-1], nil
}
