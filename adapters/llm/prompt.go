package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/satriahrh/livecaption/domain/entities"
)

const (
	defaultLanguage = "en"
	maxPromptLines  = 180
	maxOutputTokens = 900
	defaultTimeout  = 45
	maxSummaryTitle = 42
)

// summaryResponse is the JSON shape the models are asked to return
type summaryResponse struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

func systemPrompt(language string) string {
	if language == "" {
		language = defaultLanguage
	}
	return fmt.Sprintf("You are a meeting assistant. Respond only with strict JSON. Output language must follow '%s'. "+
		`JSON schema: {"title":"...","summary":"..."}. Title should be short (max %d chars). `+
		"Summary must cover the full meeting timeline from beginning to end, including later developments, "+
		"key decisions, unresolved issues, and next steps. Do not use Markdown in the summary text.",
		language, maxSummaryTitle)
}

func userPrompt(transcript string) string {
	lines := strings.Split(strings.TrimSpace(transcript), "\n")
	return "Create a session title and summary from this transcript. " +
		"Make sure the summary reflects the entire timeline:\n\n" +
		strings.Join(sampleEvenly(lines, maxPromptLines), "\n")
}

// sampleEvenly keeps at most n lines spread across the whole input, always
// including the first and last
func sampleEvenly(lines []string, n int) []string {
	if len(lines) <= n || n < 2 {
		return lines
	}
	out := make([]string, 0, n)
	step := float64(len(lines)-1) / float64(n-1)
	for i := 0; i < n; i++ {
		out = append(out, lines[int(float64(i)*step+0.5)])
	}
	return out
}

// ParseSummary extracts title and summary from a model reply. Replies that
// wrap the JSON object in prose or code fences are accepted.
func ParseSummary(raw string) (title, summary string, err error) {
	var parsed summaryResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return "", "", errors.New("reply is not a title/summary JSON object")
		}
		if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
			return "", "", fmt.Errorf("failed to parse summary reply: %w", err)
		}
	}

	title = entities.ClampRunes(normalizeLine(parsed.Title), maxSummaryTitle)
	summary = normalizeLine(parsed.Summary)
	if title == "" || summary == "" {
		return "", "", errors.New("reply has an empty title or summary")
	}
	return title, summary, nil
}

// normalizeLine collapses whitespace runs, newlines included
func normalizeLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
