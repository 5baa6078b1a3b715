package repositories

import "context"

// Summarizer produces a short title and summary for a finished transcript
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (title string, summary string, err error)
}

// Assistant answers a free-form request about a conversation in progress
type Assistant interface {
	Reply(ctx context.Context, instructions, prompt string) (string, error)
}
