package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain/repositories"
)

// Providers accepted by New
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
	ProviderNone   = "none"
)

// Model is a configured provider, able to both summarize and assist
type Model interface {
	repositories.Summarizer
	repositories.Assistant
}

// Config selects and configures a model
type Config struct {
	Provider     string
	Model        string
	Language     string
	GeminiAPIKey string
	OpenAIAPIKey string
}

// New builds the configured model. It returns nil for ProviderNone, in which
// case sessions get fallback titles and summaries and assist is unavailable.
func New(ctx context.Context, config Config, logger *zap.Logger) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(config.Provider)) {
	case ProviderGemini:
		s, err := NewGeminiSummarizer(ctx, GeminiConfig{
			APIKey:   config.GeminiAPIKey,
			Model:    config.Model,
			Language: config.Language,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case ProviderOpenAI:
		s, err := NewOpenAISummarizer(OpenAIConfig{
			APIKey:   config.OpenAIAPIKey,
			Model:    config.Model,
			Language: config.Language,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case ProviderMock:
		return NewMockSummarizer(), nil
	case ProviderNone, "":
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported llm provider %q", config.Provider)
}
