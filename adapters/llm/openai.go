package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/domain/repositories"
)

const defaultOpenAIModel = openai.GPT4oMini

// OpenAIConfig configures the OpenAI summarizer
type OpenAIConfig struct {
	APIKey         string
	Model          string
	Language       string
	TimeoutSeconds int
	// BaseURL overrides the API endpoint, e.g. for a compatible proxy
	BaseURL string
}

// OpenAISummarizer implements repositories.Summarizer with chat completions
type OpenAISummarizer struct {
	client   *openai.Client
	logger   *zap.Logger
	model    string
	language string
	timeout  time.Duration
}

var (
	_ repositories.Summarizer = (*OpenAISummarizer)(nil)
	_ repositories.Assistant  = (*OpenAISummarizer)(nil)
)

// NewOpenAISummarizer creates a new OpenAI summarizer
func NewOpenAISummarizer(config OpenAIConfig, logger *zap.Logger) (*OpenAISummarizer, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	model := config.Model
	if model == "" {
		model = defaultOpenAIModel
		logger.Info("Using default model", zap.String("model", model))
	}
	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeout
	}

	return &OpenAISummarizer{
		client:   openai.NewClientWithConfig(clientConfig),
		logger:   logger,
		model:    model,
		language: config.Language,
		timeout:  time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// Summarize requests a JSON object with title and summary
func (o *OpenAISummarizer) Summarize(ctx context.Context, transcript string) (string, string, error) {
	if transcript == "" {
		return "", "", errors.New("transcript is empty")
	}

	content, err := o.complete(ctx, systemPrompt(o.language), userPrompt(transcript), &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate summary: %w", err)
	}

	title, summary, err := ParseSummary(content)
	if err != nil {
		return "", "", err
	}
	o.logger.Info("Session summary generated", zap.String("model", o.model), zap.String("title", title))
	return title, summary, nil
}

// Reply implements repositories.Assistant
func (o *OpenAISummarizer) Reply(ctx context.Context, instructions, prompt string) (string, error) {
	content, err := o.complete(ctx, instructions, prompt, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	return strings.TrimSpace(content), nil
}

func (o *OpenAISummarizer) complete(ctx context.Context, instructions, prompt string, format *openai.ChatCompletionResponseFormat) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instructions},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:      maxOutputTokens,
		ResponseFormat: format,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
