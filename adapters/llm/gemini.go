package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/livecaption/domain/repositories"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig configures the Gemini summarizer
type GeminiConfig struct {
	APIKey         string
	Model          string
	Language       string
	TimeoutSeconds int
	// BaseURL overrides the API endpoint
	BaseURL string
}

// GeminiSummarizer implements repositories.Summarizer using Google's Gemini API
type GeminiSummarizer struct {
	client   *genai.Client
	logger   *zap.Logger
	model    string
	language string
	timeout  time.Duration
}

var (
	_ repositories.Summarizer = (*GeminiSummarizer)(nil)
	_ repositories.Assistant  = (*GeminiSummarizer)(nil)
)

// NewGeminiSummarizer creates a new Gemini summarizer
func NewGeminiSummarizer(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiSummarizer, error) {
	if config.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := config.Model
	if model == "" {
		model = defaultGeminiModel
		logger.Info("Using default model", zap.String("model", model))
	}
	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeout
	}

	return &GeminiSummarizer{
		client:   client,
		logger:   logger,
		model:    model,
		language: config.Language,
		timeout:  time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// Summarize asks Gemini for a JSON title and summary of the transcript
func (g *GeminiSummarizer) Summarize(ctx context.Context, transcript string) (string, string, error) {
	if transcript == "" {
		return "", "", errors.New("transcript is empty")
	}

	text, err := g.generate(ctx, systemPrompt(g.language), userPrompt(transcript), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.2),
		MaxOutputTokens:  maxOutputTokens,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate summary: %w", err)
	}

	title, summary, err := ParseSummary(text)
	if err != nil {
		return "", "", err
	}
	g.logger.Info("Session summary generated", zap.String("model", g.model), zap.String("title", title))
	return title, summary, nil
}

// Reply implements repositories.Assistant
func (g *GeminiSummarizer) Reply(ctx context.Context, instructions, prompt string) (string, error) {
	text, err := g.generate(ctx, instructions, prompt, &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.4),
		MaxOutputTokens: maxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// generate retries transient failures up to three times
func (g *GeminiSummarizer) generate(ctx context.Context, instructions, prompt string, config *genai.GenerateContentConfig) (string, error) {
	config.SystemInstruction = genai.NewContentFromText(instructions, genai.RoleUser)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
		if err == nil {
			break
		}

		g.logger.Warn("Gemini request failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < 2 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}
	if err != nil {
		return "", err
	}

	text := response.Text()
	if text == "" {
		return "", errors.New("gemini returned no content")
	}
	return text, nil
}
