package querybridge

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

const (
	// DefaultModel is the text generation model used when none is configured.
	DefaultModel = "gemini-2.0-flash"

	// DefaultGenerateTimeout bounds a single generation call. There is no
	// retry: every question is a fresh one-shot interaction.
	DefaultGenerateTimeout = 30 * time.Second
)

// GeminiGenerator calls the Gemini API to turn a prompt into text.
type GeminiGenerator struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiGenerator creates a generator for the given API key and model.
func NewGeminiGenerator(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("generation API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultGenerateTimeout
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create generation client: %w", err)
	}

	return &GeminiGenerator{
		client:  client,
		model:   model,
		timeout: timeout,
	}, nil
}

// Generate sends the prompt and returns the model reply as a plain string.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("text generation failed: %w", err)
	}

	return resp.Text(), nil
}
