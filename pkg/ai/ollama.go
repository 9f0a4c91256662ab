package ai

import (
	"context"
	"errors"
	"strings"
	"time"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaGenerator uses a local Ollama server's /api/chat with JSON format.
type OllamaGenerator struct {
	baseURL string
	model   string
	poster  jsonPoster
}

func NewOllamaGenerator(baseURL, model string) (*OllamaGenerator, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("ollama model required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaGenerator{baseURL: baseURL, model: model, poster: newJSONPoster("ollama", 120*time.Second)}, nil
}

func (g *OllamaGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
		Stream   bool          `json:"stream"`
		Format   string        `json:"format"`
	}{Model: g.model, Messages: chatMessages(systemPrompt, userPrompt), Format: "json"}

	var resp struct {
		Message chatMessage `json:"message"`
	}
	if err := g.poster.post(ctx, g.baseURL+"/api/chat", nil, req, &resp); err != nil {
		return "", err
	}
	return nonEmpty(resp.Message.Content)
}
