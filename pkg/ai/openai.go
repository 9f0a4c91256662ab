package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatGenerator targets any /chat/completions endpoint that accepts
// response_format json_object. baseURL includes the version prefix, e.g.
// http://localhost:8000/v1.
type OpenAICompatGenerator struct {
	baseURL string
	apiKey  string
	model   string
	poster  jsonPoster
}

func NewOpenAICompatGenerator(baseURL, apiKey, model string) (*OpenAICompatGenerator, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("openai-compat base url required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("openai-compat model required")
	}
	return &OpenAICompatGenerator{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		model:   model,
		poster:  newJSONPoster("openai-compat", 120*time.Second),
	}, nil
}

func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	type responseFormat struct {
		Type string `json:"type"`
	}
	req := struct {
		Model          string         `json:"model"`
		Messages       []chatMessage  `json:"messages"`
		ResponseFormat responseFormat `json:"response_format"`
	}{Model: g.model, Messages: chatMessages(systemPrompt, userPrompt), ResponseFormat: responseFormat{Type: "json_object"}}

	var header http.Header
	if g.apiKey != "" {
		header = http.Header{"Authorization": []string{"Bearer " + g.apiKey}}
	}
	var resp struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := g.poster.post(ctx, g.baseURL+"/chat/completions", header, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return nonEmpty(resp.Choices[0].Message.Content)
}
