package ai

import (
	"context"
	"fmt"
	"strings"
)

// ProviderConfig selects and configures one model provider.
type ProviderConfig struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	VertexProject  string
	VertexLocation string
}

// NewGenerator builds the configured provider. Unknown providers are an error.
func NewGenerator(ctx context.Context, cfg ProviderConfig) (TextGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "gemini":
		return generator(NewGeminiGenerator(cfg.APIKey, cfg.Model, cfg.BaseURL))
	case "vertex":
		return generator(NewVertexGenerator(ctx, cfg.VertexProject, cfg.VertexLocation, cfg.Model))
	case "ollama":
		return generator(NewOllamaGenerator(cfg.BaseURL, cfg.Model))
	case "openai-compat", "openai":
		return generator(NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model))
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

// generator keeps a failed constructor from yielding a non-nil interface
// around a nil pointer.
func generator[T TextGenerator](g T, err error) (TextGenerator, error) {
	if err != nil {
		return nil, err
	}
	return g, nil
}
