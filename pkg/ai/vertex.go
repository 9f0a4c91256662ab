package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultVertexLocation = "us-central1"

// VertexGenerator calls Gemini models through Vertex AI.
type VertexGenerator struct {
	client *genai.Client
	model  string
}

func NewVertexGenerator(ctx context.Context, projectID, location, model string) (*VertexGenerator, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("vertex project id required")
	}
	location = strings.TrimSpace(location)
	if location == "" {
		location = defaultVertexLocation
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("vertex model required")
	}
	client, err := genai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, fmt.Errorf("create vertex client: %w", err)
	}
	return &VertexGenerator{client: client, model: model}, nil
}

func (g *VertexGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.7)
	model.ResponseMIMEType = "application/json"
	if strings.TrimSpace(systemPrompt) != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	resp, err := model.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", vertexError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if text, ok := p.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

func (g *VertexGenerator) Close() error {
	return g.client.Close()
}

func vertexError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("vertex generate: %w", err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
		return &ProviderError{Provider: "vertex", Message: st.Message(), Retryable: true}
	}
	return &ProviderError{Provider: "vertex", Message: st.Message()}
}
