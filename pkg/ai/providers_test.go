package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAICompatGeneratorRequestsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req struct {
			Messages       []chatMessage `json:"messages"`
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat.Type != "json_object" {
			t.Errorf("expected json response format, got %q", req.ResponseFormat.Type)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" {\"question\":\"q\"} "}}]}`))
	}))
	defer srv.Close()

	g, err := NewOpenAICompatGenerator(srv.URL+"/v1", "key-1", "model-1")
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	text, err := g.GenerateText(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != `{"question":"q"}` {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestProviderErrorsAreClassified(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		message   string
		transient bool
	}{
		{"rate limited object", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, "slow down", true},
		{"ollama string", http.StatusInternalServerError, `{"error":"model crashed"}`, "model crashed", true},
		{"bad request", http.StatusBadRequest, `not json`, "Bad Request", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			g, err := NewOllamaGenerator(srv.URL, "llama")
			if err != nil {
				t.Fatalf("new generator: %v", err)
			}
			_, err = g.GenerateText(context.Background(), "", "user")
			var pe *ProviderError
			if !errors.As(err, &pe) || pe.StatusCode != tc.status || pe.Message != tc.message {
				t.Fatalf("unexpected error %#v", err)
			}
			if IsTransient(err) != tc.transient {
				t.Fatalf("transient = %v, want %v", IsTransient(err), tc.transient)
			}
		})
	}
}

func TestGeminiGenerator(t *testing.T) {
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Contents[0].Parts[0].Text == "nothing" {
			_, _ = w.Write([]byte(`{"candidates":[]}`))
			return
		}
		gotKey = r.Header.Get("x-goog-api-key")
		gotPath = r.URL.Path
		if r.URL.Query().Get("key") != "" {
			t.Errorf("api key leaked into query string")
		}
		if req.System == nil || req.Config.ResponseMimeType != "application/json" {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"a\":"},{"text":"1}"}]}}]}`))
	}))
	defer srv.Close()

	g, err := NewGeminiGenerator("k", "models/gemini-x", srv.URL)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	text, err := g.GenerateText(context.Background(), "sys", "user")
	if err != nil || text != `{"a":1}` {
		t.Fatalf("generate: %q %v", text, err)
	}
	if gotKey != "k" || gotPath != "/models/gemini-x:generateContent" {
		t.Fatalf("unexpected request key=%q path=%q", gotKey, gotPath)
	}

	if _, err := g.GenerateText(context.Background(), "", "nothing"); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestNewGeneratorValidatesConfig(t *testing.T) {
	cases := []ProviderConfig{
		{Provider: "carrier-pigeon"},
		{Provider: "gemini", Model: "m"},
		{Provider: "ollama"},
		{Provider: "openai", Model: "m"},
		{Provider: "vertex", Model: "m"},
	}
	for _, cfg := range cases {
		g, err := NewGenerator(context.Background(), cfg)
		if err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
		if g != nil {
			t.Fatalf("expected nil generator for %+v, got %#v", cfg, g)
		}
	}
}
