package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
	}{
		{"ollama", "*llm.ollamaProvider"},
		{"openai_compat", "*llm.openAICompatProvider"},
		{"custom", "*llm.openAICompatProvider"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "test-model"})
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", tt.provider, err)
			}
			if got := fmt.Sprintf("%T", p); got != tt.wantType {
				t.Errorf("NewProvider(%q) type = %s, want %s", tt.provider, got, tt.wantType)
			}
		})
	}
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(Config{Provider: "doesnotexist"})
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
}

func TestNewProviderEmpty(t *testing.T) {
	_, err := NewProvider(Config{})
	if err == nil {
		t.Fatal("expected error for empty provider, got nil")
	}
}

func TestOllamaDefaultBaseURL(t *testing.T) {
	p := NewOllama(Config{Model: "llama3.1:8b"})
	op, ok := p.(*ollamaProvider)
	if !ok {
		t.Fatalf("expected *ollamaProvider, got %T", p)
	}
	if op.base.cfg.BaseURL != "http://localhost:11434" {
		t.Errorf("BaseURL = %q, want default", op.base.cfg.BaseURL)
	}
}

func TestOpenAICompatChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hello"}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12},
		})
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{Provider: "custom", Model: "test-model", BaseURL: srv.URL})
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q, want %q", resp.Content, "hello")
	}
	if resp.TotalTokens != 12 {
		t.Errorf("TotalTokens = %d, want 12", resp.TotalTokens)
	}
}

func TestOllamaGenerateWithMetaCapturesPerf(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model":             "llama3.1:8b",
			"message":           map[string]any{"content": "{}"},
			"total_duration":    2_000_000_000,
			"eval_count":        100,
			"eval_duration":     1_000_000_000,
			"prompt_eval_count": 40,
		})
	}))
	defer srv.Close()

	p := NewOllama(Config{Provider: "ollama", Model: "llama3.1:8b", BaseURL: srv.URL}).(*ollamaProvider)
	resp, err := p.GenerateWithMeta(context.Background(), "", "summarize this")
	if err != nil {
		t.Fatalf("GenerateWithMeta: %v", err)
	}
	if resp.Perf.EvalCount != 100 {
		t.Errorf("EvalCount = %d, want 100", resp.Perf.EvalCount)
	}
	if resp.Perf.TokensPerSecond != 100 {
		t.Errorf("TokensPerSecond = %v, want 100 (100 tokens / 1s)", resp.Perf.TokensPerSecond)
	}
	if reflect.TypeOf(resp.Perf.BackendHost).Kind().String() != "string" {
		t.Fatal("BackendHost must be a string")
	}
}
