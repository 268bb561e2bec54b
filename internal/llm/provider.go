// Package llm provides the backend adapter abstraction the enrichment
// cascade (internal/enrich) dispatches against: a common Chat/Embed
// surface plus an Ollama-specific perf-metadata variant used to populate
// an Enrichment's TokensPerSecond/EvalCount family of fields.
package llm

import (
	"context"
	"fmt"
)

// Provider is the interface every LLM backend adapter implements.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// ResponseFormat can be set to "json_object" for JSON mode.
	ResponseFormat string `json:"response_format,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`

	// Perf is populated only by providers that expose native generation
	// timing (currently Ollama's native API); zero value elsewhere.
	Perf PerfMeta `json:"-"`
}

// PerfMeta carries backend-reported generation performance, persisted onto
// the owning Enrichment row.
type PerfMeta struct {
	TokensPerSecond float64
	EvalCount       int
	EvalDurationNS  int64
	PromptEvalCount int
	TotalDurationNS int64
	BackendHost     string
}

// Config configures an LLM provider instance.
type Config struct {
	Provider string `json:"provider"` // ollama, lmstudio, openai_compat, custom
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
}

// NewProvider builds a Provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg), nil
	case "openai_compat", "lmstudio", "custom":
		return NewOpenAICompat(cfg), nil
	case "":
		return nil, fmt.Errorf("llm: provider not specified")
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
