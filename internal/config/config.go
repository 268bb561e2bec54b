// Package config holds the typed configuration surface for the indexing and
// retrieval engine. Config loading follows three layers in order of
// increasing precedence: built-in defaults, an optional JSON overlay file,
// then environment variables — the same precedence cmd/server/main.go uses
// in the teacher repo.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// BackendSpec names one LLM backend endpoint usable in a cascade tier.
type BackendSpec struct {
	Name     string            `json:"name"`
	Provider string            `json:"provider"` // ollama, lmstudio, openai_compat, custom
	BaseURL  string            `json:"base_url"`
	Model    string            `json:"model"`
	APIKey   string            `json:"api_key,omitempty"`
	TimeoutS int               `json:"timeout_seconds"`
	Options  map[string]string `json:"options,omitempty"`
}

// Tier is one escalation level of the enrichment cascade: an ordered chain
// of backends tried in sequence for items at this tier.
type Tier struct {
	Backends []BackendSpec `json:"backends"`
}

// RerankWeights are the composite-score weights for the C6 reranker.
type RerankWeights struct {
	BM25    float64 `json:"bm25"`
	Unigram float64 `json:"unigram"`
	Bigram  float64 `json:"bigram"`
	Path    float64 `json:"path"`
	Literal float64 `json:"literal"`
}

// DefaultRerankWeights mirrors tools/rag/rerank.py's rerank_hits weights.
func DefaultRerankWeights() RerankWeights {
	return RerankWeights{BM25: 0.60, Unigram: 0.20, Bigram: 0.15, Path: 0.03, Literal: 0.02}
}

// ScoringConfig configures the supplemental intent-aware extension scorer
// (grounded on llmc/rag/scoring.py), applied on top of the composite
// reranker score.
type ScoringConfig struct {
	EnableIntentDetection bool     `json:"enable_intent_detection"`
	CodeBoost             float64  `json:"code_boost"`
	DocPenalty            float64  `json:"doc_penalty"`
	TestPenalty           float64  `json:"test_penalty"`
	ExactMatchBoost       float64  `json:"exact_match_boost"`
	StemMatchBoost        float64  `json:"stem_match_boost"`
	PartialMatchBoost     float64  `json:"partial_match_boost"`
	CodeExtensions        []string `json:"code_extensions"`
	DocExtensions         []string `json:"doc_extensions"`
}

// DefaultScoringConfig mirrors scoring.py's module-level defaults.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		EnableIntentDetection: true,
		CodeBoost:             0.08,
		DocPenalty:            -0.06,
		TestPenalty:           -0.08,
		ExactMatchBoost:       0.20,
		StemMatchBoost:        0.15,
		PartialMatchBoost:     0.05,
		CodeExtensions:        []string{".py", ".ts", ".js", ".rs", ".go", ".c", ".cpp", ".h", ".tsx", ".jsx", ".java"},
		DocExtensions:         []string{".md", ".rst", ".txt"},
	}
}

// EnrichConfig controls the enrichment cascade and concurrency variant.
type EnrichConfig struct {
	Tiers              []Tier `json:"tiers"`
	MaxTier            int    `json:"max_tier"`
	AttemptsPerTier    int    `json:"attempts_per_tier"`
	MaxPromptChars     int    `json:"max_prompt_chars"`
	PromptTemplate     string `json:"prompt_template,omitempty"`
	// CodeFirstRatio is the starvation-avoidance interleave ratio (high:low)
	// used by the V1 code-first scheduler, default 5:1.
	CodeFirstRatio int `json:"code_first_ratio"`
	// ConveyorConcurrency bounds per-backend worker-pool size for V2.
	ConveyorConcurrency int `json:"conveyor_concurrency"`
	// WriterBatchSize/WriterFlushSeconds control the V2 writer task.
	WriterBatchSize    int `json:"writer_batch_size"`
	WriterFlushSeconds int `json:"writer_flush_seconds"`
	// OrphanTimeoutSeconds is how long a claim may be held before recovery.
	OrphanTimeoutSeconds int `json:"orphan_timeout_seconds"`
	EnforceLatin1       bool `json:"enforce_latin1"`
}

// DefaultEnrichConfig returns a two-tier default cascade (one backend per
// tier, a fast model then a larger one) pointed at a local Ollama instance.
func DefaultEnrichConfig() EnrichConfig {
	return EnrichConfig{
		Tiers: []Tier{
			{Backends: []BackendSpec{{Name: "local-fast", Provider: "ollama", BaseURL: "http://localhost:11434", Model: "llama3.1:8b", TimeoutS: 60}}},
			{Backends: []BackendSpec{{Name: "local-capable", Provider: "ollama", BaseURL: "http://localhost:11434", Model: "llama3.1:70b", TimeoutS: 180}}},
		},
		MaxTier:              1,
		AttemptsPerTier:      3,
		MaxPromptChars:       8000,
		CodeFirstRatio:       5,
		ConveyorConcurrency:  4,
		WriterBatchSize:      50,
		WriterFlushSeconds:   5,
		OrphanTimeoutSeconds: 600,
		EnforceLatin1:        false,
	}
}

// Config is the top-level configuration for a single repository's indexing
// engine.
type Config struct {
	RepoRoot string `json:"repo_root"`

	// DBPath is the Span Store path. Defaults to <repo>/.llmc/rag/index_v2.db.
	DBPath string `json:"db_path,omitempty"`
	// GraphDBPath is the Graph Store path. Defaults to <repo>/.llmc/rag_graph.db.
	GraphDBPath string `json:"graph_db_path,omitempty"`
	// WorkQueueDBPath is the global queue path. Defaults to ~/.llmc/work_queue.db.
	WorkQueueDBPath string `json:"work_queue_db_path,omitempty"`

	Rerank  RerankWeights `json:"rerank"`
	Scoring ScoringConfig `json:"scoring"`
	Enrich  EnrichConfig  `json:"enrich"`

	EmbeddingDim     int  `json:"embedding_dim"`
	EmbeddingProfile string `json:"embedding_profile"`

	// IgnorePatterns are extra glob patterns beyond .gitignore/.ragignore/defaults.
	IgnorePatterns []string `json:"ignore_patterns,omitempty"`

	// PendingCooldownSeconds gates pending_enrichments against recently
	// touched files (Open Question #2): 0 disables the cooldown.
	PendingCooldownSeconds int `json:"pending_cooldown_seconds"`
}

// DefaultConfig returns a Config with sensible defaults rooted at cwd.
func DefaultConfig() Config {
	return Config{
		RepoRoot:               ".",
		Rerank:                 DefaultRerankWeights(),
		Scoring:                DefaultScoringConfig(),
		Enrich:                 DefaultEnrichConfig(),
		EmbeddingDim:           768,
		EmbeddingProfile:       "default",
		PendingCooldownSeconds: 0,
	}
}

// SpanDBPath resolves the Span Store path under .llmc/rag.
func (c *Config) SpanDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.RepoRoot, ".llmc", "rag", "index_v2.db")
}

// GraphStorePath resolves the Graph Store path under .llmc.
func (c *Config) GraphStorePath() string {
	if c.GraphDBPath != "" {
		return c.GraphDBPath
	}
	return filepath.Join(c.RepoRoot, ".llmc", "rag_graph.db")
}

// GraphArtifactPath resolves the JSON schema-graph artifact path.
func (c *Config) GraphArtifactPath() string {
	return filepath.Join(c.RepoRoot, ".llmc", "rag_graph.json")
}

// IndexStatusPath resolves the Index Status JSON record path.
func (c *Config) IndexStatusPath() string {
	return filepath.Join(c.RepoRoot, ".llmc", "rag", "index_status.json")
}

// SpansExportPath resolves the append-only JSONL span export path.
func (c *Config) SpansExportPath() string {
	return filepath.Join(c.RepoRoot, ".llmc", "rag", "spans.jsonl")
}

// WorkQueuePath resolves the global cross-repo work-queue database path.
func (c *Config) WorkQueuePath() (string, error) {
	if c.WorkQueueDBPath != "" {
		return c.WorkQueueDBPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving work queue path: %w", err)
	}
	return filepath.Join(home, ".llmc", "work_queue.db"), nil
}

// NotifyPipePath resolves the global FIFO notification path.
func (c *Config) NotifyPipePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving notify pipe path: %w", err)
	}
	return filepath.Join(home, ".llmc", "run", "work-notify"), nil
}

// LoadOverlay decodes a JSON overlay file on top of an existing Config.
func LoadOverlay(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening config overlay %s: %w", path, err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("decoding config overlay %s: %w", path, err)
	}
	return nil
}

// Validate fails fast on missing required settings (spec 7, Config errors).
func (c *Config) Validate() error {
	if c.RepoRoot == "" {
		return fmt.Errorf("repo_root is required")
	}
	if len(c.Enrich.Tiers) == 0 {
		return fmt.Errorf("enrich.tiers must have at least one tier")
	}
	for i, t := range c.Enrich.Tiers {
		if len(t.Backends) == 0 {
			return fmt.Errorf("enrich.tiers[%d] has no backends", i)
		}
	}
	if c.Enrich.MaxTier < 0 || c.Enrich.MaxTier >= len(c.Enrich.Tiers) {
		return fmt.Errorf("enrich.max_tier out of range for %d configured tiers", len(c.Enrich.Tiers))
	}
	return nil
}
