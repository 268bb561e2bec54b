package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/llmc-dev/codeindex/internal/config"
	"github.com/llmc-dev/codeindex/internal/llm"
	"github.com/llmc-dev/codeindex/internal/model"
)

// SourceReader returns the byte contents of a span's owning file, used to
// build a prompt. Callers typically back this with os.ReadFile against the
// repo root; kept as an interface so tests don't need a real filesystem.
type SourceReader func(filePath string) ([]byte, error)

// Cascade tries each backend in each tier, in order, returning the first
// enrichment that parses and validates; storing it is left to the caller.
// Tiers escalate on exhaustion via the
// caller driving the work queue's FailWork/CompleteWork bookkeeping.
type Cascade struct {
	Tiers         []config.Tier
	MaxPromptChars int
	EnforceLatin1  bool
	Source         SourceReader

	providers map[string]llm.Provider // cache keyed by backend name
}

// NewCascade builds providers for every backend named across all tiers.
func NewCascade(cfg config.EnrichConfig, source SourceReader) (*Cascade, error) {
	c := &Cascade{
		Tiers:          cfg.Tiers,
		MaxPromptChars: cfg.MaxPromptChars,
		EnforceLatin1:  cfg.EnforceLatin1,
		Source:         source,
		providers:      map[string]llm.Provider{},
	}
	for _, tier := range cfg.Tiers {
		for _, b := range tier.Backends {
			p, err := llm.NewProvider(llm.Config{Provider: b.Provider, Model: b.Model, BaseURL: b.BaseURL, APIKey: b.APIKey})
			if err != nil {
				return nil, fmt.Errorf("enrich: building provider %q: %w", b.Name, err)
			}
			c.providers[b.Name] = p
		}
	}
	return c, nil
}

// Attempt is one backend's outcome, recorded for diagnostics regardless of
// whether it ultimately succeeded.
type Attempt struct {
	Backend string
	Err     error
}

// Result is what running a tier against one span produced.
type Result struct {
	Enrichment model.Enrichment
	Attempts   []Attempt
	Ok         bool
}

// RunTier attempts every backend in tiers[tierIndex], in order, returning on
// the first success. All failures are recorded in Result.Attempts so the
// caller can log or surface them even when the tier ultimately succeeds on
// a later backend.
func (c *Cascade) RunTier(ctx context.Context, tierIndex int, span model.Span) Result {
	if tierIndex < 0 || tierIndex >= len(c.Tiers) {
		return Result{Attempts: []Attempt{{Backend: "<invalid-tier>", Err: fmt.Errorf("enrich: tier %d out of range", tierIndex)}}}
	}

	var attempts []Attempt
	source, err := c.Source(span.FilePath)
	if err != nil {
		return Result{Attempts: []Attempt{{Backend: "<source>", Err: err}}}
	}

	for _, backend := range c.Tiers[tierIndex].Backends {
		provider, ok := c.providers[backend.Name]
		if !ok {
			attempts = append(attempts, Attempt{Backend: backend.Name, Err: fmt.Errorf("enrich: no provider for backend %q", backend.Name)})
			continue
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if backend.TimeoutS > 0 {
			callCtx, cancel = context.WithTimeout(ctx, time.Duration(backend.TimeoutS)*time.Second)
		}

		enrichment, err := c.callBackend(callCtx, provider, backend, span, source)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			attempts = append(attempts, Attempt{Backend: backend.Name, Err: err})
			slog.Warn("enrich: backend attempt failed", "backend", backend.Name, "span_hash", span.SpanHash, "error", err)
			continue
		}

		attempts = append(attempts, Attempt{Backend: backend.Name})
		return Result{Enrichment: enrichment, Attempts: attempts, Ok: true}
	}

	return Result{Attempts: attempts, Ok: false}
}

func (c *Cascade) callBackend(ctx context.Context, provider llm.Provider, backend config.BackendSpec, span model.Span, source []byte) (model.Enrichment, error) {
	prompt := BuildPrompt(span, string(source), c.MaxPromptChars)

	var content string
	var perf llm.PerfMeta
	if ollama, isOllama := provider.(interface {
		GenerateWithMeta(context.Context, string, string) (*llm.ChatResponse, error)
	}); isOllama {
		resp, err := ollama.GenerateWithMeta(ctx, backend.Model, prompt)
		if err != nil {
			return model.Enrichment{}, err
		}
		content, perf = resp.Content, resp.Perf
	} else {
		resp, err := provider.Chat(ctx, llm.ChatRequest{
			Model:          backend.Model,
			Messages:       []llm.Message{{Role: "user", Content: prompt}},
			ResponseFormat: "json_object",
		})
		if err != nil {
			return model.Enrichment{}, err
		}
		content, perf = resp.Content, resp.Perf
	}

	payload, err := ExtractJSON(content)
	if err != nil {
		return model.Enrichment{}, err
	}

	if err := Validate(payload, span.StartLine, span.EndLine, c.EnforceLatin1); err != nil {
		return model.Enrichment{}, err
	}

	return toEnrichment(span, backend, payload, perf), nil
}

func toEnrichment(span model.Span, backend config.BackendSpec, p Payload, perf llm.PerfMeta) model.Enrichment {
	usage := ""
	if p.UsageSnippet != nil {
		usage = *p.UsageSnippet
	}

	evidence := make([]model.Evidence, 0, len(p.Evidence))
	for _, ev := range p.Evidence {
		var lines [2]int
		if len(ev.Lines) == 2 {
			lines = [2]int{ev.Lines[0], ev.Lines[1]}
		}
		evidence = append(evidence, model.Evidence{Field: ev.Field, Lines: lines})
	}

	schemaVersion := p.SchemaVersion
	if schemaVersion == "" {
		schemaVersion = schemaVersionLabel
	}

	modelName := p.Model
	if modelName == "" {
		modelName = backend.Model
	}

	return model.Enrichment{
		SpanHash:              span.SpanHash,
		Summary:                p.Summary120w,
		Tags:                   p.Tags,
		Evidence:               evidence,
		Model:                  modelName,
		CreatedAt:              time.Now(),
		SchemaVersion:          schemaVersion,
		Inputs:                 p.Inputs,
		Outputs:                p.Outputs,
		SideEffects:            p.SideEffects,
		Pitfalls:               p.Pitfalls,
		UsageSnippet:           usage,
		ContentType:            string(span.SliceType),
		ContentLanguage:        coalesce(span.SliceLanguage, span.Lang),
		ContentTypeConfidence:  span.ClassifierConfidence,
		ContentTypeSource:      "deterministic_classifier_v1",
		TokensPerSecond:        perf.TokensPerSecond,
		EvalCount:              perf.EvalCount,
		EvalDurationNS:         perf.EvalDurationNS,
		PromptEvalCount:        perf.PromptEvalCount,
		TotalDurationNS:        perf.TotalDurationNS,
		BackendHost:            perf.BackendHost,
	}
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
