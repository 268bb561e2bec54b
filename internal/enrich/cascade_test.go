package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/llmc-dev/codeindex/internal/config"
	"github.com/llmc-dev/codeindex/internal/llm"
	"github.com/llmc-dev/codeindex/internal/model"
)

type stubProvider struct {
	content string
	err     error
}

func (s *stubProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.ChatResponse{Content: s.content}, nil
}

func (s *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func testSpan() model.Span {
	return model.Span{
		FilePath:  "pkg/thing.go",
		Lang:      "go",
		Symbol:    "DoThing",
		StartLine: 10,
		EndLine:   20,
		SpanHash:  "sha256:deadbeef",
		SliceType: model.SliceCode,
	}
}

func validJSONResponse() string {
	return `{"summary_120w": "Does the thing.", "inputs": ["x"], "outputs": ["y"], ` +
		`"side_effects": [], "pitfalls": [], "usage_snippet": null, ` +
		`"evidence": [{"field": "summary_120w", "lines": [10, 20]}]}`
}

func TestCascade_RunTier_SuccessOnFirstBackend(t *testing.T) {
	c := &Cascade{
		Tiers: []config.Tier{
			{Backends: []config.BackendSpec{{Name: "a", Provider: "openai_compat", Model: "m"}}},
		},
		Source:    func(string) ([]byte, error) { return []byte("func DoThing() {}"), nil },
		providers: map[string]llm.Provider{"a": &stubProvider{content: validJSONResponse()}},
	}

	result := c.RunTier(context.Background(), 0, testSpan())
	if !result.Ok {
		t.Fatalf("expected success, attempts: %+v", result.Attempts)
	}
	if result.Enrichment.Summary != "Does the thing." {
		t.Errorf("Summary = %q", result.Enrichment.Summary)
	}
	if result.Enrichment.ContentType != string(model.SliceCode) {
		t.Errorf("ContentType = %q, want %q", result.Enrichment.ContentType, model.SliceCode)
	}
}

func TestCascade_RunTier_FallsThroughToSecondBackend(t *testing.T) {
	c := &Cascade{
		Tiers: []config.Tier{
			{Backends: []config.BackendSpec{
				{Name: "broken", Provider: "openai_compat", Model: "m"},
				{Name: "good", Provider: "openai_compat", Model: "m"},
			}},
		},
		Source: func(string) ([]byte, error) { return []byte("func DoThing() {}"), nil },
		providers: map[string]llm.Provider{
			"broken": &stubProvider{err: errors.New("connection refused")},
			"good":   &stubProvider{content: validJSONResponse()},
		},
	}

	result := c.RunTier(context.Background(), 0, testSpan())
	if !result.Ok {
		t.Fatalf("expected success via fallthrough, attempts: %+v", result.Attempts)
	}
	if len(result.Attempts) != 2 {
		t.Errorf("Attempts = %d, want 2 (the broken backend, then the good one)", len(result.Attempts))
	}
}

func TestCascade_RunTier_AllBackendsFail(t *testing.T) {
	c := &Cascade{
		Tiers: []config.Tier{
			{Backends: []config.BackendSpec{{Name: "a", Provider: "openai_compat", Model: "m"}}},
		},
		Source:    func(string) ([]byte, error) { return []byte("func DoThing() {}"), nil },
		providers: map[string]llm.Provider{"a": &stubProvider{content: "not json"}},
	}

	result := c.RunTier(context.Background(), 0, testSpan())
	if result.Ok {
		t.Fatal("expected failure for unparseable response")
	}
	if len(result.Attempts) != 1 {
		t.Errorf("Attempts = %d, want 1", len(result.Attempts))
	}
}

func TestCascade_RunTier_ValidationFailureDoesNotPersist(t *testing.T) {
	badResponse := `{"summary_120w": "Does the thing.", "inputs": [], "outputs": [], ` +
		`"side_effects": [], "pitfalls": [], "evidence": [{"field": "summary_120w", "lines": [999, 1000]}]}`
	c := &Cascade{
		Tiers: []config.Tier{
			{Backends: []config.BackendSpec{{Name: "a", Provider: "openai_compat", Model: "m"}}},
		},
		Source:    func(string) ([]byte, error) { return []byte("func DoThing() {}"), nil },
		providers: map[string]llm.Provider{"a": &stubProvider{content: badResponse}},
	}

	result := c.RunTier(context.Background(), 0, testSpan())
	if result.Ok {
		t.Fatal("expected validation failure to surface as a non-ok result")
	}
}
