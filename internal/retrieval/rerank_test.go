package retrieval

import (
	"testing"

	"github.com/llmc-dev/codeindex/internal/config"
)

func TestNormalizeBM25(t *testing.T) {
	if got := normalizeBM25(0); got != 1 {
		t.Errorf("normalizeBM25(0) = %v, want 1", got)
	}
	if got := normalizeBM25(-5); got != 1 {
		t.Errorf("normalizeBM25(-5) = %v, want 1 (negative clamped to 0)", got)
	}
	if got := normalizeBM25(1); got != 0.5 {
		t.Errorf("normalizeBM25(1) = %v, want 0.5", got)
	}
}

func TestJaccard(t *testing.T) {
	a := []string{"foo", "bar"}
	b := []string{"foo", "baz"}
	if got := jaccard(a, b); got != 1.0/3.0 {
		t.Errorf("jaccard = %v, want 1/3", got)
	}
	if got := jaccard(nil, b); got != 0 {
		t.Errorf("jaccard with empty set = %v, want 0", got)
	}
}

func TestRerank_OrdersByCompositeScore(t *testing.T) {
	hits := []Hit{
		{Path: "a/worker.go", Text: "func Worker does nothing related", StartLine: 1, EndLine: 5, RawBM25: 2.0},
		{Path: "b/retry_worker.go", Text: "retry worker pool for enrichment", StartLine: 1, EndLine: 5, RawBM25: 2.0},
	}
	scored := Rerank("retry worker pool", hits, config.DefaultRerankWeights(), 10)
	if len(scored) != 2 {
		t.Fatalf("expected 2 results, got %d", len(scored))
	}
	if scored[0].Path != "b/retry_worker.go" {
		t.Errorf("expected retry_worker.go to rank first, got %s (score %v vs %v)", scored[0].Path, scored[0].Score, scored[1].Score)
	}
}

func TestRerank_RespectsLimit(t *testing.T) {
	hits := make([]Hit, 5)
	for i := range hits {
		hits[i] = Hit{Path: "f.go", Text: "x", RawBM25: float64(i)}
	}
	scored := Rerank("x", hits, config.DefaultRerankWeights(), 2)
	if len(scored) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(scored))
	}
}

func TestBigrams(t *testing.T) {
	if got := bigrams([]string{"a"}); got != nil {
		t.Errorf("single token should produce no bigrams, got %v", got)
	}
	got := bigrams([]string{"a", "b", "c"})
	want := []string{"a_b", "b_c"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("bigrams = %v, want %v", got, want)
	}
}
