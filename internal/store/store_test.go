package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/llmc-dev/codeindex/internal/model"
)

func spanHash(lang, body string) string {
	h := sha256.Sum256([]byte(lang + "\x00" + body))
	return hex.EncodeToString(h[:])
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index_v2.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// S1: incremental preservation across a reindex that adds a function.
func TestReplaceSpans_IncrementalPreservation(t *testing.T) {
	s := openTestStore(t)

	fileID, err := s.UpsertFile(model.File{Path: "foo.py", Lang: "python", FileHash: "h1", Size: 24, MTime: 1})
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}

	barHash := spanHash("python", "def bar(): return 42")
	if err := s.ReplaceSpans(fileID, []model.Span{
		{Symbol: "bar", Kind: "function", StartLine: 1, EndLine: 1, ByteStart: 0, ByteEnd: 21, SpanHash: barHash},
	}); err != nil {
		t.Fatalf("ReplaceSpans (initial): %v", err)
	}

	spans, err := s.FetchAllSpans()
	if err != nil {
		t.Fatalf("FetchAllSpans: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("expected 1 span after initial index, got %d", len(spans))
	}

	if err := s.StoreEnrichment(model.Enrichment{SpanHash: barHash, Summary: "test summary", SchemaVersion: "1"}); err != nil {
		t.Fatalf("StoreEnrichment: %v", err)
	}

	bazHash := spanHash("python", "def baz(): return 7")
	if err := s.ReplaceSpans(fileID, []model.Span{
		{Symbol: "bar", Kind: "function", StartLine: 1, EndLine: 1, ByteStart: 0, ByteEnd: 21, SpanHash: barHash},
		{Symbol: "baz", Kind: "function", StartLine: 2, EndLine: 2, ByteStart: 22, ByteEnd: 42, SpanHash: bazHash},
	}); err != nil {
		t.Fatalf("ReplaceSpans (reindex): %v", err)
	}

	spans, err = s.FetchAllSpans()
	if err != nil {
		t.Fatalf("FetchAllSpans: %v", err)
	}
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans after reindex, got %d", len(spans))
	}

	enrichments, err := s.FetchAllEnrichments()
	if err != nil {
		t.Fatalf("FetchAllEnrichments: %v", err)
	}
	var found bool
	for _, e := range enrichments {
		if e.SpanHash == barHash {
			found = true
			if e.Summary != "test summary" {
				t.Fatalf("bar's enrichment summary changed: %q", e.Summary)
			}
		}
	}
	if !found {
		t.Fatal("bar's enrichment was not preserved across reindex")
	}
}

// S6: differential safety — an extractor returning zero spans must not wipe
// existing spans or enrichments, and must surface ErrEmptySpansGuard.
func TestReplaceSpans_EmptyExtractorGuard(t *testing.T) {
	s := openTestStore(t)

	fileID, err := s.UpsertFile(model.File{Path: "many.py", Lang: "python", FileHash: "h1", Size: 100, MTime: 1})
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}

	var hashes []string
	var spans []model.Span
	for i := 0; i < 5; i++ {
		h := spanHash("python", fmt.Sprintf("def f%d(): pass", i))
		hashes = append(hashes, h)
		spans = append(spans, model.Span{Symbol: fmt.Sprintf("f%d", i), Kind: "function", StartLine: i + 1, EndLine: i + 1, SpanHash: h})
	}
	if err := s.ReplaceSpans(fileID, spans); err != nil {
		t.Fatalf("ReplaceSpans (seed): %v", err)
	}
	for _, h := range hashes {
		if err := s.StoreEnrichment(model.Enrichment{SpanHash: h, Summary: "summary for " + h, SchemaVersion: "1"}); err != nil {
			t.Fatalf("StoreEnrichment: %v", err)
		}
	}

	err = s.ReplaceSpans(fileID, nil)
	if !errors.Is(err, ErrEmptySpansGuard) {
		t.Fatalf("expected ErrEmptySpansGuard, got %v", err)
	}

	got, err := s.FetchAllSpans()
	if err != nil {
		t.Fatalf("FetchAllSpans: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 spans preserved, got %d", len(got))
	}
	enrichments, err := s.FetchAllEnrichments()
	if err != nil {
		t.Fatalf("FetchAllEnrichments: %v", err)
	}
	if len(enrichments) != 5 {
		t.Fatalf("expected 5 enrichments preserved, got %d", len(enrichments))
	}
}

// S5: the FTS projection must use a tokenizer with no stopword list, so a
// summary containing "model" is still findable.
func TestSearchFTS_NoStopwordFiltering(t *testing.T) {
	s := openTestStore(t)
	if !s.FTSAvailable() {
		t.Skip("fts5 not available in this sqlite build")
	}

	fileID, err := s.UpsertFile(model.File{Path: "a.py", Lang: "python", FileHash: "h1", Size: 10, MTime: 1})
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	h1 := spanHash("python", "class Model: pass")
	h2 := spanHash("python", "def train(model): pass")
	if err := s.ReplaceSpans(fileID, []model.Span{
		{Symbol: "Model", Kind: "class", StartLine: 1, EndLine: 1, SpanHash: h1},
		{Symbol: "train", Kind: "function", StartLine: 2, EndLine: 2, SpanHash: h2},
	}); err != nil {
		t.Fatalf("ReplaceSpans: %v", err)
	}
	if err := s.StoreEnrichment(model.Enrichment{SpanHash: h1, Summary: "defines the data model used by training", SchemaVersion: "1"}); err != nil {
		t.Fatalf("StoreEnrichment: %v", err)
	}
	if err := s.StoreEnrichment(model.Enrichment{SpanHash: h2, Summary: "trains the model against a dataset", SchemaVersion: "1"}); err != nil {
		t.Fatalf("StoreEnrichment: %v", err)
	}

	if _, err := s.RebuildFTS(); err != nil {
		t.Fatalf("RebuildFTS: %v", err)
	}

	hits, err := s.SearchFTS("model", 10)
	if err != nil {
		t.Fatalf("SearchFTS: %v", err)
	}
	if len(hits) < 1 {
		t.Fatal("expected at least one hit for \"model\" under a stopword-free tokenizer")
	}
}

func TestOpen_MigrationIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index_v2.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open (first): %v", err)
	}
	if _, err := s1.UpsertFile(model.File{Path: "x.py", Lang: "python", FileHash: "h", Size: 1, MTime: 1}); err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("Open (second, re-opening existing db): %v", err)
	}
	defer s2.Close()

	hash, ok, err := s2.GetFileHash("x.py")
	if err != nil {
		t.Fatalf("GetFileHash: %v", err)
	}
	if !ok || hash != "h" {
		t.Fatalf("expected file to survive reopen, got ok=%v hash=%q", ok, hash)
	}
}

func TestStoreEmbedding_RoutesByContentType(t *testing.T) {
	s := openTestStore(t)
	fileID, err := s.UpsertFile(model.File{Path: "a.go", Lang: "go", FileHash: "h", Size: 1, MTime: 1})
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	h := spanHash("go", "func F() {}")
	if err := s.ReplaceSpans(fileID, []model.Span{{Symbol: "F", Kind: "function", SpanHash: h}}); err != nil {
		t.Fatalf("ReplaceSpans: %v", err)
	}

	if err := s.StoreEmbedding(model.Embedding{SpanHash: h, Vector: []float32{0.1, 0.2, 0.3}, RouteName: model.RouteCode, ProfileName: "default"}); err != nil {
		t.Fatalf("StoreEmbedding: %v", err)
	}

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM emb_code WHERE span_hash = ?", h).Scan(&n); err != nil {
		t.Fatalf("querying emb_code: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected embedding routed to emb_code, found %d rows", n)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM embeddings WHERE span_hash = ?", h).Scan(&n); err != nil {
		t.Fatalf("querying embeddings: %v", err)
	}
	if n != 0 {
		t.Fatalf("code embedding leaked into embeddings table: %d rows", n)
	}
}
