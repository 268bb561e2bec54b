package doctor

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/llmc-dev/codeindex/internal/graphstore"
	"github.com/llmc-dev/codeindex/internal/model"
	"github.com/llmc-dev/codeindex/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index_v2.db")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRun_EmptyStoreIsEmpty(t *testing.T) {
	s := openTestStore(t)
	report, err := Run(context.Background(), s, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusEmpty {
		t.Errorf("status = %v, want EMPTY", report.Status)
	}
}

func seedSpan(t *testing.T, s *store.Store, path, hash string) {
	t.Helper()
	fileID, err := s.UpsertFile(model.File{Path: path, Lang: "go", FileHash: "h", Size: 1, MTime: 1})
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	if err := s.ReplaceSpans(fileID, []model.Span{
		{Symbol: "fn", Kind: "function", StartLine: 1, EndLine: 2, ByteStart: 0, ByteEnd: 5, SpanHash: hash},
	}); err != nil {
		t.Fatalf("ReplaceSpans: %v", err)
	}
}

func TestRun_OKWhenFullyEnriched(t *testing.T) {
	s := openTestStore(t)
	seedSpan(t, s, "a.go", "hash-a")
	if err := s.StoreEnrichment(model.Enrichment{SpanHash: "hash-a", Summary: "does a thing", SchemaVersion: "enrichment.v1"}); err != nil {
		t.Fatalf("StoreEnrichment: %v", err)
	}

	report, err := Run(context.Background(), s, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusOK {
		t.Errorf("status = %v, want OK", report.Status)
	}
	if report.PendingEnrichment != 0 {
		t.Errorf("pending enrichment = %d, want 0", report.PendingEnrichment)
	}
}

func TestRun_WarnOnHighPendingBacklog(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 4; i++ {
		seedSpan(t, s, filepath.Join("pkg", string(rune('a'+i))+".go"), "hash-"+string(rune('a'+i)))
	}
	// Enrich only one of four spans -> 75% pending, above the warn threshold.
	if err := s.StoreEnrichment(model.Enrichment{SpanHash: "hash-a", Summary: "enriched", SchemaVersion: "enrichment.v1"}); err != nil {
		t.Fatalf("StoreEnrichment: %v", err)
	}

	report, err := Run(context.Background(), s, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusWarn {
		t.Errorf("status = %v, want WARN (pending=%d of %d)", report.Status, report.PendingEnrichment, report.TableCounts["spans"])
	}
}

func TestRun_TopPendingFiles(t *testing.T) {
	s := openTestStore(t)
	seedSpan(t, s, "busy.go", "hash-busy")
	report, err := Run(context.Background(), s, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.TopPendingFiles) != 1 || report.TopPendingFiles[0].Path != "busy.go" {
		t.Errorf("top pending files = %+v, want [busy.go]", report.TopPendingFiles)
	}
}

func TestRun_GraphStaleness(t *testing.T) {
	s := openTestStore(t)
	seedSpan(t, s, "a.go", "hash-a")
	ctx := context.Background()

	graph, err := graphstore.Open(filepath.Join(t.TempDir(), "rag_graph.db"))
	if err != nil {
		t.Fatalf("graphstore.Open: %v", err)
	}
	t.Cleanup(func() { graph.Close() })

	report, err := Run(ctx, s, graph)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.GraphStale {
		t.Fatal("expected an un-built graph store to report stale")
	}

	maxMTime, err := s.MaxFileMTime()
	if err != nil {
		t.Fatalf("MaxFileMTime: %v", err)
	}
	if err := graph.MarkBuilt(ctx, "2026-01-01T00:00:00Z", maxMTime); err != nil {
		t.Fatalf("MarkBuilt: %v", err)
	}

	report, err = Run(ctx, s, graph)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.GraphStale {
		t.Fatal("expected graph built from the current span DB mtime to report fresh")
	}
}

func TestExport_ProducesReadableTarball(t *testing.T) {
	s := openTestStore(t)
	seedSpan(t, s, "a.go", "hash-a")
	if err := s.StoreEnrichment(model.Enrichment{SpanHash: "hash-a", Summary: "does a thing", SchemaVersion: "enrichment.v1"}); err != nil {
		t.Fatalf("StoreEnrichment: %v", err)
	}
	if err := s.StoreEmbedding(model.Embedding{SpanHash: "hash-a", Vector: []float32{0.1, 0.2, 0.3}, RouteName: model.RouteCode, ProfileName: "default"}); err != nil {
		t.Fatalf("StoreEmbedding: %v", err)
	}

	var buf bytes.Buffer
	exportedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := Export(s, &buf, exportedAt); err != nil {
		t.Fatalf("Export: %v", err)
	}

	gz, err := gzip.NewReader(&buf)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	tr := tar.NewReader(gz)

	files := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar.Next: %v", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("reading %s: %v", hdr.Name, err)
		}
		files[hdr.Name] = data
	}

	for _, name := range []string{"chunks.jsonl", "embeddings.f32", "metadata.json"} {
		if _, ok := files[name]; !ok {
			t.Errorf("missing %s in archive", name)
		}
	}

	var meta exportMetadata
	if err := json.Unmarshal(files["metadata.json"], &meta); err != nil {
		t.Fatalf("decoding metadata.json: %v", err)
	}
	if meta.SpanCount != 1 {
		t.Errorf("span_count = %d, want 1", meta.SpanCount)
	}
	if meta.EmbeddingDim != 3 {
		t.Errorf("embedding_dim = %d, want 3", meta.EmbeddingDim)
	}
	if len(meta.VectorOrder) != 1 || meta.VectorOrder[0] != "hash-a" {
		t.Errorf("vector_order = %v, want [hash-a]", meta.VectorOrder)
	}
	if len(files["embeddings.f32"]) != 12 {
		t.Errorf("embeddings.f32 length = %d, want 12 (3 float32s)", len(files["embeddings.f32"]))
	}
}
