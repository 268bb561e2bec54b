package graphbuild

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/llmc-dev/codeindex/internal/graphstore"
	"github.com/llmc-dev/codeindex/internal/model"
)

func sampleSpans() []model.Span {
	return []model.Span{
		{FilePath: "main.go", Symbol: "main.go#main", Kind: "function", StartLine: 1, EndLine: 5, SpanHash: "hash-main", Imports: []string{"fmt", "pkg/worker"}},
		{FilePath: "pkg/worker/worker.go", Symbol: "worker.go#Run", Kind: "function", StartLine: 1, EndLine: 10, SpanHash: "hash-run", Imports: []string{"context"}},
	}
}

func TestBuild_ProducesFileAndSymbolNodes(t *testing.T) {
	spans := sampleSpans()
	nodes, edges, err := Build(spans, nil, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var fileNodes, symbolNodes int
	for _, n := range nodes {
		switch n.Kind {
		case "file":
			fileNodes++
		default:
			symbolNodes++
		}
	}
	if fileNodes != 2 {
		t.Errorf("file nodes = %d, want 2", fileNodes)
	}
	if symbolNodes != 2 {
		t.Errorf("symbol nodes = %d, want 2", symbolNodes)
	}

	var sawImport bool
	for _, e := range edges {
		if e.SourceID == "file:main.go" && e.TargetID == "file:pkg/worker" && e.Label == model.EdgeImports {
			sawImport = true
		}
	}
	if !sawImport {
		t.Errorf("expected an IMPORTS edge from main.go to pkg/worker, edges = %+v", edges)
	}
}

func TestBuild_SymbolIDUsesSymPrefix(t *testing.T) {
	nodes, _, err := Build(sampleSpans(), nil, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	found := false
	for _, n := range nodes {
		if n.ID == "sym:main.go#main" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a node with id sym:main.go#main, nodes = %+v", nodes)
	}
}

func TestBuild_AttachesEnrichmentMetadataWhenPresent(t *testing.T) {
	enrichments := []model.Enrichment{
		{SpanHash: "hash-main", Summary: "entry point", SchemaVersion: "enrichment.v1"},
	}
	nodes, _, err := Build(sampleSpans(), enrichments, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, n := range nodes {
		if n.ID != "sym:main.go#main" {
			continue
		}
		if n.Metadata["summary"] != "entry point" || n.Metadata["span_hash"] != "hash-main" {
			t.Errorf("metadata = %+v, want summary/span_hash attached", n.Metadata)
		}
		return
	}
	t.Fatalf("did not find sym:main.go#main node")
}

func TestBuild_MissingEnrichmentIsGraceful(t *testing.T) {
	nodes, _, err := Build(sampleSpans(), nil, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, n := range nodes {
		if n.ID == "sym:worker.go#Run" && n.Metadata != nil {
			t.Errorf("expected nil metadata for unenriched span, got %+v", n.Metadata)
		}
	}
}

func TestBuild_RequireEnrichmentFailsOnEmptyEnrichments(t *testing.T) {
	_, _, err := Build(sampleSpans(), nil, Options{RequireEnrichment: true})
	if err != ErrNoEnrichments {
		t.Errorf("err = %v, want ErrNoEnrichments", err)
	}
}

func TestBuild_RequireEnrichmentSucceedsWhenPresent(t *testing.T) {
	enrichments := []model.Enrichment{{SpanHash: "hash-main", Summary: "s", SchemaVersion: "enrichment.v1"}}
	_, _, err := Build(sampleSpans(), enrichments, Options{RequireEnrichment: true})
	if err != nil {
		t.Errorf("Build: %v, want success", err)
	}
}

func TestLoadIntoStore_RoundTrips(t *testing.T) {
	nodes, edges, err := Build(sampleSpans(), nil, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	gs, err := graphstore.Open(filepath.Join(t.TempDir(), "rag_graph.db"))
	if err != nil {
		t.Fatalf("graphstore.Open: %v", err)
	}
	defer gs.Close()

	ctx := context.Background()
	if err := LoadIntoStore(ctx, gs, nodes, edges); err != nil {
		t.Fatalf("LoadIntoStore: %v", err)
	}

	_, ok, err := gs.GetNode(ctx, "sym:main.go#main")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if !ok {
		t.Fatalf("expected sym:main.go#main to round-trip into the graph store")
	}
}
