package graphstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/llmc-dev/codeindex/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "rag_graph.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedGraph(t *testing.T, s *Store) {
	t.Helper()
	nodes := []model.GraphNode{
		{ID: "sym:a.Foo", Name: "Foo", Path: "a.go", Kind: "function", StartLine: 1, EndLine: 3},
		{ID: "sym:b.Bar", Name: "Bar", Path: "b.go", Kind: "function", StartLine: 1, EndLine: 3},
		{ID: "sym:c.Baz", Name: "Baz", Path: "c.go", Kind: "function", StartLine: 1, EndLine: 3},
	}
	edges := []model.GraphEdge{
		{SourceID: "sym:a.Foo", TargetID: "sym:b.Bar", Label: model.EdgeCalls},
		{SourceID: "sym:b.Bar", TargetID: "sym:c.Baz", Label: model.EdgeCalls},
	}
	if err := s.ReplaceGraph(context.Background(), nodes, edges); err != nil {
		t.Fatalf("ReplaceGraph: %v", err)
	}
}

func TestOutgoingIncomingNeighbors(t *testing.T) {
	s := openTestStore(t)
	seedGraph(t, s)
	ctx := context.Background()

	out, err := s.OutgoingNeighbors(ctx, "sym:a.Foo")
	if err != nil {
		t.Fatalf("OutgoingNeighbors: %v", err)
	}
	if len(out) != 1 || out[0].ID != "sym:b.Bar" {
		t.Fatalf("expected [sym:b.Bar], got %+v", out)
	}

	in, err := s.IncomingNeighbors(ctx, "sym:b.Bar")
	if err != nil {
		t.Fatalf("IncomingNeighbors: %v", err)
	}
	if len(in) != 1 || in[0].ID != "sym:a.Foo" {
		t.Fatalf("expected [sym:a.Foo], got %+v", in)
	}
}

func TestFileNeighbors(t *testing.T) {
	s := openTestStore(t)
	seedGraph(t, s)

	neighbors, err := s.FileNeighbors(context.Background(), "b.go")
	if err != nil {
		t.Fatalf("FileNeighbors: %v", err)
	}
	paths := map[string]bool{}
	for _, n := range neighbors {
		paths[n.Path] = true
	}
	if !paths["a.go"] || !paths["c.go"] {
		t.Fatalf("expected neighbors in a.go and c.go, got %+v", neighbors)
	}
	if paths["b.go"] {
		t.Fatal("FileNeighbors must not include the queried file itself")
	}
}

func TestDanglingEdgeTargetDoesNotError(t *testing.T) {
	s := openTestStore(t)
	nodes := []model.GraphNode{{ID: "sym:a.Foo", Name: "Foo", Path: "a.go", Kind: "function"}}
	edges := []model.GraphEdge{{SourceID: "sym:a.Foo", TargetID: "sym:missing.Nope", Label: model.EdgeCalls}}
	if err := s.ReplaceGraph(context.Background(), nodes, edges); err != nil {
		t.Fatalf("ReplaceGraph with dangling target should not error: %v", err)
	}

	out, err := s.OutgoingNeighbors(context.Background(), "sym:a.Foo")
	if err != nil {
		t.Fatalf("OutgoingNeighbors: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("dangling target has no node row, expected zero resolved neighbors, got %+v", out)
	}

	edgesOut, err := s.EdgesForNode(context.Background(), "sym:a.Foo")
	if err != nil {
		t.Fatalf("EdgesForNode: %v", err)
	}
	if len(edgesOut) != 1 {
		t.Fatalf("expected the dangling edge to still be recorded, got %+v", edgesOut)
	}
}

func TestIsStale_NeverBuiltIsStale(t *testing.T) {
	s := openTestStore(t)
	stale, err := s.IsStale(context.Background(), 100.0)
	if err != nil {
		t.Fatalf("IsStale: %v", err)
	}
	if !stale {
		t.Fatal("expected a never-built graph to be stale")
	}
}

func TestIsStale_ComparesAgainstSpanDBMTimeAtBuild(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.MarkBuilt(ctx, "2026-01-01T00:00:00Z", 100.0); err != nil {
		t.Fatalf("MarkBuilt: %v", err)
	}

	stale, err := s.IsStale(ctx, 100.0)
	if err != nil {
		t.Fatalf("IsStale (same mtime): %v", err)
	}
	if stale {
		t.Fatal("expected graph built from the current span DB mtime to be fresh")
	}

	stale, err = s.IsStale(ctx, 200.0)
	if err != nil {
		t.Fatalf("IsStale (newer mtime): %v", err)
	}
	if !stale {
		t.Fatal("expected graph built before a later file mtime to be stale")
	}
}
