package retrieval

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/llmc-dev/codeindex/internal/graphstore"
	"github.com/llmc-dev/codeindex/internal/model"
)

func openTestGraph(t *testing.T) *graphstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.db")
	gs, err := graphstore.Open(path)
	if err != nil {
		t.Fatalf("opening graph store: %v", err)
	}
	t.Cleanup(func() { gs.Close() })
	return gs
}

func TestStitchGraph_FromStore(t *testing.T) {
	gs := openTestGraph(t)
	ctx := context.Background()

	nodes := []model.GraphNode{
		{ID: "file:a.go", Name: "a.go", Path: "a.go", Kind: "file"},
		{ID: "file:b.go", Name: "b.go", Path: "b.go", Kind: "file"},
		{ID: "file:c.go", Name: "c.go", Path: "c.go", Kind: "file"},
	}
	edges := []model.GraphEdge{
		{SourceID: "file:a.go", TargetID: "file:b.go", Label: model.EdgeImports},
	}
	if err := gs.ReplaceGraph(ctx, nodes, edges); err != nil {
		t.Fatalf("ReplaceGraph: %v", err)
	}

	added, err := StitchGraph(ctx, gs, "", []string{"a.go"}, 3)
	if err != nil {
		t.Fatalf("StitchGraph: %v", err)
	}
	if len(added) != 1 || added[0] != "b.go" {
		t.Errorf("expected [b.go], got %v", added)
	}
}

func TestStitchGraph_AlreadyAtLimit(t *testing.T) {
	gs := openTestGraph(t)
	added, err := StitchGraph(context.Background(), gs, "", []string{"a.go", "b.go"}, 2)
	if err != nil {
		t.Fatalf("StitchGraph: %v", err)
	}
	if len(added) != 0 {
		t.Errorf("expected no padding needed, got %v", added)
	}
}

func TestStitchGraph_FromArtifactFallback(t *testing.T) {
	artifact := graphArtifact{
		Nodes: []model.GraphNode{
			{ID: "file:a.go", Path: "a.go"},
			{ID: "file:b.go", Path: "b.go"},
		},
		Edges: []model.GraphEdge{
			{SourceID: "file:a.go", TargetID: "file:b.go", Label: model.EdgeCalls},
		},
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "graph.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	added, err := StitchGraph(context.Background(), nil, path, []string{"a.go"}, 3)
	if err != nil {
		t.Fatalf("StitchGraph: %v", err)
	}
	if len(added) != 1 || added[0] != "b.go" {
		t.Errorf("expected [b.go], got %v", added)
	}
}

func TestStitchGraph_MissingArtifactIsNotError(t *testing.T) {
	added, err := StitchGraph(context.Background(), nil, "/nonexistent/graph.json", []string{"a.go"}, 3)
	if err != nil {
		t.Fatalf("expected no error for missing artifact, got %v", err)
	}
	if added != nil {
		t.Errorf("expected no additions, got %v", added)
	}
}
