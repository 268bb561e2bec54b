package retrieval

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/llmc-dev/codeindex/internal/config"
	"github.com/llmc-dev/codeindex/internal/graphstore"
	"github.com/llmc-dev/codeindex/internal/model"
	"github.com/llmc-dev/codeindex/internal/store"
)

func openFacadeTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index_v2.db")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func gitRepoWithCommit(t *testing.T) (dir, head string) {
	t.Helper()
	dir = t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@t.com", "GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@t.com")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init")
	if err := os.WriteFile(filepath.Join(dir, "worker.py"), []byte("def run_worker():\n    pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "worker.py")
	run("commit", "-m", "initial")
	out, err := exec.Command("git", "-C", dir, "rev-parse", "HEAD").Output()
	if err != nil {
		t.Fatalf("rev-parse: %v", err)
	}
	return dir, string(out[:len(out)-1])
}

func freshStatusPath(t *testing.T, dir, head string) string {
	t.Helper()
	status := model.IndexStatus{IndexState: model.StateFresh, LastIndexedCommit: &head}
	data, err := json.Marshal(status)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "status.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFacadeSearch_FallsBackWhenIndexUnknown(t *testing.T) {
	dir, _ := gitRepoWithCommit(t)
	f := &Facade{RepoRoot: dir, StatusPath: filepath.Join(dir, "missing.json")}
	env := f.Search(context.Background(), "run_worker", 5)
	if env.Source != model.SourceLocalFallback {
		t.Fatalf("expected LOCAL_FALLBACK, got %s", env.Source)
	}
	if len(env.Items) == 0 {
		t.Fatalf("expected at least one local match for run_worker")
	}
}

func TestFacadeSearch_UsesRAGPathWhenFresh(t *testing.T) {
	dir, head := gitRepoWithCommit(t)
	statusPath := freshStatusPath(t, dir, head)

	s := openFacadeTestStore(t)
	fileID, err := s.UpsertFile(model.File{Path: "worker.py", Lang: "python", FileHash: "h1", Size: 10, MTime: 1})
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	span := model.Span{Symbol: "run_worker", Kind: "function", StartLine: 1, EndLine: 2, ByteStart: 0, ByteEnd: 20, SpanHash: "h:run_worker"}
	if err := s.ReplaceSpans(fileID, []model.Span{span}); err != nil {
		t.Fatalf("ReplaceSpans: %v", err)
	}
	if err := s.StoreEnrichment(model.Enrichment{SpanHash: span.SpanHash, Summary: "runs the background worker loop", SchemaVersion: "enrichment.v1"}); err != nil {
		t.Fatalf("StoreEnrichment: %v", err)
	}
	if _, err := s.RebuildFTS(); err != nil {
		t.Fatalf("RebuildFTS: %v", err)
	}

	f := &Facade{
		RepoRoot:   dir,
		StatusPath: statusPath,
		Store:      s,
		Rerank:     config.DefaultRerankWeights(),
		Scoring:    config.DefaultScoringConfig(),
	}
	env := f.Search(context.Background(), "run_worker", 5)
	if env.Source != model.SourceRAGGraph {
		t.Fatalf("expected RAG_GRAPH source, got %s", env.Source)
	}
	if env.FreshnessState != model.Fresh {
		t.Fatalf("expected FRESH, got %s", env.FreshnessState)
	}
	if len(env.Items) == 0 {
		t.Fatalf("expected at least one RAG hit")
	}
	if env.Items[0].File != "worker.py" {
		t.Errorf("expected worker.py as top hit, got %s", env.Items[0].File)
	}
}

func TestFacadeWhereUsed_ResolvesIncomingEdges(t *testing.T) {
	dir, head := gitRepoWithCommit(t)
	statusPath := freshStatusPath(t, dir, head)

	gsPath := filepath.Join(t.TempDir(), "graph.db")
	gs, err := graphstore.Open(gsPath)
	if err != nil {
		t.Fatalf("graphstore.Open: %v", err)
	}
	defer gs.Close()

	nodes := []model.GraphNode{
		{ID: "sym:worker.run_worker", Name: "run_worker", Path: "worker.py", Kind: "function"},
		{ID: "sym:main.start", Name: "start", Path: "main.py", Kind: "function"},
	}
	edges := []model.GraphEdge{
		{SourceID: "sym:main.start", TargetID: "sym:worker.run_worker", Label: model.EdgeCalls},
	}
	if err := gs.ReplaceGraph(context.Background(), nodes, edges); err != nil {
		t.Fatalf("ReplaceGraph: %v", err)
	}

	f := &Facade{RepoRoot: dir, StatusPath: statusPath, Graph: gs}
	env := f.WhereUsed(context.Background(), "run_worker", 10)
	if env.Source != model.SourceRAGGraph {
		t.Fatalf("expected RAG_GRAPH, got %s", env.Source)
	}
	if len(env.Items) != 1 || env.Items[0].File != "main.py" {
		t.Fatalf("expected [main.py] as caller, got %+v", env.Items)
	}
}

func TestFacadeWhereUsed_GrepFallbackWithoutGraph(t *testing.T) {
	dir, _ := gitRepoWithCommit(t)
	f := &Facade{RepoRoot: dir, StatusPath: filepath.Join(dir, "missing.json")}
	env := f.WhereUsed(context.Background(), "run_worker", 10)
	if env.Source != model.SourceLocalFallback {
		t.Fatalf("expected LOCAL_FALLBACK, got %s", env.Source)
	}
	if len(env.Items) == 0 {
		t.Fatalf("expected grep fallback to find run_worker in worker.py")
	}
}

func TestFacadeLineage_UpstreamVsDownstream(t *testing.T) {
	dir, head := gitRepoWithCommit(t)
	statusPath := freshStatusPath(t, dir, head)

	gsPath := filepath.Join(t.TempDir(), "graph.db")
	gs, err := graphstore.Open(gsPath)
	if err != nil {
		t.Fatalf("graphstore.Open: %v", err)
	}
	defer gs.Close()

	nodes := []model.GraphNode{
		{ID: "sym:worker.run_worker", Name: "run_worker", Path: "worker.py", Kind: "function"},
		{ID: "sym:main.start", Name: "start", Path: "main.py", Kind: "function"},
		{ID: "sym:worker.helper", Name: "helper", Path: "helper.py", Kind: "function"},
	}
	edges := []model.GraphEdge{
		{SourceID: "sym:main.start", TargetID: "sym:worker.run_worker", Label: model.EdgeCalls},
		{SourceID: "sym:worker.run_worker", TargetID: "sym:worker.helper", Label: model.EdgeCalls},
	}
	if err := gs.ReplaceGraph(context.Background(), nodes, edges); err != nil {
		t.Fatalf("ReplaceGraph: %v", err)
	}

	f := &Facade{RepoRoot: dir, StatusPath: statusPath, Graph: gs}

	upstream := f.Lineage(context.Background(), "run_worker", Upstream, 10)
	if len(upstream.Items) != 1 || upstream.Items[0].File != "main.py" {
		t.Fatalf("expected upstream=[main.py], got %+v", upstream.Items)
	}

	downstream := f.Lineage(context.Background(), "run_worker", Downstream, 10)
	if len(downstream.Items) != 1 || downstream.Items[0].File != "helper.py" {
		t.Fatalf("expected downstream=[helper.py], got %+v", downstream.Items)
	}
}
