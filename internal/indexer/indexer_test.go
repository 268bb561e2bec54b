package indexer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/llmc-dev/codeindex/internal/model"
	"github.com/llmc-dev/codeindex/internal/store"
)

// lineExtractor treats every non-blank line as its own span, for tests.
type lineExtractor struct{}

func (lineExtractor) Extract(path, lang string, source []byte) ([]model.Span, error) {
	var spans []model.Span
	lineNo := 0
	start := 0
	for i, b := range source {
		if b == '\n' {
			lineNo++
			if i > start {
				spans = append(spans, model.Span{
					Symbol: path, Kind: "line", StartLine: lineNo, EndLine: lineNo,
					ByteStart: start, ByteEnd: i,
				})
			}
			start = i + 1
		}
	}
	if start < len(source) {
		spans = append(spans, model.Span{Symbol: path, Kind: "line", StartLine: lineNo + 1, EndLine: lineNo + 1, ByteStart: start, ByteEnd: len(source)})
	}
	return spans, nil
}

func languageForGo(path string) string {
	if filepath.Ext(path) == ".go" {
		return "go"
	}
	return ""
}

func TestRun_IndexesAndSkipsUnchanged(t *testing.T) {
	repo := t.TempDir()
	if err := os.WriteFile(filepath.Join(repo, "main.go"), []byte("package main\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatalf("writing main.go: %v", err)
	}

	s, err := store.Open(filepath.Join(t.TempDir(), "index_v2.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer s.Close()

	ix := &Indexer{RepoRoot: repo, Store: s, Extractor: lineExtractor{}, LanguageFor: languageForGo}

	stats, err := ix.Run(nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Files != 1 || stats.Spans != 2 {
		t.Fatalf("expected 1 file / 2 spans, got %+v", stats)
	}

	stats, err = ix.Run(nil)
	if err != nil {
		t.Fatalf("Run (second pass): %v", err)
	}
	if stats.Unchanged != 1 || stats.Files != 0 {
		t.Fatalf("expected second pass to skip unchanged file, got %+v", stats)
	}
}

func TestRun_DeletesVanishedFile(t *testing.T) {
	repo := t.TempDir()
	target := filepath.Join(repo, "main.go")
	if err := os.WriteFile(target, []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("writing main.go: %v", err)
	}

	s, err := store.Open(filepath.Join(t.TempDir(), "index_v2.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer s.Close()

	ix := &Indexer{RepoRoot: repo, Store: s, Extractor: lineExtractor{}, LanguageFor: languageForGo}
	if _, err := ix.Run(nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if err := os.Remove(target); err != nil {
		t.Fatalf("removing main.go: %v", err)
	}

	stats, err := ix.Run([]string{"main.go"})
	if err != nil {
		t.Fatalf("Run (scoped, after delete): %v", err)
	}
	if stats.Deleted != 1 {
		t.Fatalf("expected 1 deleted file, got %+v", stats)
	}

	hash, ok, err := s.GetFileHash("main.go")
	if err != nil {
		t.Fatalf("GetFileHash: %v", err)
	}
	if ok {
		t.Fatalf("expected file row to be gone, got hash=%q", hash)
	}
}

func TestRun_IgnoresExcludedDirectories(t *testing.T) {
	repo := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repo, "node_modules", "pkg"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(repo, "node_modules", "pkg", "lib.go"), []byte("package pkg\n"), 0o644); err != nil {
		t.Fatalf("writing excluded file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(repo, "main.go"), []byte("package main\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatalf("writing main.go: %v", err)
	}

	s, err := store.Open(filepath.Join(t.TempDir(), "index_v2.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer s.Close()

	ix := &Indexer{RepoRoot: repo, Store: s, Extractor: lineExtractor{}, LanguageFor: languageForGo}
	stats, err := ix.Run(nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Files != 1 {
		t.Fatalf("expected only main.go indexed, got %+v", stats)
	}
}
