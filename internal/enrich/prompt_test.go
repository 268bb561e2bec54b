package enrich

import (
	"strings"
	"testing"

	"github.com/llmc-dev/codeindex/internal/model"
)

func TestBuildPrompt_IncludesContentTypeHeader(t *testing.T) {
	span := model.Span{FilePath: "a.go", Lang: "go", SliceType: model.SliceCode, SliceLanguage: "go", StartLine: 1, EndLine: 5}
	prompt := BuildPrompt(span, "func f() {}", 0)
	if !strings.Contains(prompt, "[CONTENT_TYPE: code]") {
		t.Errorf("prompt missing content type header: %s", prompt)
	}
	if !strings.Contains(prompt, "[LANGUAGE: go]") {
		t.Errorf("prompt missing language header: %s", prompt)
	}
}

func TestBuildPrompt_TruncatesLongSource(t *testing.T) {
	span := model.Span{FilePath: "a.go", SliceType: model.SliceCode, StartLine: 1, EndLine: 5}
	source := strings.Repeat("x", 2000)
	prompt := BuildPrompt(span, source, 0)
	if strings.Count(prompt, "x") >= 2000 {
		t.Errorf("expected source truncated to maxSnippetChars, got %d x's", strings.Count(prompt, "x"))
	}
}

func TestFormatEmbeddingText_IncludesLocator(t *testing.T) {
	span := model.Span{FilePath: "pkg/a.go", Lang: "go", StartLine: 3, EndLine: 9}
	text := FormatEmbeddingText(span, "body")
	if !strings.Contains(text, "pkg/a.go") || !strings.Contains(text, "lines 3-9") {
		t.Errorf("text missing locator: %s", text)
	}
}
