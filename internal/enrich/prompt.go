package enrich

import (
	"fmt"
	"strings"

	"github.com/llmc-dev/codeindex/internal/model"
)

// maxSnippetChars bounds how much source text is sent to the model per span,
// keeping prompts cheap even for very large spans.
const maxSnippetChars = 800

// contract is the machine-readable field/word-cap block appended to every
// prompt so the model has no excuse for drifting from the schema.
type contract struct {
	SchemaVersion string         `json:"schema_version"`
	Fields        []string       `json:"fields"`
	WordCaps      map[string]int `json:"word_caps"`
	Instructions  string         `json:"instructions"`
}

func defaultContract() contract {
	return contract{
		SchemaVersion: schemaVersionLabel,
		Fields:        []string{"summary_120w", "inputs", "outputs", "side_effects", "pitfalls", "usage_snippet", "evidence"},
		WordCaps:      map[string]int{"summary_120w": maxSummaryWords, "usage_snippet": maxUsageLines},
		Instructions:  "Return ONLY valid JSON per schema. Cite exact line ranges for every claim. If unsure, use null.",
	}
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit-1] + "…"
}

// BuildPrompt renders the full prompt text sent to a chat backend for one
// span: a content-type header (so the model doesn't mistake docs for code),
// the truncated source, and the JSON contract instructions.
func BuildPrompt(span model.Span, source string, maxChars int) string {
	var header []string
	header = append(header, fmt.Sprintf("[CONTENT_TYPE: %s]", span.SliceType))
	if span.SliceLanguage != "" {
		header = append(header, fmt.Sprintf("[LANGUAGE: %s]", span.SliceLanguage))
	}

	snippet := truncate(source, maxSnippetChars)
	if maxChars > 0 {
		snippet = truncate(snippet, maxChars)
	}

	c := defaultContract()

	var b strings.Builder
	b.WriteString(strings.Join(header, "\n"))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "path: %s\n", span.FilePath)
	fmt.Fprintf(&b, "lines: %d-%d\n\n", span.StartLine, span.EndLine)
	b.WriteString(snippet)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "schema_version: %s\n", c.SchemaVersion)
	fmt.Fprintf(&b, "fields: %s\n", strings.Join(c.Fields, ", "))
	fmt.Fprintf(&b, "word_caps: summary_120w<=%d words, usage_snippet<=%d lines\n", c.WordCaps["summary_120w"], c.WordCaps["usage_snippet"])
	b.WriteString(c.Instructions)
	return b.String()
}

// FormatEmbeddingText renders the text sent to an embedding backend for one
// span: a locator line plus the body, capped well below typical batch
// payload limits.
func FormatEmbeddingText(span model.Span, source string) string {
	body := truncate(source, 4000)
	return fmt.Sprintf("%s • %s • lines %d-%d\n\n%s", span.FilePath, span.Lang, span.StartLine, span.EndLine, body)
}
