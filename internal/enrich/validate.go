// Package enrich implements the LLM enrichment cascade: prompt construction,
// JSON response parsing, schema validation, and persistence of the resulting
// Enrichment onto a span, plus the three scheduling variants that drive it
// (single-threaded code-first, conveyor-belt worker pool, and multi-process
// pool workers pulling from the global Work Queue).
package enrich

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	maxSummaryWords    = 120
	maxUsageLines      = 12
	maxFieldChars      = 1200
	schemaVersionLabel = "enrichment.v1"
)

// Payload is the raw, not-yet-validated structure an LLM backend returns for
// one span. Field names mirror the wire contract handed to the model.
type Payload struct {
	Summary120w   string     `json:"summary_120w"`
	Inputs        []string   `json:"inputs"`
	Outputs       []string   `json:"outputs"`
	SideEffects   []string   `json:"side_effects"`
	Pitfalls      []string   `json:"pitfalls"`
	UsageSnippet  *string    `json:"usage_snippet"`
	Evidence      []Evidence `json:"evidence"`
	Model         string     `json:"model,omitempty"`
	SchemaVersion string     `json:"schema_version,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
}

// Evidence ties one claim to an exact line range within the span.
type Evidence struct {
	Field string `json:"field"`
	Lines []int  `json:"lines"`
}

// ValidationError collects every rule a payload failed, rather than bailing
// on the first one — callers report the full list back to the work queue.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("enrichment validation failed: %s", strings.Join(e.Issues, "; "))
}

// Validate checks a decoded payload against the schema shape, the span's
// own line range, and the word/line caps that keep summaries terse.
// enforceLatin1, when set, additionally rejects non-Latin-1 text in the
// free-text fields — some downstream consumers can't render outside it.
func Validate(p Payload, spanStart, spanEnd int, enforceLatin1 bool) error {
	var issues []string

	if p.Summary120w == "" {
		issues = append(issues, "summary_120w is required")
	}
	if len(p.Summary120w) > maxFieldChars {
		issues = append(issues, "summary_120w exceeds max length")
	}
	if p.UsageSnippet != nil && len(*p.UsageSnippet) > maxFieldChars {
		issues = append(issues, "usage_snippet exceeds max length")
	}
	if p.Inputs == nil || p.Outputs == nil || p.SideEffects == nil || p.Pitfalls == nil {
		issues = append(issues, "inputs/outputs/side_effects/pitfalls must all be arrays")
	}

	for _, ev := range p.Evidence {
		if ev.Field == "" {
			issues = append(issues, "evidence entry missing field")
			continue
		}
		if !withinRange(ev.Lines, spanStart, spanEnd) {
			issues = append(issues, fmt.Sprintf("evidence lines out of range: %s %v", ev.Field, ev.Lines))
		}
	}

	if words := len(strings.Fields(p.Summary120w)); words > maxSummaryWords {
		issues = append(issues, fmt.Sprintf("summary_120w exceeds %d words (%d)", maxSummaryWords, words))
	}

	if p.UsageSnippet != nil {
		if lines := strings.Count(*p.UsageSnippet, "\n") + 1; lines > maxUsageLines {
			issues = append(issues, fmt.Sprintf("usage_snippet exceeds %d lines (%d)", maxUsageLines, lines))
		}
	}

	if enforceLatin1 {
		issues = append(issues, checkLatin1("summary_120w", p.Summary120w)...)
		if p.UsageSnippet != nil {
			issues = append(issues, checkLatin1("usage_snippet", *p.UsageSnippet)...)
		}
		issues = append(issues, checkLatin1List("inputs", p.Inputs)...)
		issues = append(issues, checkLatin1List("outputs", p.Outputs)...)
		issues = append(issues, checkLatin1List("side_effects", p.SideEffects)...)
		issues = append(issues, checkLatin1List("pitfalls", p.Pitfalls)...)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func withinRange(lines []int, start, end int) bool {
	if len(lines) != 2 {
		return false
	}
	a, b := lines[0], lines[1]
	return a >= start && a <= end && b >= start && b <= end
}

func isLatin1Safe(s string) bool {
	for _, r := range s {
		if r > unicode.MaxLatin1 {
			return false
		}
	}
	return true
}

func checkLatin1(field, val string) []string {
	if !isLatin1Safe(val) {
		return []string{fmt.Sprintf("%s contains non-Latin-1 characters", field)}
	}
	return nil
}

func checkLatin1List(field string, items []string) []string {
	var issues []string
	for i, item := range items {
		if !isLatin1Safe(item) {
			issues = append(issues, fmt.Sprintf("%s[%d] contains non-Latin-1 characters", field, i))
		}
	}
	return issues
}
