package retrieval

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/llmc-dev/codeindex/internal/config"
)

// Intent is the heuristic query-shape classification used to bias the
// extension boost between code and docs results.
type Intent string

const (
	IntentDocs    Intent = "docs"
	IntentCode    Intent = "code"
	IntentNeutral Intent = "neutral"
)

var docsIndicators = []string{"how to", "guide", "tutorial", "explain", "overview", "what is"}
var codeIndicators = []string{"function", "class", "def ", "import ", "return ", "async "}

// DetectIntent classifies a query as code-seeking, docs-seeking, or neutral
// using the same ordered heuristics as scoring.py's detect_intent.
func DetectIntent(query string, cfg config.ScoringConfig) Intent {
	if !cfg.EnableIntentDetection {
		return IntentNeutral
	}

	q := strings.ToLower(query)
	for _, w := range docsIndicators {
		if strings.Contains(q, w) {
			return IntentDocs
		}
	}
	for _, w := range codeIndicators {
		if strings.Contains(q, w) {
			return IntentCode
		}
	}

	for _, word := range strings.Fields(query) {
		if strings.Contains(word, "_") && !strings.HasPrefix(word, "_") && !strings.HasSuffix(word, "_") {
			return IntentCode
		}
		if isCamelCase(word) {
			return IntentCode
		}
	}
	return IntentNeutral
}

func isCamelCase(word string) bool {
	hasUpper, hasLower := false, false
	for _, r := range word {
		if unicode.IsUpper(r) {
			hasUpper = true
		}
		if unicode.IsLower(r) {
			hasLower = true
		}
	}
	return hasUpper && hasLower
}

// ScoreExtension adjusts a result's score based on its file extension and
// the detected query intent: code extensions are boosted (unless the
// query wants docs), docs extensions are boosted for docs intent, and
// anything that looks like a test file is penalized ahead of either check.
func ScoreExtension(path string, intent Intent, cfg config.ScoringConfig) float64 {
	pathLower := strings.ToLower(path)
	ext := strings.ToLower(filepath.Ext(path))

	codeBoost, docPenalty := cfg.CodeBoost, cfg.DocPenalty
	switch intent {
	case IntentDocs:
		codeBoost, docPenalty = -0.05, 0.10
	case IntentCode:
		codeBoost *= 1.5
		docPenalty *= 1.5
	}

	if strings.Contains(pathLower, "test") || strings.Contains(pathLower, "/tests/") {
		return cfg.TestPenalty
	}
	if containsExt(cfg.CodeExtensions, ext) {
		return codeBoost
	}
	if containsExt(cfg.DocExtensions, ext) {
		return docPenalty
	}
	return 0
}

func containsExt(exts []string, ext string) bool {
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

// ScoreFilenameMatch boosts results whose basename or stem matches the raw
// query text, on the theory that a query naming a file is looking for it.
func ScoreFilenameMatch(query, path string, cfg config.ScoringConfig) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}

	basename := strings.ToLower(filepath.Base(path))
	stem := strings.TrimSuffix(basename, filepath.Ext(basename))

	switch {
	case q == basename:
		return cfg.ExactMatchBoost
	case q == stem:
		return cfg.StemMatchBoost
	case strings.Contains(basename, q):
		return cfg.PartialMatchBoost
	default:
		return 0
	}
}

// ApplyIntentScoring layers the extension and filename-match adjustments
// onto a reranked hit's composite score, mutating a copy.
func ApplyIntentScoring(query string, hits []Scored, cfg config.ScoringConfig) []Scored {
	intent := DetectIntent(query, cfg)
	out := make([]Scored, len(hits))
	for i, h := range hits {
		adjusted := h
		adjusted.Score += ScoreExtension(h.Path, intent, cfg)
		adjusted.Score += ScoreFilenameMatch(query, h.Path, cfg)
		out[i] = adjusted
	}
	return out
}
